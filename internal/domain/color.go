package domain

import "fmt"

// Color identifies one of the two deployment slots for a service. At most
// one color receives production traffic at a time.
type Color string

const (
	ColorBlue  Color = "blue"
	ColorGreen Color = "green"
)

// Other returns the opposite color.
func (c Color) Other() Color {
	if c == ColorBlue {
		return ColorGreen
	}
	return ColorBlue
}

// Valid reports whether c is one of the two known colors.
func (c Color) Valid() bool {
	return c == ColorBlue || c == ColorGreen
}

func (c Color) String() string {
	return string(c)
}

// ParseColor converts a string into a Color.
func ParseColor(raw string) (Color, error) {
	c := Color(raw)
	if !c.Valid() {
		return "", fmt.Errorf("unknown color %q (expected %q or %q)", raw, ColorBlue, ColorGreen)
	}
	return c, nil
}

// ContainerName appends the color suffix to a sub-service's container base
// name. Colors are never encoded in the topology itself.
func ContainerName(base string, color Color) string {
	return base + "-" + string(color)
}
