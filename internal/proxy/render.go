// Package proxy renders per-color upstream documents and performs the
// atomic pointer switch that redirects live traffic.
package proxy

import (
	"fmt"
	"strings"

	"github.com/tandemops/switchyard/internal/docker"
	"github.com/tandemops/switchyard/internal/domain"
)

// downPlaceholder keeps an upstream block syntactically valid when neither
// color has a live container. nginx rejects empty upstream blocks.
const downPlaceholder = "server 127.0.0.1:1 down;"

// Synthesizer renders upstream documents from topology and live container
// presence.
type Synthesizer struct{}

// NewSynthesizer creates a synthesizer.
func NewSynthesizer() *Synthesizer {
	return &Synthesizer{}
}

// UpstreamName derives the nginx upstream block name for a sub-service.
func UpstreamName(service, subService string) string {
	return sanitize(service) + "_" + sanitize(subService)
}

func sanitize(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Render produces the upstream document for a target color. Servers that
// exist as live containers for the target color are primary; the other
// color's live containers are weighted backups. The document never
// references a nonexistent backend and is never empty.
func (s *Synthesizer) Render(topo domain.ServiceTopology, target domain.Color, live []docker.Container) (string, error) {
	if !target.Valid() {
		return "", fmt.Errorf("invalid target color %q", target)
	}
	running := make(map[string]bool, len(live))
	for _, c := range live {
		if c.IsRunning() {
			running[c.Name] = true
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "# %s upstreams (%s)\n", topo.Domain, target)
	for _, key := range topo.SubServiceKeys() {
		spec := topo.SubServices[key]
		if spec.ContainerPort <= 0 {
			return "", fmt.Errorf("sub-service %s has no resolved container port", key)
		}
		fmt.Fprintf(&b, "upstream %s {\n", UpstreamName(topo.Name, key))

		lines := make([]string, 0, 2)
		primary := domain.ContainerName(spec.ContainerBaseName, target)
		if running[primary] {
			lines = append(lines, fmt.Sprintf("    server %s:%d weight=100;", primary, spec.ContainerPort))
		}
		backup := domain.ContainerName(spec.ContainerBaseName, target.Other())
		if running[backup] {
			lines = append(lines, fmt.Sprintf("    server %s:%d backup;", backup, spec.ContainerPort))
		}
		if len(lines) == 0 {
			lines = append(lines, "    "+downPlaceholder)
		}
		for _, line := range lines {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("}\n")
	}
	return b.String(), nil
}
