package domain

import "testing"

func validTopology() ServiceTopology {
	return ServiceTopology{
		Name:        "shop",
		Domain:      "shop.example.com",
		ComposeFile: "/srv/shop/docker-compose.yml",
		SubServices: map[string]SubServiceSpec{
			"backend":  {ContainerBaseName: "shop-backend", ContainerPort: 3000},
			"frontend": {ContainerBaseName: "shop-frontend", ContainerPort: 8080},
		},
	}
}

func TestValidateAcceptsValidTopology(t *testing.T) {
	if err := validTopology().Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidateRejectsDuplicateBaseNames(t *testing.T) {
	topo := validTopology()
	topo.SubServices["frontend"] = SubServiceSpec{ContainerBaseName: "shop-backend"}
	if err := topo.Validate(); err == nil {
		t.Fatalf("expected duplicate container base name to be rejected")
	}
}

func TestValidateRejectsMissingFields(t *testing.T) {
	for name, mutate := range map[string]func(*ServiceTopology){
		"no name":         func(topo *ServiceTopology) { topo.Name = "" },
		"no domain":       func(topo *ServiceTopology) { topo.Domain = "" },
		"no compose file": func(topo *ServiceTopology) { topo.ComposeFile = "" },
		"no sub-services": func(topo *ServiceTopology) { topo.SubServices = nil },
	} {
		topo := validTopology()
		mutate(&topo)
		if err := topo.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestNormalizeAppliesDefaults(t *testing.T) {
	topo := validTopology()
	topo.SubServices["backend"] = SubServiceSpec{ContainerBaseName: "shop-backend"}
	normalized := topo.Normalize()

	sub := normalized.SubServices["backend"]
	if sub.HealthEndpoint != DefaultHealthEndpoint {
		t.Fatalf("expected default health endpoint, got %q", sub.HealthEndpoint)
	}
	if sub.HealthRetries != DefaultHealthRetries {
		t.Fatalf("expected default retries, got %d", sub.HealthRetries)
	}
	if sub.HealthTimeoutSecs != DefaultHealthTimeoutSecs {
		t.Fatalf("expected default timeout, got %d", sub.HealthTimeoutSecs)
	}
	if sub.StartupTimeSeconds != DefaultStartupTimeSeconds {
		t.Fatalf("expected default startup time, got %d", sub.StartupTimeSeconds)
	}

	// The original topology is left untouched.
	if topo.SubServices["backend"].HealthEndpoint != "" {
		t.Fatalf("Normalize must not mutate its receiver")
	}
}

func TestNormalizePrefixesEndpointSlash(t *testing.T) {
	topo := validTopology()
	sub := topo.SubServices["backend"]
	sub.HealthEndpoint = "healthz"
	topo.SubServices["backend"] = sub

	normalized := topo.Normalize()
	if got := normalized.SubServices["backend"].HealthEndpoint; got != "/healthz" {
		t.Fatalf("expected /healthz, got %q", got)
	}
}

func TestSubServiceKeysSorted(t *testing.T) {
	topo := validTopology()
	keys := topo.SubServiceKeys()
	if len(keys) != 2 || keys[0] != "backend" || keys[1] != "frontend" {
		t.Fatalf("expected sorted keys, got %v", keys)
	}
}
