package daemonservice

import "testing"

func TestResolveInboundRateConfigInvalidValuesFallbackToDefaults(t *testing.T) {
	t.Setenv("UMBRA_INBOUND_RATE_LIMIT_ENABLED", "maybe")
	t.Setenv("UMBRA_INBOUND_RATE_RPS", "not_a_number")
	t.Setenv("UMBRA_INBOUND_RATE_BURST", "")

	cfg := resolveInboundRateConfig()
	if !cfg.Enabled {
		t.Fatal("enabled must fall back to true")
	}
	if cfg.RPS != 25 {
		t.Fatalf("rps must fall back to 25, got=%d", cfg.RPS)
	}
	if cfg.Burst != 50 {
		t.Fatalf("burst must fall back to 50, got=%d", cfg.Burst)
	}
}

func TestResolveInboundRateConfigClampsBounds(t *testing.T) {
	t.Setenv("UMBRA_INBOUND_RATE_RPS", "999999")
	t.Setenv("UMBRA_INBOUND_RATE_BURST", "-4")

	cfg := resolveInboundRateConfig()
	if cfg.RPS != 1000 {
		t.Fatalf("expected rps to clamp at 1000, got=%d", cfg.RPS)
	}
	if cfg.Burst != 1 {
		t.Fatalf("expected burst to clamp at 1, got=%d", cfg.Burst)
	}
}

func TestEnvBoolWithFallbackRecognizedForms(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{"1", true},
		{"true", true},
		{"YES", true},
		{"on", true},
		{"0", false},
		{"false", false},
		{"No", false},
		{"off", false},
	}
	for _, tc := range cases {
		t.Setenv("UMBRA_ENV_BOOL_PROBE", tc.raw)
		if got := envBoolWithFallback("UMBRA_ENV_BOOL_PROBE", !tc.want); got != tc.want {
			t.Fatalf("value %q: got=%v want=%v", tc.raw, got, tc.want)
		}
	}
}
