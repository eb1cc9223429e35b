package adapter

import (
	"errors"
	"testing"
)

func TestClassifySensitivity(t *testing.T) {
	cases := []struct {
		name, description string
		want              SensitivityTier
	}{
		{"get_payment_token", "", SensitivityCritical},
		{"delete_record", "", SensitivityHigh},
		{"write_file", "", SensitivityMedium},
		{"read_file", "", SensitivityLow},
		{"ping", "", SensitivityMedium},
	}
	for _, c := range cases {
		if got := ClassifySensitivity(c.name, c.description); got != c.want {
			t.Errorf("ClassifySensitivity(%q) = %q, want %q", c.name, got, c.want)
		}
	}
}

func TestErrorWithResourceAndCapability(t *testing.T) {
	base := NewError(ErrInvocation, "mcp", errors.New("boom"))
	scoped := base.WithResource("res-1").WithCapability("cap-1")

	if scoped.ResourceID != "res-1" || scoped.CapabilityID != "cap-1" {
		t.Fatalf("expected scoped error to carry resource/capability ids, got %+v", scoped)
	}
	if base.ResourceID != "" {
		t.Fatalf("expected base error to remain unmodified")
	}
	if !errors.Is(scoped, scoped) {
		t.Fatalf("expected scoped error to satisfy errors.Is with itself")
	}
}
