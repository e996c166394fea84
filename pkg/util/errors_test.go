package util

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestConfigurationError(t *testing.T) {
	t.Run("single", func(t *testing.T) {
		err := NewConfigurationError("environment variable VIRL_HOST is not set")
		if got := err.Error(); got != "configuration error: environment variable VIRL_HOST is not set" {
			t.Errorf("Error() = %q", got)
		}
		if !errors.Is(err, ErrConfiguration) {
			t.Error("ConfigurationError should unwrap to ErrConfiguration")
		}
	})

	t.Run("multiple", func(t *testing.T) {
		err := NewConfigurationError("environment variable VIRL_HOST is not set", "environment variable CML_SSH_PORT is not set")
		msg := err.Error()
		if !strings.Contains(msg, "  - environment variable VIRL_HOST") || !strings.Contains(msg, "CML_SSH_PORT") {
			t.Errorf("Error() = %q", msg)
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		err := fmt.Errorf("harness: %w", NewConfigurationError("lab file missing"))
		var cfgErr *ConfigurationError
		if !errors.As(err, &cfgErr) {
			t.Fatal("errors.As should find ConfigurationError")
		}
		if len(cfgErr.Problems) != 1 {
			t.Errorf("Problems = %v", cfgErr.Problems)
		}
	})
}

func TestLabUnavailableError(t *testing.T) {
	cause := errors.New("context deadline exceeded")
	err := &LabUnavailableError{Lab: "9fde5f", Stage: "converge", Timeout: 10 * time.Minute, Err: cause}

	want := "lab 9fde5f unavailable at converge after 10m0s: context deadline exceeded"
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(err, ErrLabUnavailable) {
		t.Error("should match ErrLabUnavailable")
	}
	if !errors.Is(err, cause) {
		t.Error("should match the underlying cause")
	}

	bare := &LabUnavailableError{Stage: "import"}
	if got := bare.Error(); got != "lab unavailable at import" {
		t.Errorf("Error() = %q", got)
	}
	if !errors.Is(bare, ErrLabUnavailable) {
		t.Error("bare error should match ErrLabUnavailable")
	}
}

func TestValidationBuilder(t *testing.T) {
	var vb ValidationBuilder
	vb.Add(true, "never").
		Add(false, "node n0 has no label").
		AddErrorf("link %s references unknown node %s", "l0", "n9")

	if !vb.HasErrors() {
		t.Fatal("HasErrors() = false")
	}
	if len(vb.Messages()) != 2 {
		t.Errorf("Messages() = %v", vb.Messages())
	}
	err := vb.Build()
	if !errors.Is(err, ErrValidationFailed) {
		t.Errorf("Build() = %v, want ErrValidationFailed", err)
	}

	var empty ValidationBuilder
	if empty.Build() != nil {
		t.Error("empty builder should build nil")
	}
}
