package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestGetVersion(t *testing.T) {
	t.Parallel()

	if v := getVersion(); v == "" {
		t.Error("expected non-empty version string")
	}
}

func TestGetCommit(t *testing.T) {
	t.Parallel()

	if c := getCommit(); c == "" {
		t.Error("expected non-empty commit string")
	}
}

func TestGetDate(t *testing.T) {
	t.Parallel()

	if d := getDate(); d == "" {
		t.Error("expected non-empty date string")
	}
}

func TestNewVersionCmd(t *testing.T) {
	t.Parallel()

	t.Run("has correct use", func(t *testing.T) {
		t.Parallel()
		cmd := NewVersionCmd()
		if cmd.Use != "version" {
			t.Errorf("expected use 'version', got %q", cmd.Use)
		}
	})

	t.Run("prints version information", func(t *testing.T) {
		t.Parallel()
		cmd := NewVersionCmd()
		out := &bytes.Buffer{}
		cmd.SetOut(out)
		cmd.SetErr(out)

		if err := cmd.Execute(); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(out.String(), "refgrab version") {
			t.Errorf("expected version output, got %q", out.String())
		}
	})
}
