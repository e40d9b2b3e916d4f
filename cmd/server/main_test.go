package main

import (
	"bytes"
	"strings"
	"testing"

	"fleetwarden/internal/auth"
)

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version", "--env-file", "does-not-exist.env"})
	if code := execute(cmd); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.HasPrefix(out.String(), "fleetwarden dev") {
		t.Fatalf("unexpected output %q", out.String())
	}
}

func TestTokenCmd(t *testing.T) {
	t.Setenv("MASTER_SECRET", "s3cret")
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--operator", "ops", "--env-file", "does-not-exist.env"})
	if code := execute(cmd); code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}
	claims, err := auth.VerifyToken(strings.TrimSpace(out.String()), auth.DefaultTokenConfig("s3cret"))
	if err != nil {
		t.Fatalf("VerifyToken: %v", err)
	}
	if claims.Operator != "ops" {
		t.Fatalf("expected operator ops, got %q", claims.Operator)
	}
}

func TestTokenCmd_MissingSecret(t *testing.T) {
	t.Setenv("MASTER_SECRET", "")
	cmd := newRootCmd()
	cmd.SetArgs([]string{"token", "--env-file", "does-not-exist.env"})
	if code := execute(cmd); code == 0 {
		t.Fatalf("expected failure without MASTER_SECRET")
	}
}
