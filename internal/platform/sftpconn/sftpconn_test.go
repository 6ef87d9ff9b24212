package sftpconn

import (
	"strings"
	"testing"
)

func TestConfigValidate(t *testing.T) {
	cfg := Config{Host: "sftp.example.com", User: "etl", Password: "secret"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() err=%v", err)
	}

	invalid := cfg
	invalid.Host = ""
	if err := invalid.Validate(); err == nil {
		t.Fatalf("expected host error")
	}

	invalid = cfg
	invalid.Password = ""
	if err := invalid.Validate(); err == nil {
		t.Fatalf("expected credentials error")
	}

	invalid = cfg
	invalid.Port = 70000
	if err := invalid.Validate(); err == nil {
		t.Fatalf("expected port error")
	}
}

func TestHostKeyCallback(t *testing.T) {
	cb, err := hostKeyCallback("")
	if err != nil || cb == nil {
		t.Fatalf("empty host key must fall back to insecure callback: %v", err)
	}

	if _, err := hostKeyCallback("not a key"); err == nil || !strings.Contains(err.Error(), "parse host key") {
		t.Fatalf("expected parse error, got %v", err)
	}
}

func TestAuthMethodsRejectsBadKey(t *testing.T) {
	_, err := authMethods(Config{Host: "h", User: "u", PrivateKey: []byte("garbage")})
	if err == nil {
		t.Fatalf("expected private key parse error")
	}
}
