package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if !cfg.Forms.Builtin {
		t.Fatalf("default should ship builtin forms")
	}
	ttl, err := cfg.TokenTTL()
	if err != nil || ttl != 24*time.Hour {
		t.Fatalf("ttl = %v, %v", ttl, err)
	}
}

func TestFromYAMLRoundTrip(t *testing.T) {
	out, err := Default().YAML()
	if err != nil {
		t.Fatalf("yaml: %v", err)
	}
	cfg, err := FromYAML([]byte(out))
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if cfg.Event.Name != "Student Formal" {
		t.Fatalf("event name = %q", cfg.Event.Name)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(c *Config)
		msg    string
	}{
		{"missing event", func(c *Config) { c.Event.Name = "" }, "event.name"},
		{"bad ttl", func(c *Config) { c.Auth.TokenTTL = "forever" }, "token_ttl"},
		{"bad prefix", func(c *Config) { c.Tickets.CodePrefix = "fl-1" }, "code_prefix"},
		{"missing admin role", func(c *Config) { delete(c.RBAC.Roles, "admin") }, "must include admin"},
		{"bad webhook", func(c *Config) { c.Webhooks = []WebhookConfig{{URL: "ftp://x"}} }, "webhooks[0].url"},
		{"unknown webhook event", func(c *Config) {
			c.Webhooks = []WebhookConfig{{URL: "https://hooks.example/x", Events: []string{"tickets.*"}}}
		}, "matches no event type"},
		{"unknown permission", func(c *Config) {
			c.RBAC.Roles["user"] = RBACRole{Permissions: []string{"tickets.refund"}}
		}, "unknown permission"},
		{"bad admin email", func(c *Config) { c.Auth.Admins = []string{"root"} }, "not an email"},
	}
	for _, tc := range cases {
		cfg := Default()
		tc.mutate(cfg)
		err := cfg.Validate()
		if err == nil || !strings.Contains(err.Error(), tc.msg) {
			t.Errorf("%s: expected error mentioning %q, got %v", tc.name, tc.msg, err)
		}
	}
}

func TestFromYAMLRejectsUnknownKeys(t *testing.T) {
	data := GenerateDefault("Gala") + "\nsurprise: true\n"
	if _, err := FromYAML([]byte(data)); err == nil {
		t.Fatalf("expected unknown key error")
	}
}

func TestIsAdminEmail(t *testing.T) {
	cfg := Default()
	cfg.Auth.Admins = []string{"Head@School.edu"}
	if !cfg.IsAdminEmail("head@school.edu") {
		t.Fatalf("admin match should ignore case")
	}
	if cfg.IsAdminEmail("pupil@school.edu") {
		t.Fatalf("unexpected admin")
	}
}
