package config

import (
	"bytes"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"formline/internal/engine/auth"
	"formline/internal/events"
)

// Config models formline.yml.
type Config struct {
	Event struct {
		Name string `yaml:"name" json:"name"`
		Date string `yaml:"date" json:"date,omitempty"`
	} `yaml:"event" json:"event"`
	Forms struct {
		Builtin bool     `yaml:"builtin" json:"builtin"`
		Paths   []string `yaml:"paths" json:"paths,omitempty"`
	} `yaml:"forms" json:"forms"`
	Auth struct {
		JWTSecretEnv string   `yaml:"jwt_secret_env" json:"jwt_secret_env"`
		TokenTTL     string   `yaml:"token_ttl" json:"token_ttl"`
		Admins       []string `yaml:"admins" json:"admins,omitempty"`
	} `yaml:"auth" json:"auth"`
	Tickets struct {
		CodePrefix string `yaml:"code_prefix" json:"code_prefix"`
		SecretEnv  string `yaml:"secret_env" json:"secret_env"`
	} `yaml:"tickets" json:"tickets"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles" json:"roles"`
	} `yaml:"rbac" json:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type RBACRole struct {
	Description string   `yaml:"description" json:"description,omitempty"`
	Permissions []string `yaml:"permissions" json:"permissions"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

var codePrefixRe = regexp.MustCompile(`^[A-Z0-9]{2,8}$`)

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Event.Name) == "" {
		return fmt.Errorf("config.event.name is required")
	}
	if c.Event.Date != "" {
		if _, err := time.Parse("2006-01-02", c.Event.Date); err != nil {
			return fmt.Errorf("config.event.date must be YYYY-MM-DD")
		}
	}
	for _, p := range c.Forms.Paths {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("config.forms.paths contains an empty path")
		}
	}
	if c.Auth.JWTSecretEnv == "" {
		return fmt.Errorf("config.auth.jwt_secret_env is required")
	}
	if _, err := c.TokenTTL(); err != nil {
		return err
	}
	for _, email := range c.Auth.Admins {
		if !strings.Contains(email, "@") {
			return fmt.Errorf("config.auth.admins: %q is not an email", email)
		}
	}
	if !codePrefixRe.MatchString(c.Tickets.CodePrefix) {
		return fmt.Errorf("config.tickets.code_prefix must be 2-8 upper-case letters or digits")
	}
	if c.Tickets.SecretEnv == "" {
		return fmt.Errorf("config.tickets.secret_env is required")
	}
	if len(c.RBAC.Roles) == 0 {
		return fmt.Errorf("config.rbac.roles is required")
	}
	for _, required := range []string{"admin", "user"} {
		if _, ok := c.RBAC.Roles[required]; !ok {
			return fmt.Errorf("config.rbac.roles must include %s", required)
		}
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
			if !auth.Known(perm) {
				return fmt.Errorf("role %s grants unknown permission %q", roleID, perm)
			}
		}
	}
	for i, hook := range c.Webhooks {
		u, err := url.Parse(hook.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.webhooks[%d].url must be an http(s) URL", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
		for _, p := range hook.Events {
			if !events.ValidPattern(strings.TrimSpace(p)) {
				return fmt.Errorf("config.webhooks[%d].events: %q matches no event type", i, p)
			}
		}
	}
	return nil
}

// TokenTTL parses auth.token_ttl, defaulting to 24h.
func (c *Config) TokenTTL() (time.Duration, error) {
	if c.Auth.TokenTTL == "" {
		return 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("config.auth.token_ttl must be a positive duration")
	}
	return d, nil
}

// IsAdminEmail reports whether email is promoted to admin on registration.
func (c *Config) IsAdminEmail(email string) bool {
	for _, a := range c.Auth.Admins {
		if strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(email)) {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "formline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(eventName string) string {
	return fmt.Sprintf(defaultTemplate, eventName)
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault("Student Formal"))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with fl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// YAML renders the config back to YAML.
func (c *Config) YAML() (string, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return "", err
	}
	return buf.String(), nil
}

const defaultTemplate = `event:
  name: %q

forms:
  # ship the six built-in templates (registration, table booking, feedback...)
  builtin: true
  paths: []

auth:
  jwt_secret_env: FORMLINE_JWT_SECRET
  token_ttl: 24h
  admins: []

tickets:
  code_prefix: FL1
  secret_env: FORMLINE_TICKET_SECRET

rbac:
  roles:
    admin:
      description: "Organisers: import forms, verify tickets, confirm payments"
      permissions:
        - forms.read
        - forms.import
        - submissions.create
        - submissions.read.own
        - submissions.read.all
        - tickets.read.own
        - tickets.read.all
        - tickets.verify
        - tickets.pay
        - guests.manage
        - events.read
        - apikeys.manage
    user:
      description: "Attendees: fill forms and view their own tickets"
      permissions:
        - forms.read
        - submissions.create
        - submissions.read.own
        - tickets.read.own
        - guests.manage

webhooks: []
`
