package webhooks

import (
	"crypto/rand"
	"encoding/base64"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	maxNameLength      = 255
	maxURLLength       = 2048
	maxNamespaceLength = 128
	minSecretLength    = 16

	// SecretPrefix marks generated signing secrets.
	SecretPrefix = "whsec_"
)

// NormalizeName trims and validates a webhook name.
func NormalizeName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", &ValidationError{Field: "name", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return "", &ValidationError{Field: "name", Reason: "too long"}
	}
	return name, nil
}

// ValidateURL accepts absolute https URLs, and http ones when allowInsecure is set.
func ValidateURL(raw string, allowInsecure bool) error {
	if raw == "" {
		return &ValidationError{Field: "url", Reason: "must not be empty"}
	}
	if len(raw) > maxURLLength {
		return &ValidationError{Field: "url", Reason: "too long"}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: "url", Reason: "malformed"}
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !allowInsecure {
			return &ValidationError{Field: "url", Reason: "must use https"}
		}
	default:
		return &ValidationError{Field: "url", Reason: "must be an absolute http(s) URL"}
	}
	if u.Hostname() == "" {
		return &ValidationError{Field: "url", Reason: "missing host"}
	}
	if u.User != nil {
		return &ValidationError{Field: "url", Reason: "must not embed credentials"}
	}
	return nil
}

// ValidateTriggers requires at least one trigger, all from the vocabulary.
func ValidateTriggers(ts []Trigger) error {
	if len(ts) == 0 {
		return &ValidationError{Field: "triggers", Reason: "at least one trigger is required"}
	}
	for _, t := range ts {
		if !t.Valid() {
			return &ValidationError{Field: "triggers", Reason: "unknown trigger"}
		}
	}
	return nil
}

// NormalizeNamespaces trims, validates and dedupes a namespace scope.
// An empty result means the webhook applies to every namespace.
func NormalizeNamespaces(ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, &ValidationError{Field: "namespaceIds", Reason: "namespace id must not be empty"}
		}
		if len(id) > maxNamespaceLength || strings.ContainsAny(id, " \t\r\n") {
			return nil, &ValidationError{Field: "namespaceIds", Reason: "malformed namespace id " + id}
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out, nil
}

// ValidateSecret checks a caller-supplied signing secret.
func ValidateSecret(secret string) error {
	if len(secret) < minSecretLength {
		return &ValidationError{Field: "secret", Reason: "must be at least 16 characters"}
	}
	return nil
}

// GenerateSecret returns a new random signing secret.
func GenerateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", &ConfigError{Op: "generate webhook secret", Err: err}
	}
	return SecretPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}
