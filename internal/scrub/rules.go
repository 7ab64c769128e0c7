package scrub

import "regexp"

// Rule is a single credential-class detection pattern.
type Rule struct {
	ID      string
	Pattern *regexp.Regexp
}

// Pre-compiled credential patterns — high precision, prefix-identifying
// where the token format allows it.
var defaultRules = []Rule{
	// Bearer tokens in auth headers or inline text
	{"bearer-token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._~+/\-]+=*`)},

	// JWT (eyJ prefix is a base64-encoded JSON header)
	{"jwt", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`)},

	// AWS access key IDs
	{"aws-access-key-id", regexp.MustCompile(`\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|ASIA)[A-Z0-9]{16}\b`)},

	// GitHub tokens (classic, app, fine-grained)
	{"github-token", regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs)_[A-Za-z0-9]{36}\b`)},
	{"github-fine-grained", regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{22,}\b`)},

	// GitLab personal access tokens
	{"gitlab-token", regexp.MustCompile(`\bglpat-[A-Za-z0-9\-]{20,}\b`)},

	// Slack tokens
	{"slack-token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}\b`)},

	// Stripe keys
	{"stripe-key", regexp.MustCompile(`\b(?:sk|pk)_(?:live|test)_[A-Za-z0-9]{24,}\b`)},

	// Private key PEM headers
	{"private-key", regexp.MustCompile(`-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`)},

	// Connection URLs embedding credentials
	{"database-url", regexp.MustCompile(`(?i)\b(?:postgres|postgresql|mysql|mongodb|redis|amqp)://[^:/\s]+:[^@\s]+@[^\s]+`)},

	// Generic key/secret/password assignments
	{"generic-api-key", regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey|access[_-]?token)\s*[:=]\s*['"]?[A-Za-z0-9_\-]{16,64}['"]?`)},
	{"generic-secret", regexp.MustCompile(`(?i)\b(?:secret|password|passwd|pwd)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`)},
}

// DefaultRules returns the built-in credential rule set.
func DefaultRules() []Rule {
	return defaultRules
}
