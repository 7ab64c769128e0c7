package api

import "github.com/triage-ai/cloak/internal/guard"

// ErrorResp is the uniform error body.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// MaskRequest anonymizes a value under a session and namespace.
type MaskRequest struct {
	SessionID string `json:"session_id"`
	Namespace string `json:"namespace"`
	Value     any    `json:"value"`
}

// WarningResp reports a degraded recognizer for a mask call.
type WarningResp struct {
	Recognizer string `json:"recognizer"`
	Detail     string `json:"detail"`
}

// MaskResponse carries the masked value and quality warnings.
type MaskResponse struct {
	RequestID string        `json:"request_id"`
	SessionID string        `json:"session_id"`
	Namespace string        `json:"namespace"`
	Value     any           `json:"value"`
	Minted    int           `json:"minted"`
	Scrubbed  int           `json:"scrubbed"`
	Warnings  []WarningResp `json:"warnings,omitempty"`
	LatencyMs float64       `json:"latency_ms"`
}

// RestoreRequest resolves placeholders under a session with an explicit
// namespace precedence. An empty namespace list uses the fixed
// tool-boundary order.
type RestoreRequest struct {
	SessionID  string   `json:"session_id"`
	Namespaces []string `json:"namespaces,omitempty"`
	Value      any      `json:"value"`
}

// RestoreResponse carries the restored value. Unresolved placeholders are
// left intact inside the value and listed here — never silently dropped.
type RestoreResponse struct {
	RequestID  string   `json:"request_id"`
	SessionID  string   `json:"session_id"`
	Value      any      `json:"value"`
	Unresolved []string `json:"unresolved,omitempty"`
	LatencyMs  float64  `json:"latency_ms"`
}

// ScrubRequest irreversibly redacts credential-class content.
type ScrubRequest struct {
	Value any `json:"value"`
}

// ScrubResponse carries the redacted value.
type ScrubResponse struct {
	Value any `json:"value"`
}

// CreateSessionResponse returns a fresh session identifier.
type CreateSessionResponse struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// ToolCallsRequest fans out a batch of guarded tool calls.
type ToolCallsRequest struct {
	Calls []guard.CallRequest `json:"calls"`
}

// ToolCallsResponse returns one result per requested call; skipped calls
// carry gap markers so the batch is always a complete structured result.
type ToolCallsResponse struct {
	RequestID string             `json:"request_id"`
	SessionID string             `json:"session_id"`
	Results   []guard.CallResult `json:"results"`
	LatencyMs float64            `json:"latency_ms"`
}
