package storage

import "time"

// EventWriter is the interface for writing anonymization audit events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *AuditEvent)
	Close()
}

// AuditEvent records one guard operation for operator visibility. It
// carries counts, hashes, and latencies only — never original values,
// never placeholder-to-original pairs. Masked transcripts are not
// persisted here; that belongs to a higher layer if anywhere.
type AuditEvent struct {
	RequestID    string
	SessionID    string
	Timestamp    time.Time
	Operation    string // "mask", "restore", "scrub", "toolcall", "purge"
	Namespace    string
	PayloadHash  string // SHA256 of the payload, correlation without content
	PayloadSize  uint32
	EntityTypes  []string // entity type per counter slot
	EntityCounts []uint32
	Scrubbed     uint32 // secret spans redacted
	Unresolved   uint32 // placeholders left intact by restore
	Warnings     []string
	Outcome      string // "ok", "degraded", "failed"
	LatencyMs    float32
}
