package recognizer

import (
	"context"

	"github.com/triage-ai/cloak/internal/entity"
)

// Recognizer is the interface every entity recognizer must implement.
// Implementations must respect context deadlines and return quickly.
type Recognizer interface {
	// Name returns the recognizer's unique identifier (e.g., "ticket_key").
	Name() string

	// Type returns the entity class this recognizer covers.
	Type() entity.Type

	// Recognize scans the text and returns candidate spans. Candidates may
	// overlap each other and spans from other recognizers; the engine
	// resolves overlaps afterwards.
	Recognize(ctx context.Context, text string) ([]Span, error)
}

// Span is a candidate or resolved occurrence of a sensitive entity.
// Offsets are byte offsets into the scanned text, end exclusive.
type Span struct {
	Start      int
	End        int
	Type       entity.Type
	Confidence float32 // 0.0 – 1.0
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// Warning reports a degraded (non-fatal) recognizer outcome for a scan.
type Warning struct {
	Recognizer string
	Detail     string
}
