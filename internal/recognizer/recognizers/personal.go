package recognizers

import (
	"context"
	"regexp"

	"github.com/triage-ai/cloak/internal/entity"
	"github.com/triage-ai/cloak/internal/recognizer"
)

// Personal identifier patterns — high precision, targeted per type.
var personalPatterns = []struct {
	re         *regexp.Regexp
	typ        entity.Type
	confidence float32
}{
	// Email addresses
	{regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`), entity.TypeEmail, 0.90},

	// IPv4 addresses
	{regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`), entity.TypeIP, 0.85},

	// Phone numbers: (123) 456-7890, 123-456-7890, +1-123-456-7890
	{regexp.MustCompile(`(?:\+\d{1,3}[-\s]?)?\(?\d{3}\)?[-\s.]\d{3}[-\s.]\d{4}\b`), entity.TypePhone, 0.70},
}

// PersonalRecognizer finds generic personal identifiers: email addresses,
// IPv4 addresses, and phone numbers.
type PersonalRecognizer struct{}

func NewPersonalRecognizer() *PersonalRecognizer {
	return &PersonalRecognizer{}
}

func (r *PersonalRecognizer) Name() string { return "personal" }

// Type reports the representative class; all patterns here share the same
// overlap-resolution priority.
func (r *PersonalRecognizer) Type() entity.Type { return entity.TypeEmail }

func (r *PersonalRecognizer) Recognize(ctx context.Context, text string) ([]recognizer.Span, error) {
	var spans []recognizer.Span
	for _, p := range personalPatterns {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		for _, m := range p.re.FindAllStringIndex(text, -1) {
			spans = append(spans, recognizer.Span{
				Start:      m[0],
				End:        m[1],
				Type:       p.typ,
				Confidence: p.confidence,
			})
		}
	}
	return spans, nil
}
