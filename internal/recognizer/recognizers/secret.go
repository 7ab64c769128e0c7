package recognizers

import (
	"context"

	"github.com/triage-ai/cloak/internal/entity"
	"github.com/triage-ai/cloak/internal/recognizer"
	"github.com/triage-ai/cloak/internal/scrub"
)

// SecretRecognizer finds credential-class values using the scrub rule set,
// so recognition and irreversible scrubbing can never disagree about what
// counts as a secret.
type SecretRecognizer struct {
	scrubber *scrub.Scrubber
}

func NewSecretRecognizer(s *scrub.Scrubber) *SecretRecognizer {
	return &SecretRecognizer{scrubber: s}
}

func (r *SecretRecognizer) Name() string { return "secret" }

func (r *SecretRecognizer) Type() entity.Type { return entity.TypeSecret }

func (r *SecretRecognizer) Recognize(ctx context.Context, text string) ([]recognizer.Span, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	matches := r.scrubber.Find(text)
	if len(matches) == 0 {
		return nil, nil
	}

	spans := make([]recognizer.Span, 0, len(matches))
	for _, m := range matches {
		spans = append(spans, recognizer.Span{
			Start:      m.Start,
			End:        m.End,
			Type:       entity.TypeSecret,
			Confidence: 0.95,
		})
	}
	return spans, nil
}
