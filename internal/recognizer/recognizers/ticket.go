package recognizers

import (
	"context"
	"regexp"

	"github.com/triage-ai/cloak/internal/entity"
	"github.com/triage-ai/cloak/internal/recognizer"
)

// Ticket keys: PROJ-1234, OPS-7, INFRA2-99123. Project prefix is 2-10
// uppercase alphanumerics starting with a letter.
var ticketRe = regexp.MustCompile(`\b[A-Z][A-Z0-9]{1,9}-\d{1,6}\b`)

// TicketRecognizer finds issue-tracker keys.
type TicketRecognizer struct{}

func NewTicketRecognizer() *TicketRecognizer {
	return &TicketRecognizer{}
}

func (r *TicketRecognizer) Name() string { return "ticket_key" }

func (r *TicketRecognizer) Type() entity.Type { return entity.TypeTicket }

func (r *TicketRecognizer) Recognize(ctx context.Context, text string) ([]recognizer.Span, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var spans []recognizer.Span
	for _, m := range ticketRe.FindAllStringIndex(text, -1) {
		spans = append(spans, recognizer.Span{
			Start:      m[0],
			End:        m[1],
			Type:       entity.TypeTicket,
			Confidence: 0.90,
		})
	}
	return spans, nil
}
