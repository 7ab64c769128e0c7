package recognizers

import (
	"context"
	"regexp"

	"github.com/triage-ai/cloak/internal/entity"
	"github.com/triage-ai/cloak/internal/recognizer"
)

// URL hosts: only the host segment is sensitive, so the capture group is
// what gets masked — the scheme, port, and path survive verbatim.
var urlHostRe = regexp.MustCompile(`(?i)\bhttps?://([A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?)*)`)

// Bare hostnames: dotted labels with an alphabetic final label, so version
// strings (v1.2.3) and decimals never match.
var bareHostRe = regexp.MustCompile(`(?i)\b(?:[a-z0-9](?:[a-z0-9-]*[a-z0-9])?\.)+[a-z]{2,}\b`)

// HostRecognizer finds hostnames and the host segment of URLs.
type HostRecognizer struct{}

func NewHostRecognizer() *HostRecognizer {
	return &HostRecognizer{}
}

func (r *HostRecognizer) Name() string { return "host_url" }

func (r *HostRecognizer) Type() entity.Type { return entity.TypeHost }

func (r *HostRecognizer) Recognize(ctx context.Context, text string) ([]recognizer.Span, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var spans []recognizer.Span

	covered := make(map[int]bool)
	for _, m := range urlHostRe.FindAllStringSubmatchIndex(text, -1) {
		// m[2]:m[3] is the host capture group.
		spans = append(spans, recognizer.Span{
			Start:      m[2],
			End:        m[3],
			Type:       entity.TypeHost,
			Confidence: 0.95,
		})
		covered[m[2]] = true
	}

	for _, m := range bareHostRe.FindAllStringIndex(text, -1) {
		if covered[m[0]] {
			continue
		}
		// Either side of an email address belongs to the email span.
		if m[0] > 0 && text[m[0]-1] == '@' {
			continue
		}
		if m[1] < len(text) && text[m[1]] == '@' {
			continue
		}
		spans = append(spans, recognizer.Span{
			Start:      m[0],
			End:        m[1],
			Type:       entity.TypeHost,
			Confidence: 0.70,
		})
	}

	return spans, nil
}
