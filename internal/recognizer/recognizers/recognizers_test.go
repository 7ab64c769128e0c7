package recognizers

import (
	"context"
	"testing"

	"github.com/triage-ai/cloak/internal/entity"
	"github.com/triage-ai/cloak/internal/recognizer"
	"github.com/triage-ai/cloak/internal/scrub"
)

func spanText(text string, s recognizer.Span) string {
	return text[s.Start:s.End]
}

func TestTicketRecognizer(t *testing.T) {
	r := NewTicketRecognizer()
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		want []string
	}{
		{"simple key", "Ticket PROJ-1234 failed", []string{"PROJ-1234"}},
		{"short project", "OPS-7 is open", []string{"OPS-7"}},
		{"digits in project", "INFRA2-99123 assigned", []string{"INFRA2-99123"}},
		{"multiple keys", "PROJ-1 blocks PROJ-2", []string{"PROJ-1", "PROJ-2"}},
		{"lowercase not a key", "proj-1234 is a branch name", nil},
		{"no digits", "ABC-DEF is not a key", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans, err := r.Recognize(ctx, tt.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(spans) != len(tt.want) {
				t.Fatalf("expected %d spans, got %d", len(tt.want), len(spans))
			}
			for i, s := range spans {
				if got := spanText(tt.text, s); got != tt.want[i] {
					t.Errorf("span %d: got %q, want %q", i, got, tt.want[i])
				}
				if s.Type != entity.TypeTicket {
					t.Errorf("span %d: wrong type %v", i, s.Type)
				}
			}
		})
	}
}

func TestHostRecognizer_URLHostOnly(t *testing.T) {
	r := NewHostRecognizer()
	text := "see http://jenkins.internal/build/55 for logs"

	spans, err := r.Recognize(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	// Only the host segment — scheme and path stay.
	if got := spanText(text, spans[0]); got != "jenkins.internal" {
		t.Errorf("expected host segment only, got %q", got)
	}
}

func TestHostRecognizer_BareHost(t *testing.T) {
	r := NewHostRecognizer()
	text := "ssh into db-primary.prod.corp please"

	spans, err := r.Recognize(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spans) != 1 || spanText(text, spans[0]) != "db-primary.prod.corp" {
		t.Errorf("expected bare hostname span, got %+v", spans)
	}
}

func TestHostRecognizer_SkipsEmailParts(t *testing.T) {
	r := NewHostRecognizer()
	text := "mail john.doe@example.com about it"

	spans, err := r.Recognize(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spans) != 0 {
		t.Errorf("email parts must be left to the email recognizer, got %+v", spans)
	}
}

func TestHostRecognizer_TrueNegatives(t *testing.T) {
	r := NewHostRecognizer()
	for _, text := range []string{
		"version v1.2.3 released",
		"pi is 3.14159",
		"plain words only",
	} {
		spans, err := r.Recognize(context.Background(), text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(spans) != 0 {
			t.Errorf("false positive in %q: %+v", text, spans)
		}
	}
}

func TestPersonalRecognizer(t *testing.T) {
	r := NewPersonalRecognizer()
	ctx := context.Background()

	tests := []struct {
		name string
		text string
		typ  entity.Type
		want string
	}{
		{"email", "contact alice@bigcorp.io please", entity.TypeEmail, "alice@bigcorp.io"},
		{"ipv4", "server at 192.168.1.10 is down", entity.TypeIP, "192.168.1.10"},
		{"phone with parens", "call (555) 123-4567 now", entity.TypePhone, "(555) 123-4567"},
		{"phone with dashes", "fax 555-123-4567", entity.TypePhone, "555-123-4567"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans, err := r.Recognize(ctx, tt.text)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			found := false
			for _, s := range spans {
				if s.Type == tt.typ && spanText(tt.text, s) == tt.want {
					found = true
				}
			}
			if !found {
				t.Errorf("expected %v span %q, got %+v", tt.typ, tt.want, spans)
			}
		})
	}
}

func TestPersonalRecognizer_TrueNegatives(t *testing.T) {
	r := NewPersonalRecognizer()
	for _, text := range []string{
		"the year 2024 was busy",
		"order #987654",
		"PROJ-1234 needs review",
	} {
		spans, err := r.Recognize(context.Background(), text)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(spans) != 0 {
			t.Errorf("false positive in %q: %+v", text, spans)
		}
	}
}

func TestSecretRecognizer_SharesScrubRules(t *testing.T) {
	r := NewSecretRecognizer(scrub.New(nil))
	text := "header Authorization: Bearer abc.def.ghi end"

	spans, err := r.Recognize(context.Background(), text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spans) != 1 {
		t.Fatalf("expected 1 secret span, got %d", len(spans))
	}
	if spans[0].Type != entity.TypeSecret {
		t.Errorf("wrong type: %v", spans[0].Type)
	}
	if got := spanText(text, spans[0]); got != "Bearer abc.def.ghi" {
		t.Errorf("expected bearer value span, got %q", got)
	}
}
