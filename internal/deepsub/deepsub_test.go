package deepsub

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/triage-ai/cloak/internal/entity"
	"github.com/triage-ai/cloak/internal/mint"
	"github.com/triage-ai/cloak/internal/recognizer"
	"github.com/triage-ai/cloak/internal/recognizer/recognizers"
	"github.com/triage-ai/cloak/internal/scrub"
	"github.com/triage-ai/cloak/internal/vault"
	"go.uber.org/zap"
)

func newTestEngine(t *testing.T) (*Engine, vault.Store) {
	t.Helper()

	store := vault.NewMemoryStore(nil)
	scrubber := scrub.New(nil)
	scan := recognizer.NewEngine([]recognizer.Recognizer{
		recognizers.NewSecretRecognizer(scrubber),
		recognizers.NewTicketRecognizer(),
		recognizers.NewHostRecognizer(),
		recognizers.NewPersonalRecognizer(),
	}, time.Second, zap.NewNop())

	m, err := mint.New([]byte("test-key"), store)
	if err != nil {
		t.Fatalf("mint.New: %v", err)
	}
	return NewEngine(scan, m, store, scrubber, zap.NewNop()), store
}

func TestMaskText_MintsAndScrubs(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	report := &MaskReport{}
	out, err := e.MaskText(ctx, "PROJ-1234 deploy failed, token Bearer abc.def.ghi", "s1", vault.NamespaceInput, report)
	if err != nil {
		t.Fatalf("MaskText: %v", err)
	}

	if strings.Contains(out, "PROJ-1234") {
		t.Errorf("ticket key survived masking: %q", out)
	}
	if strings.Contains(out, "abc.def.ghi") {
		t.Errorf("secret survived masking: %q", out)
	}
	if !strings.Contains(out, entity.RedactedLiteral) {
		t.Errorf("expected redaction literal in %q", out)
	}
	if report.Minted != 1 || report.Scrubbed != 1 {
		t.Errorf("report = minted %d, scrubbed %d; want 1, 1", report.Minted, report.Scrubbed)
	}
}

func TestMaskText_Idempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	report := &MaskReport{}
	once, err := e.MaskText(ctx, "restart jenkins.internal for PROJ-1234", "s1", vault.NamespaceInput, report)
	if err != nil {
		t.Fatalf("MaskText: %v", err)
	}
	twice, err := e.MaskText(ctx, once, "s1", vault.NamespaceInput, &MaskReport{})
	if err != nil {
		t.Fatalf("MaskText: %v", err)
	}
	if once != twice {
		t.Errorf("masking is not idempotent:\n once: %q\ntwice: %q", once, twice)
	}
}

func TestRestoreText_RoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	original := "see http://jenkins.internal/build/55 about PROJ-1234"
	masked, err := e.MaskText(ctx, original, "s1", vault.NamespaceInput, &MaskReport{})
	if err != nil {
		t.Fatalf("MaskText: %v", err)
	}
	if masked == original {
		t.Fatal("masking changed nothing")
	}
	// Scheme and path survive masking; only the host is substituted.
	if !strings.Contains(masked, "http://") || !strings.Contains(masked, "/build/55") {
		t.Errorf("URL structure lost: %q", masked)
	}

	restored, unresolved, err := e.RestoreText(ctx, masked, "s1", vault.RestoreOrder())
	if err != nil {
		t.Fatalf("RestoreText: %v", err)
	}
	if len(unresolved) != 0 {
		t.Fatalf("unexpected unresolved placeholders: %v", unresolved)
	}
	if restored != original {
		t.Errorf("round trip diverged:\n got: %q\nwant: %q", restored, original)
	}
}

func TestRestoreText_UnresolvedStaysIntact(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	ph := "<<TICKET_aaaa1111bbbb2222>>"
	text := "status of " + ph + " unknown"
	restored, unresolved, err := e.RestoreText(ctx, text, "s1", vault.RestoreOrder())
	if err != nil {
		t.Fatalf("RestoreText: %v", err)
	}
	if restored != text {
		t.Errorf("unresolved placeholder was altered: %q", restored)
	}
	if len(unresolved) != 1 || unresolved[0] != ph {
		t.Errorf("unresolved = %v, want [%s]", unresolved, ph)
	}
}

func TestRestoreText_ScrubsOutput(t *testing.T) {
	e, store := newTestEngine(t)
	ctx := context.Background()

	// A mapping whose original is itself credential-shaped: restoration must
	// not become a scrub bypass.
	ph := "<<HOST_aaaa1111bbbb2222>>"
	_, err := store.Upsert(ctx, vault.MappingRecord{
		Session:     "s1",
		Namespace:   vault.NamespaceInput,
		EntityType:  entity.TypeHost,
		Placeholder: ph,
		Original:    "Bearer abc.def.ghi",
	})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	restored, _, err := e.RestoreText(ctx, "auth "+ph+" end", "s1", vault.RestoreOrder())
	if err != nil {
		t.Fatalf("RestoreText: %v", err)
	}
	if strings.Contains(restored, "abc.def.ghi") {
		t.Errorf("credential leaked through restore: %q", restored)
	}
	if !strings.Contains(restored, entity.RedactedLiteral) {
		t.Errorf("expected redaction literal in %q", restored)
	}
}

func TestMaskValue_PreservesShape(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	in := map[string]any{
		"summary": "PROJ-1234 is down",
		"count":   float64(3),
		"flag":    true,
		"hosts":   []any{"db-primary.prod.corp", float64(8080)},
		"nested": map[string]any{
			"owner": "alice@bigcorp.io",
		},
	}

	out, report, err := e.MaskValue(ctx, in, "s1", vault.NamespaceToolArgs)
	if err != nil {
		t.Fatalf("MaskValue: %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("output is %T, want map", out)
	}
	if len(m) != len(in) {
		t.Fatalf("key count changed: %d != %d", len(m), len(in))
	}
	if m["count"] != float64(3) || m["flag"] != true {
		t.Errorf("non-string scalars changed: %v %v", m["count"], m["flag"])
	}
	hosts := m["hosts"].([]any)
	if len(hosts) != 2 || hosts[1] != float64(8080) {
		t.Errorf("sequence shape changed: %v", hosts)
	}
	if strings.Contains(hosts[0].(string), "prod.corp") {
		t.Errorf("hostname survived masking: %v", hosts[0])
	}
	nested := m["nested"].(map[string]any)
	if strings.Contains(nested["owner"].(string), "bigcorp.io") {
		t.Errorf("email survived masking: %v", nested["owner"])
	}
	if report.Minted != 3 {
		t.Errorf("minted %d placeholders, want 3", report.Minted)
	}
	wantByType := map[entity.Type]int{
		entity.TypeTicket: 1,
		entity.TypeHost:   1,
		entity.TypeEmail:  1,
	}
	if !reflect.DeepEqual(report.MintedByType, wantByType) {
		t.Errorf("per-type mint counts = %v, want %v", report.MintedByType, wantByType)
	}
}

func TestRestoreValue_RoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	in := map[string]any{
		"query": "logs for PROJ-1234 on db-primary.prod.corp",
		"limit": float64(100),
	}
	masked, _, err := e.MaskValue(ctx, in, "s1", vault.NamespaceToolArgs)
	if err != nil {
		t.Fatalf("MaskValue: %v", err)
	}
	restored, unresolved, err := e.RestoreValue(ctx, masked, "s1", vault.RestoreOrder())
	if err != nil {
		t.Fatalf("RestoreValue: %v", err)
	}
	if len(unresolved) != 0 {
		t.Fatalf("unexpected unresolved: %v", unresolved)
	}
	if !reflect.DeepEqual(restored, in) {
		t.Errorf("round trip diverged:\n got: %#v\nwant: %#v", restored, in)
	}
}

func TestScrubValue(t *testing.T) {
	e, _ := newTestEngine(t)

	out := e.ScrubValue(map[string]any{
		"header": "Authorization: Bearer abc.def.ghi",
		"note":   "nothing sensitive",
	})
	m := out.(map[string]any)
	if m["header"] != "Authorization: "+entity.RedactedLiteral {
		t.Errorf("scrub output: %q", m["header"])
	}
	if m["note"] != "nothing sensitive" {
		t.Errorf("clean string altered: %q", m["note"])
	}
}

func TestFilterSchema(t *testing.T) {
	args := map[string]any{
		"query":       "up",
		"limit":       float64(5),
		"_session_id": "s1",
	}
	out := FilterSchema(args, []string{"query", "limit"})
	if len(out) != 2 {
		t.Fatalf("expected 2 keys, got %d: %v", len(out), out)
	}
	if _, ok := out["_session_id"]; ok {
		t.Error("undeclared key leaked through the filter")
	}
	if FilterSchema(nil, []string{"query"}) != nil {
		t.Error("nil args should stay nil")
	}
}
