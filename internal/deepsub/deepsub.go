// Package deepsub applies mask, restore, and scrub recursively over nested
// call-argument and result structures, preserving shape: same keys, same
// sequence lengths, only string leaves change.
package deepsub

import (
	"context"
	"errors"
	"fmt"

	"github.com/triage-ai/cloak/internal/entity"
	"github.com/triage-ai/cloak/internal/mint"
	"github.com/triage-ai/cloak/internal/recognizer"
	"github.com/triage-ai/cloak/internal/scrub"
	"github.com/triage-ai/cloak/internal/vault"
	"go.uber.org/zap"
)

// Engine composes the recognizer, mint, vault, and scrubber into the
// masking and restoration primitives used at every pipeline stage.
type Engine struct {
	scan     *recognizer.Engine
	mint     *mint.Mint
	store    vault.Store
	scrubber *scrub.Scrubber
	logger   *zap.Logger
}

// NewEngine wires the substitution engine.
func NewEngine(scan *recognizer.Engine, m *mint.Mint, store vault.Store, scrubber *scrub.Scrubber, logger *zap.Logger) *Engine {
	return &Engine{
		scan:     scan,
		mint:     m,
		store:    store,
		scrubber: scrubber,
		logger:   logger,
	}
}

// MaskReport accumulates the outcome of a mask pass.
type MaskReport struct {
	Warnings     []recognizer.Warning
	Minted       int                 // placeholders minted or reused
	MintedByType map[entity.Type]int // mint count per entity class
	Scrubbed     int                 // secret spans replaced by the redaction literal
}

// MaskText scans one string, scrubs secret spans, and mints placeholders
// for everything else. Text already containing placeholders is left
// untouched around them: masking is idempotent.
func (e *Engine) MaskText(ctx context.Context, text, session string, ns vault.Namespace, report *MaskReport) (string, error) {
	spans, warnings, err := e.scan.Scan(ctx, text)
	if err != nil {
		return "", err
	}
	report.Warnings = append(report.Warnings, warnings...)

	// Replace right-to-left so earlier offsets stay valid.
	out := text
	for i := len(spans) - 1; i >= 0; i-- {
		span := spans[i]
		if span.Type == entity.TypeSecret {
			out = out[:span.Start] + entity.RedactedLiteral + out[span.End:]
			report.Scrubbed++
			continue
		}
		placeholder, err := e.mint.Place(ctx, session, ns, span.Type, text[span.Start:span.End])
		if err != nil {
			return "", err
		}
		out = out[:span.Start] + placeholder + out[span.End:]
		report.Minted++
		if report.MintedByType == nil {
			report.MintedByType = make(map[entity.Type]int)
		}
		report.MintedByType[span.Type]++
	}
	return out, nil
}

// RestoreText resolves every placeholder through the vault in the given
// namespace order. Unresolved placeholders stay intact in the output and
// are reported — never dropped, never treated as resolved. A vault failure
// fails closed: the masked text is not partially revealed.
//
// The scrub pass runs on the restored output and cannot be bypassed: a
// redacted node stays redacted under every mode and namespace combination.
func (e *Engine) RestoreText(ctx context.Context, text, session string, order []vault.Namespace) (string, []string, error) {
	matches := entity.FindPlaceholders(text)

	var unresolved []string
	out := text
	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		res, err := e.store.Resolve(ctx, session, m.Token, order)
		if errors.Is(err, vault.ErrNotFound) {
			unresolved = append(unresolved, m.Token)
			continue
		}
		if err != nil {
			return "", nil, fmt.Errorf("restore: %w", err)
		}
		out = out[:m.Start] + res.Original + out[m.End:]
	}
	return e.scrubber.Scrub(out), unresolved, nil
}

// ScrubText irreversibly redacts credential matches. Stateless and
// session-independent.
func (e *Engine) ScrubText(text string) string {
	return e.scrubber.Scrub(text)
}

// MaskValue recurses through the value and masks every string leaf.
func (e *Engine) MaskValue(ctx context.Context, v any, session string, ns vault.Namespace) (any, *MaskReport, error) {
	report := &MaskReport{}
	out, err := walk(v, func(s string) (string, error) {
		return e.MaskText(ctx, s, session, ns, report)
	})
	if err != nil {
		return nil, nil, err
	}
	return out, report, nil
}

// RestoreValue recurses through the value and restores every string leaf,
// collecting unresolved placeholders across the whole structure.
func (e *Engine) RestoreValue(ctx context.Context, v any, session string, order []vault.Namespace) (any, []string, error) {
	var unresolved []string
	out, err := walk(v, func(s string) (string, error) {
		restored, missing, err := e.RestoreText(ctx, s, session, order)
		if err != nil {
			return "", err
		}
		unresolved = append(unresolved, missing...)
		return restored, nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, unresolved, nil
}

// ScrubValue recurses through the value and scrubs every string leaf.
func (e *Engine) ScrubValue(v any) any {
	out, _ := walk(v, func(s string) (string, error) {
		return e.scrubber.Scrub(s), nil
	})
	return out
}

// walk visits the closed container set — key-labelled mappings, ordered
// sequences, strings — applying fn to string leaves. Non-string scalars
// pass through unchanged. The output has identical shape to the input.
func walk(v any, fn func(string) (string, error)) (any, error) {
	switch val := v.(type) {
	case string:
		return fn(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, child := range val {
			transformed, err := walk(child, fn)
			if err != nil {
				return nil, err
			}
			out[k] = transformed
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			transformed, err := walk(child, fn)
			if err != nil {
				return nil, err
			}
			out[i] = transformed
		}
		return out, nil
	default:
		return v, nil
	}
}

// FilterSchema returns a copy of args holding only the keys the target
// tool declares in its input contract. Internal session-tracking fields
// never leak into external calls. Filtering applies to the top level only;
// values under declared keys pass through intact.
func FilterSchema(args map[string]any, allowed []string) map[string]any {
	if args == nil {
		return nil
	}
	keep := make(map[string]bool, len(allowed))
	for _, k := range allowed {
		keep[k] = true
	}
	out := make(map[string]any, len(args))
	for k, v := range args {
		if keep[k] {
			out[k] = v
		}
	}
	return out
}
