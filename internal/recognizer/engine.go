// Package recognizer scans text for sensitive-entity spans and resolves
// overlapping candidates into a deterministic, non-overlapping span list.
package recognizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/triage-ai/cloak/internal/entity"
	"go.uber.org/zap"
)

// ErrSecretScanFailed is returned when the secret-class recognizer fails or
// times out. Safety takes precedence over availability: the whole scan is
// rejected rather than risking an unscrubbed credential.
var ErrSecretScanFailed = errors.New("secret recognizer failed")

// Engine fans out a scan to all registered recognizers in parallel and
// resolves their candidate spans into a final ordered list.
type Engine struct {
	recognizers []Recognizer
	timeout     time.Duration
	logger      *zap.Logger
}

// NewEngine creates an engine with the given recognizers and per-scan timeout.
func NewEngine(recognizers []Recognizer, timeout time.Duration, logger *zap.Logger) *Engine {
	return &Engine{
		recognizers: recognizers,
		timeout:     timeout,
		logger:      logger,
	}
}

// recognizerOutput holds a single recognizer's result alongside its metadata.
type recognizerOutput struct {
	name  string
	typ   entity.Type
	spans []Span
	err   error
}

// Scan runs all recognizers in parallel against the text and returns the
// resolved span list.
//
// Each goroutine sends its result through a buffered channel sized for all
// recognizers, so late finishers never block and are simply never read once
// the deadline fires. A non-secret recognizer that errors or misses the
// deadline degrades to a warning; a secret-class failure is fatal.
func (e *Engine) Scan(ctx context.Context, text string) ([]Span, []Warning, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan recognizerOutput, len(e.recognizers))

	for _, rec := range e.recognizers {
		go func(r Recognizer) {
			spans, err := r.Recognize(ctx, text)
			ch <- recognizerOutput{
				name:  r.Name(),
				typ:   r.Type(),
				spans: spans,
				err:   err,
			}
		}(rec)
	}

	seen := make(map[string]bool, len(e.recognizers))
	var candidates []Span
	var warnings []Warning

	remaining := len(e.recognizers)
	for remaining > 0 {
		select {
		case out := <-ch:
			remaining--
			seen[out.name] = true
			if out.err != nil {
				if out.typ == entity.TypeSecret {
					return nil, nil, fmt.Errorf("%w: %s: %v", ErrSecretScanFailed, out.name, out.err)
				}
				e.logger.Warn("recognizer error, spans omitted",
					zap.String("recognizer", out.name),
					zap.Error(out.err),
				)
				warnings = append(warnings, Warning{
					Recognizer: out.name,
					Detail:     "recognizer error: " + out.err.Error(),
				})
				continue
			}
			candidates = append(candidates, out.spans...)
		case <-ctx.Done():
			e.logger.Warn("recognizer timeout exceeded",
				zap.Duration("timeout", e.timeout),
			)
			remaining = 0
		}
	}

	// Anything that never reported before the deadline is a missed
	// recognizer: fatal for the secret class, a warning otherwise.
	for _, r := range e.recognizers {
		if seen[r.Name()] {
			continue
		}
		if r.Type() == entity.TypeSecret {
			return nil, nil, fmt.Errorf("%w: %s: deadline exceeded", ErrSecretScanFailed, r.Name())
		}
		warnings = append(warnings, Warning{
			Recognizer: r.Name(),
			Detail:     "recognizer deadline exceeded, spans omitted",
		})
	}

	return Resolve(text, candidates), warnings, nil
}
