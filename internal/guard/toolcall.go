package guard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/triage-ai/cloak/internal/deepsub"
	"github.com/triage-ai/cloak/internal/recognizer"
	"github.com/triage-ai/cloak/internal/vault"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// CallRequest is one tool invocation requested by the reasoning loop.
// Arguments arrive masked; the orchestrator restores them at the boundary.
type CallRequest struct {
	ID   string         `json:"id"`
	Tool string         `json:"tool"`
	Args map[string]any `json:"args"`
}

// CallResult is the outcome of one restore→invoke→remask cycle. A skipped
// call carries a gap reason so the final structured output still contains
// every section.
type CallResult struct {
	ID         string               `json:"id"`
	Tool       string               `json:"tool"`
	Result     any                  `json:"result,omitempty"`
	Skipped    bool                 `json:"skipped"`
	GapReason  string               `json:"gap_reason,omitempty"`
	Unresolved []string             `json:"unresolved,omitempty"`
	Warnings   []recognizer.Warning `json:"warnings,omitempty"`
	Attempts   int                  `json:"attempts"`
}

// Invoker executes a restored, schema-filtered tool call. Tool
// integrations are opaque request/response collaborators.
type Invoker interface {
	Invoke(ctx context.Context, schema ToolSchema, args map[string]any) (map[string]any, error)
}

// HTTPInvoker posts JSON arguments to the tool's declared endpoint.
type HTTPInvoker struct {
	client *http.Client
	logger *zap.Logger
}

// NewHTTPInvoker creates an invoker with its own client; per-call deadlines
// come from the context.
func NewHTTPInvoker(logger *zap.Logger) *HTTPInvoker {
	return &HTTPInvoker{
		client: &http.Client{},
		logger: logger,
	}
}

func (i *HTTPInvoker) Invoke(ctx context.Context, schema ToolSchema, args map[string]any) (map[string]any, error) {
	body, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", schema.Name, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, schema.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", schema.Name, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", schema.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("invoke %s: unexpected status %d", schema.Name, resp.StatusCode)
	}

	var result map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invoke %s: %w", schema.Name, err)
	}
	return result, nil
}

// RunToolCalls executes a batch of tool calls with bounded fan-out:
// restore arguments, filter to the tool's schema, invoke with a per-call
// deadline, and re-mask the raw result before it re-enters the reasoning
// surface. Per-call failures retry up to the policy budget and then
// resolve to skip-with-gap-marker; the batch always returns a result per
// request so a partial summary is producible.
func (o *Orchestrator) RunToolCalls(ctx context.Context, sessionID string, calls []CallRequest, invoker Invoker) ([]CallResult, error) {
	sess := o.session(sessionID)
	if sess.State() == StateFinalized || sess.State() == StatePurgeScheduled {
		return nil, ErrSessionFinalized
	}
	if err := sess.transition(StateInvoking); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, o.policy.WallBudget)
	defer cancel()

	granted := sess.consumeSteps(len(calls), o.policy.StepCap)

	results := make([]CallResult, len(calls))
	sem := semaphore.NewWeighted(o.policy.MaxInFlight)

	for i, call := range calls {
		if i >= granted {
			results[i] = CallResult{
				ID:        call.ID,
				Tool:      call.Tool,
				Skipped:   true,
				GapReason: "session step cap exceeded",
			}
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			// Wall budget spent: everything not yet started becomes a gap,
			// including the step-capped tail the loop never reached. Every
			// request gets an explicit result or gap marker.
			for j := i; j < len(calls); j++ {
				reason := "wall-clock budget exhausted"
				if j >= granted {
					reason = "session step cap exceeded"
				}
				results[j] = CallResult{
					ID:        calls[j].ID,
					Tool:      calls[j].Tool,
					Skipped:   true,
					GapReason: reason,
				}
			}
			break
		}

		go func(idx int, call CallRequest) {
			defer sem.Release(1)
			results[idx] = o.runCall(ctx, sessionID, call, invoker)
		}(i, call)
	}

	// Wait for in-flight calls by draining the full semaphore weight.
	if err := sem.Acquire(context.Background(), o.policy.MaxInFlight); err == nil {
		sem.Release(o.policy.MaxInFlight)
	}

	return results, nil
}

// runCall executes one restore→invoke→remask cycle with bounded retries.
func (o *Orchestrator) runCall(ctx context.Context, sessionID string, call CallRequest, invoker Invoker) CallResult {
	result := CallResult{ID: call.ID, Tool: call.Tool}

	schema, err := o.registry.Lookup(ctx, call.Tool)
	if err != nil {
		// Registry outage is local to this call; the rest of the batch
		// may still be served from cache.
		result.Skipped = true
		result.GapReason = "tool schema lookup failed: " + err.Error()
		return result
	}
	if schema == nil {
		// Schema mismatch is local to this call.
		result.Skipped = true
		result.GapReason = "unknown tool: " + call.Tool
		return result
	}

	var lastErr error
	for attempt := 0; attempt <= o.policy.MaxRetries; attempt++ {
		result.Attempts = attempt + 1

		restored, unresolved, err := o.restoreArgs(ctx, sessionID, call.Args)
		if err != nil {
			lastErr = err
			continue
		}
		if len(unresolved) > 0 {
			// Tool arguments must be fully restored; display text may keep
			// unresolved placeholders, call arguments may not.
			result.Unresolved = unresolved
			lastErr = fmt.Errorf("unresolved placeholders in tool arguments: %d", len(unresolved))
			continue
		}

		filtered := deepsub.FilterSchema(restored, schema.ArgKeys)

		callCtx, cancel := context.WithTimeout(ctx, o.policy.CallTimeout)
		raw, err := invoker.Invoke(callCtx, *schema, filtered)
		cancel()
		if err != nil {
			// Timeout is treated identically to tool failure.
			lastErr = err
			o.logger.Warn("tool invocation failed",
				zap.String("session", sessionID),
				zap.String("tool", call.Tool),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		masked, report, err := o.deep.MaskValue(ctx, any(raw), sessionID, vault.NamespaceToolResults)
		if err != nil {
			// Re-mask failure is fail-closed for this result: the raw
			// payload never reaches the reasoning surface.
			lastErr = err
			continue
		}

		result.Result = masked
		result.Warnings = report.Warnings
		return result
	}

	result.Skipped = true
	result.GapReason = fmt.Sprintf("tool call failed after %d attempts: %v", result.Attempts, lastErr)
	return result
}

// restoreArgs restores masked tool arguments at the boundary, keeping the
// map shape the invoker expects.
func (o *Orchestrator) restoreArgs(ctx context.Context, sessionID string, args map[string]any) (map[string]any, []string, error) {
	if args == nil {
		return map[string]any{}, nil, nil
	}
	restored, unresolved, err := o.Restore(ctx, any(args), sessionID, vault.RestoreOrder())
	if err != nil {
		return nil, nil, err
	}
	m, ok := restored.(map[string]any)
	if !ok {
		return nil, nil, fmt.Errorf("restored arguments are not a mapping")
	}
	return m, unresolved, nil
}
