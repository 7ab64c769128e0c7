// Package guard composes the recognizer, mint, vault, and substitution
// engine into the public contract consumed by the reasoning loop and tool
// wrappers, and owns the per-request state machine.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/triage-ai/cloak/internal/deepsub"
	"github.com/triage-ai/cloak/internal/vault"
	"go.uber.org/zap"
)

// ErrSessionFinalized is returned when an operation arrives for a session
// already past Finalized.
var ErrSessionFinalized = errors.New("session already finalized")

// CallPolicy bounds the tool-call cycle.
type CallPolicy struct {
	MaxInFlight int64         // concurrent tool calls per session
	CallTimeout time.Duration // per-call deadline; timeout == failure
	MaxRetries  int           // bounded retries before skip-with-gap-marker
	StepCap     int           // max tool calls per session
	WallBudget  time.Duration // overall budget for one RunToolCalls batch
}

// DefaultCallPolicy returns the fallback bounds.
func DefaultCallPolicy() CallPolicy {
	return CallPolicy{
		MaxInFlight: 4,
		CallTimeout: 10 * time.Second,
		MaxRetries:  1,
		StepCap:     32,
		WallBudget:  2 * time.Minute,
	}
}

// Orchestrator is the session-scoped anonymization facade.
type Orchestrator struct {
	deep     *deepsub.Engine
	store    vault.Store
	registry *Registry
	policy   CallPolicy
	logger   *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewOrchestrator wires the orchestrator.
func NewOrchestrator(deep *deepsub.Engine, store vault.Store, registry *Registry, policy CallPolicy, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		deep:     deep,
		store:    store,
		registry: registry,
		policy:   policy,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// NewSession creates and tracks a fresh session.
func (o *Orchestrator) NewSession() *Session {
	sess := NewSession()
	o.mu.Lock()
	o.sessions[sess.ID] = sess
	o.mu.Unlock()
	return sess
}

// session returns the tracked session, creating one on first use. Sessions
// have explicit lifecycle — created here, destroyed by Purge or the
// retention sweep — never ambient.
func (o *Orchestrator) session(id string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	if sess, ok := o.sessions[id]; ok {
		return sess
	}
	sess := &Session{ID: id, CreatedAt: time.Now(), state: StateReceived}
	o.sessions[id] = sess
	return sess
}

// Session returns the tracked session, or nil.
func (o *Orchestrator) Session(id string) *Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessions[id]
}

// Mask anonymizes every string leaf of the value under the session and
// namespace, upserting mapping records as a side effect. Warnings report
// degraded (non-secret) recognizers.
func (o *Orchestrator) Mask(ctx context.Context, v any, sessionID string, ns vault.Namespace) (any, *deepsub.MaskReport, error) {
	sess := o.session(sessionID)

	masked, report, err := o.deep.MaskValue(ctx, v, sessionID, ns)
	if err != nil {
		_ = sess.transition(StateFailed)
		return nil, nil, err
	}

	if ns == vault.NamespaceInput && sess.State() == StateReceived {
		if err := sess.transition(StateMasked); err != nil {
			o.logger.Warn("session transition rejected", zap.String("session", sessionID), zap.Error(err))
		}
	}
	return masked, report, nil
}

// Restore resolves placeholders through the vault in the given namespace
// order. Unresolved placeholders are left intact and reported, never
// silently dropped or treated as resolved. A vault failure fails closed:
// the error propagates and the caller keeps the masked value.
func (o *Orchestrator) Restore(ctx context.Context, v any, sessionID string, order []vault.Namespace) (any, []string, error) {
	if len(order) == 0 {
		order = vault.RestoreOrder()
	}
	restored, unresolved, err := o.deep.RestoreValue(ctx, v, sessionID, order)
	if err != nil {
		o.logger.Error("restoration denied, failing closed",
			zap.String("session", sessionID),
			zap.Error(err),
		)
		return nil, nil, err
	}
	return restored, unresolved, nil
}

// Scrub irreversibly redacts credential-class content. Stateless,
// session-independent, and never produces vault records.
func (o *Orchestrator) Scrub(v any) any {
	return o.deep.ScrubValue(v)
}

// Finalize moves the session to Finalized and schedules the best-effort
// purge. The periodic retention sweep remains the durable cleanup
// guarantee if the purge never runs.
func (o *Orchestrator) Finalize(ctx context.Context, sessionID string) error {
	sess := o.session(sessionID)
	if err := sess.transition(StateFinalized); err != nil {
		return err
	}
	if err := sess.transition(StatePurgeScheduled); err != nil {
		return err
	}

	go func() {
		purgeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.Purge(purgeCtx, sessionID); err != nil {
			o.logger.Warn("best-effort purge failed, retention sweep will cover",
				zap.String("session", sessionID),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// Purge deletes every mapping for the session and forgets its state.
func (o *Orchestrator) Purge(ctx context.Context, sessionID string, namespaces ...vault.Namespace) error {
	if err := o.store.Purge(ctx, sessionID, namespaces...); err != nil {
		return fmt.Errorf("purge: %w", err)
	}
	if len(namespaces) == 0 {
		o.mu.Lock()
		delete(o.sessions, sessionID)
		o.mu.Unlock()
	}
	return nil
}
