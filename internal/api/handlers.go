package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/triage-ai/cloak/internal/deepsub"
	"github.com/triage-ai/cloak/internal/entity"
	"github.com/triage-ai/cloak/internal/guard"
	"github.com/triage-ai/cloak/internal/recognizer"
	"github.com/triage-ai/cloak/internal/storage"
	"github.com/triage-ai/cloak/internal/vault"
	"go.uber.org/zap"
)

// namespaceMap maps API namespace strings to vault namespaces.
var namespaceMap = map[string]vault.Namespace{
	"incoming_input": vault.NamespaceInput,
	"tool_arguments": vault.NamespaceToolArgs,
	"tool_results":   vault.NamespaceToolResults,
	"final_output":   vault.NamespaceOutput,
}

// handleMask implements POST /v1/mask.
func (d *Dependencies) handleMask(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req MaskRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "session_id is required"})
		return
	}
	ns, ok := namespaceMap[req.Namespace]
	if !ok {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "unknown namespace: " + req.Namespace})
		return
	}

	requestID := uuid.New().String()

	masked, report, err := d.Guard.Mask(r.Context(), req.Value, req.SessionID, ns)
	if err != nil {
		// Secret-class recognition failure is fatal to the whole call:
		// fail rather than risk exposing a credential.
		d.Logger.Error("mask failed", zap.String("session_id", req.SessionID), zap.Error(err))
		d.writeAuditEvent(requestID, req.SessionID, "mask", string(ns), req.Value, nil, 0, "failed", start)
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "mask failed: " + err.Error()})
		return
	}

	warnings := make([]WarningResp, 0, len(report.Warnings))
	for _, wrn := range report.Warnings {
		warnings = append(warnings, WarningResp{Recognizer: wrn.Recognizer, Detail: wrn.Detail})
	}
	outcome := "ok"
	if len(warnings) > 0 {
		outcome = "degraded"
	}
	d.writeAuditEvent(requestID, req.SessionID, "mask", string(ns), req.Value, report, 0, outcome, start)

	writeJSON(w, http.StatusOK, MaskResponse{
		RequestID: requestID,
		SessionID: req.SessionID,
		Namespace: req.Namespace,
		Value:     masked,
		Minted:    report.Minted,
		Scrubbed:  report.Scrubbed,
		Warnings:  warnings,
		LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
	})
}

// handleRestore implements POST /v1/restore.
func (d *Dependencies) handleRestore(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req RestoreRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "session_id is required"})
		return
	}

	order := make([]vault.Namespace, 0, len(req.Namespaces))
	for _, name := range req.Namespaces {
		ns, ok := namespaceMap[name]
		if !ok {
			writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "unknown namespace: " + name})
			return
		}
		order = append(order, ns)
	}

	requestID := uuid.New().String()

	restored, unresolved, err := d.Guard.Restore(r.Context(), req.Value, req.SessionID, order)
	if err != nil {
		// Fail closed: restoration denied, the caller keeps masked data.
		d.writeAuditEvent(requestID, req.SessionID, "restore", "", req.Value, nil, uint32(len(unresolved)), "failed", start)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "restoration denied: " + err.Error()})
		return
	}

	outcome := "ok"
	if len(unresolved) > 0 {
		outcome = "degraded"
	}
	d.writeAuditEvent(requestID, req.SessionID, "restore", "", req.Value, nil, uint32(len(unresolved)), outcome, start)

	writeJSON(w, http.StatusOK, RestoreResponse{
		RequestID:  requestID,
		SessionID:  req.SessionID,
		Value:      restored,
		Unresolved: unresolved,
		LatencyMs:  float64(time.Since(start)) / float64(time.Millisecond),
	})
}

// handleScrub implements POST /v1/scrub. Stateless: no session, no records.
func (d *Dependencies) handleScrub(w http.ResponseWriter, r *http.Request) {
	var req ScrubRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	writeJSON(w, http.StatusOK, ScrubResponse{Value: d.Guard.Scrub(req.Value)})
}

// handleCreateSession implements POST /v1/sessions.
func (d *Dependencies) handleCreateSession(w http.ResponseWriter, _ *http.Request) {
	sess := d.Guard.NewSession()
	writeJSON(w, http.StatusCreated, CreateSessionResponse{
		SessionID: sess.ID,
		State:     sess.State().String(),
	})
}

// handleToolCalls implements POST /v1/sessions/{session_id}/toolcalls.
func (d *Dependencies) handleToolCalls(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sessionID := r.PathValue("session_id")

	var req ToolCallsRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if len(req.Calls) == 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "calls are required"})
		return
	}

	requestID := uuid.New().String()

	results, err := d.Guard.RunToolCalls(r.Context(), sessionID, req.Calls, d.Invoker)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, guard.ErrSessionFinalized) {
			status = http.StatusConflict
		}
		writeJSON(w, status, ErrorResp{Detail: err.Error()})
		return
	}

	skipped := uint32(0)
	for _, res := range results {
		if res.Skipped {
			skipped++
		}
	}
	outcome := "ok"
	if skipped > 0 {
		outcome = "degraded"
	}
	d.writeAuditEvent(requestID, sessionID, "toolcall", string(vault.NamespaceToolResults), req.Calls, nil, skipped, outcome, start)

	writeJSON(w, http.StatusOK, ToolCallsResponse{
		RequestID: requestID,
		SessionID: sessionID,
		Results:   results,
		LatencyMs: float64(time.Since(start)) / float64(time.Millisecond),
	})
}

// handleFinalize implements POST /v1/sessions/{session_id}/finalize.
func (d *Dependencies) handleFinalize(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("session_id")
	if err := d.Guard.Finalize(r.Context(), sessionID); err != nil {
		writeJSON(w, http.StatusConflict, ErrorResp{Detail: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_id": sessionID, "state": "purge_scheduled"})
}

// handlePurgeSession implements DELETE /v1/sessions/{session_id}.
func (d *Dependencies) handlePurgeSession(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	sessionID := r.PathValue("session_id")

	requestID := uuid.New().String()
	if err := d.Guard.Purge(r.Context(), sessionID); err != nil {
		d.writeAuditEvent(requestID, sessionID, "purge", "", nil, nil, 0, "failed", start)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: err.Error()})
		return
	}
	d.writeAuditEvent(requestID, sessionID, "purge", "", nil, nil, 0, "ok", start)
	w.WriteHeader(http.StatusNoContent)
}

// handleRegisterTool implements POST /api/cloak/tools.
func (d *Dependencies) handleRegisterTool(w http.ResponseWriter, r *http.Request) {
	var schema struct {
		Name     string   `json:"name"`
		ArgKeys  []string `json:"arg_keys"`
		Endpoint string   `json:"endpoint"`
	}
	if err := readJSON(r, &schema); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if schema.Name == "" || schema.Endpoint == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "name and endpoint are required"})
		return
	}
	if err := d.Registry.Register(r.Context(), guard.ToolSchema{
		Name:     schema.Name,
		ArgKeys:  schema.ArgKeys,
		Endpoint: schema.Endpoint,
	}); err != nil {
		d.Logger.Error("tool registration failed", zap.String("tool", schema.Name), zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "tool registry unavailable"})
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// handleListTools implements GET /api/cloak/tools.
func (d *Dependencies) handleListTools(w http.ResponseWriter, r *http.Request) {
	names, err := d.Registry.Names(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "tool registry unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": names})
}

// writeAuditEvent builds an AuditEvent and fires it to the async writer.
// Payloads are hashed, never stored.
func (d *Dependencies) writeAuditEvent(
	requestID, sessionID, operation, namespace string,
	payload any,
	report *deepsub.MaskReport,
	unresolved uint32,
	outcome string,
	start time.Time,
) {
	var hash string
	var size uint32
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			sum := sha256.Sum256(raw)
			hash = hex.EncodeToString(sum[:])
			size = uint32(len(raw))
		}
	}

	event := &storage.AuditEvent{
		RequestID:   requestID,
		SessionID:   sessionID,
		Timestamp:   time.Now(),
		Operation:   operation,
		Namespace:   namespace,
		PayloadHash: hash,
		PayloadSize: size,
		Unresolved:  unresolved,
		Outcome:     outcome,
		LatencyMs:   float32(float64(time.Since(start)) / float64(time.Millisecond)),
	}
	if report != nil {
		event.Scrubbed = uint32(report.Scrubbed)
		event.Warnings = warningStrings(report.Warnings)
		event.EntityTypes, event.EntityCounts = entityCounters(report.MintedByType)
	}

	d.Writer.Write(event)
}

// entityCounters flattens per-type mint counts into the parallel
// column slices the audit schema expects, sorted by type name.
func entityCounters(byType map[entity.Type]int) ([]string, []uint32) {
	if len(byType) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(byType))
	for typ := range byType {
		names = append(names, typ.String())
	}
	sort.Strings(names)
	counts := make([]uint32, len(names))
	for i, name := range names {
		counts[i] = uint32(byType[entity.TypeFromToken(name)])
	}
	return names, counts
}

func warningStrings(warnings []recognizer.Warning) []string {
	if len(warnings) == 0 {
		return nil
	}
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.Recognizer+": "+w.Detail)
	}
	return out
}
