package interactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/helm-gateway/pkg/api"
	"github.com/Mindburn-Labs/helm-gateway/pkg/blocks"
	"github.com/Mindburn-Labs/helm-gateway/pkg/eventsink"
)

// loopbackAddrs is the explicit set of accepted peer addresses.
var loopbackAddrs = map[string]bool{
	"127.0.0.1":        true,
	"::1":              true,
	"::ffff:127.0.0.1": true,
}

// IsLoopback reports whether ip is one of the accepted loopback literals.
func IsLoopback(ip string) bool { return loopbackAddrs[ip] }

// Step names used in StepResult, logs and metrics.
const (
	StepDispatch = "dispatch"
	StepUpdate   = "post_update"
)

// ContextKey identifies one click on one message for the event pipeline.
func ContextKey(postID, actionID string) string {
	return "interaction:" + postID + ":" + actionID
}

// EventLabel is the human-readable label of a dispatched interaction.
func EventLabel(actionID, actor string) string {
	if actor == "" {
		return "Interaction: " + actionID
	}
	return "Interaction: " + actionID + " by " + actor
}

// ServeHTTP handles POST /interactions/{account}.
func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	accountID := accountFromRequest(r)

	ctx, span := s.telemetry.StartSpan(r.Context(), "interactions.callback",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("account", accountID)),
	)
	defer span.End()

	logger := s.logger.With("account", accountID)
	if id := api.GetRequestID(ctx); id != "" {
		logger = logger.With("request_id", id)
	}

	out := s.handle(ctx, logger, w, r.WithContext(ctx), accountID)
	out.Reached = StateResponded
	if out.Rejection != nil || out.Aborted {
		out.Reached = out.failedAt()
	}

	span.SetAttributes(
		attribute.String("state", out.Reached.String()),
		attribute.Int("http.status_code", out.Status),
	)
	outcome := "accepted"
	switch {
	case out.Aborted:
		outcome = "aborted"
	case out.Rejection != nil:
		outcome = "rejected"
		s.telemetry.RecordRejected(ctx, out.Rejection.Gate.String(), out.Status)
	default:
		s.telemetry.RecordAccepted(ctx, accountID)
	}
	out.Duration = time.Since(start)
	s.telemetry.RecordDuration(ctx, out.Duration, outcome)

	if s.onOutcome != nil {
		s.onOutcome(out)
	}
}

func (o Outcome) failedAt() State {
	if o.Rejection != nil {
		return o.Rejection.Gate - 1
	}
	return StateOriginChecked
}

// handle runs the gates in order. Each gate either advances or writes its own
// rejection and returns.
func (s *Service) handle(ctx context.Context, logger *slog.Logger, w http.ResponseWriter, r *http.Request, accountID string) Outcome {
	out := Outcome{AccountID: accountID}

	reject := func(gate State, status int, message string) Outcome {
		switch status {
		case http.StatusMethodNotAllowed:
			api.WriteMethodNotAllowed(w, http.MethodPost)
		case http.StatusForbidden:
			api.WriteForbidden(w, message)
		default:
			api.WriteBadRequest(w, message)
		}
		out.Status = status
		out.Rejection = &GateError{Gate: gate, Status: status, Message: message}
		logger.WarnContext(ctx, "interaction rejected", "gate", gate.String(), "status", status, "reason", message)
		return out
	}

	// MethodChecked
	if r.Method != http.MethodPost {
		return reject(StateMethodChecked, http.StatusMethodNotAllowed, "Method not allowed")
	}

	// OriginChecked
	if ip := api.RemoteIP(r); !IsLoopback(ip) {
		logger = logger.With("remote_ip", ip)
		return reject(StateOriginChecked, http.StatusForbidden, "Forbidden")
	}

	// BodyRead
	body, err := ReadBounded(ctx, r.Body, r.ContentLength, s.limits)
	if err != nil {
		status := http.StatusBadRequest
		switch {
		case errors.Is(err, ErrBodyTooLarge):
			status = http.StatusRequestEntityTooLarge
		case errors.Is(err, ErrBodyTimeout):
			status = http.StatusRequestTimeout
		}
		logger.WarnContext(ctx, "interaction body read aborted", "error", err)
		abortConnection(w, status)
		out.Status = status
		out.Aborted = true
		return out
	}

	// Parsed
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return reject(StateParsed, http.StatusBadRequest, "Invalid JSON")
	}

	// ContextPresent
	rawContext, ok := fields["context"]
	if !ok || string(rawContext) == "null" {
		return reject(StateContextPresent, http.StatusBadRequest, "Missing context")
	}
	payload, err := decodePayload(fields)
	if err != nil || payload.Context == nil {
		return reject(StateContextPresent, http.StatusBadRequest, "Invalid context")
	}

	// TokenVerified
	if _, present := payload.Context[TokenKey]; !present {
		return reject(StateTokenVerified, http.StatusForbidden, "Missing token")
	}
	token, ok := payload.Token()
	if !ok {
		return reject(StateTokenVerified, http.StatusForbidden, "Invalid token")
	}
	if _, err := s.secrets.Secret(accountID); err != nil {
		logger.ErrorContext(ctx, "no signing secret for account", "error", err)
		return reject(StateTokenVerified, http.StatusForbidden, "Invalid token")
	}
	if !s.codec.Verify(accountID, payload.Context, token) {
		return reject(StateTokenVerified, http.StatusForbidden, "Invalid token")
	}

	// ActionIdentified
	actionID, ok := payload.ActionID()
	if !ok {
		return reject(StateActionIdentified, http.StatusBadRequest, "Missing action_id")
	}
	out.ActionID = actionID
	logger = logger.With("action_id", actionID, "post_id", payload.PostID, "user_id", payload.UserID)

	// The response is decided from here on. Steps run detached from client
	// cancellation.
	stepCtx := context.WithoutCancel(ctx)

	// Dispatched
	out.Dispatch = s.dispatch(stepCtx, logger, accountID, actionID, &payload)
	s.logStep(ctx, logger, out.Dispatch)

	// PostUpdated
	out.Update = s.updatePost(stepCtx, accountID, actionID, &payload)
	s.logStep(ctx, logger, out.Update)

	// Responded
	api.WriteJSON(w, http.StatusOK, struct{}{})
	out.Status = http.StatusOK
	return out
}

// recoverStep turns a collaborator panic into the step's error.
func recoverStep(res *StepResult) {
	if r := recover(); r != nil {
		res.Err = fmt.Errorf("%s: panic: %v", res.Step, r)
	}
}

func (s *Service) dispatch(ctx context.Context, logger *slog.Logger, accountID, actionID string, p *Payload) (res StepResult) {
	res.Step = StepDispatch
	defer recoverStep(&res)
	if s.sink == nil {
		res.Skipped, res.Reason = true, "no event sink configured"
		return res
	}

	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	ev := eventsink.Event{
		SessionKey: resolveSessionKey(ctx, logger, s.resolver, accountID, p),
		ContextKey: ContextKey(p.PostID, actionID),
	}
	if err := s.sink.Enqueue(ctx, EventLabel(actionID, p.Actor()), ev); err != nil {
		res.Err = fmt.Errorf("enqueue %s: %w", ev.ContextKey, err)
	}
	return res
}

func (s *Service) updatePost(ctx context.Context, accountID, actionID string, p *Payload) (res StepResult) {
	res.Step = StepUpdate
	defer recoverStep(&res)
	if p.PostID == "" {
		res.Skipped, res.Reason = true, "payload has no post_id"
		return res
	}
	store := s.store(accountID)
	if store == nil {
		res.Skipped, res.Reason = true, "no message store for account"
		return res
	}

	start := time.Now()
	defer func() { res.Duration = time.Since(start) }()
	ctx, cancel := context.WithTimeout(ctx, s.stepTimeout)
	defer cancel()

	msg, err := store.FetchOriginal(ctx, p.PostID)
	if err != nil {
		res.Err = fmt.Errorf("fetch original: %w", err)
		return res
	}

	result := blocks.Transform(msg.Blocks, actionID, p.Actor())
	if !result.Changed {
		res.Skipped, res.Reason = true, "control already reconciled"
		return res
	}
	msg.Blocks = result.Layout

	if err := store.Update(ctx, p.PostID, msg); err != nil {
		res.Err = fmt.Errorf("update: %w", err)
	}
	return res
}

func (s *Service) logStep(ctx context.Context, logger *slog.Logger, res StepResult) {
	switch {
	case res.Err != nil:
		s.telemetry.RecordStepFailure(ctx, res.Step)
		logger.ErrorContext(ctx, "interaction step failed", "step", res.Step, "error", res.Err)
	case res.Skipped:
		logger.DebugContext(ctx, "interaction step skipped", "step", res.Step, "reason", res.Reason)
	default:
		logger.InfoContext(ctx, "interaction step done", "step", res.Step)
	}
}

// abortConnection tears down the client connection. Writers that cannot be
// hijacked (HTTP/2, recorders) get a closing error response instead.
func abortConnection(w http.ResponseWriter, status int) {
	conn, _, err := http.NewResponseController(w).Hijack()
	if err == nil {
		_ = conn.Close()
		return
	}
	w.Header().Set("Connection", "close")
	message := "Request body too large"
	if status == http.StatusRequestTimeout {
		message = "Request body timeout"
	}
	api.WriteError(w, status, message)
}

func accountFromRequest(r *http.Request) string {
	if id := r.PathValue("account"); id != "" {
		return id
	}
	path := strings.TrimRight(r.URL.Path, "/")
	if i := strings.LastIndex(path, "/"); i >= 0 {
		return path[i+1:]
	}
	return path
}
