package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/deskflow/internal/classify"
	"github.com/deskflow/internal/drafting"
	"github.com/deskflow/internal/messaging"
	"github.com/deskflow/internal/observation"
	"github.com/deskflow/internal/policy"
	"github.com/deskflow/internal/requiredinfo"
	"github.com/deskflow/internal/thread"
)

// ErrRunInProgress means another pipeline run for the same thread is inside
// the suppression window. The caller should retry; duplicate webhook
// deliveries can simply drop it.
var ErrRunInProgress = errors.New("a run is already in progress for this thread")

// IngestRequest is one inbound customer message entering the pipeline.
type IngestRequest struct {
	Channel          string             `json:"channel"`
	ThreadExternalID string             `json:"thread_external_id,omitempty"`
	ExternalID       string             `json:"external_id,omitempty"` // external message id
	Subject          string             `json:"subject"`
	BodyText         string             `json:"body_text"`
	FromIdentifier   string             `json:"from_identifier,omitempty"`
	ToIdentifier     string             `json:"to_identifier,omitempty"`
	MessageDate      time.Time          `json:"message_date,omitempty"`
	Verification     VerificationStatus `json:"verification,omitempty"`
	Metadata         map[string]string  `json:"metadata,omitempty"`
}

// IngestResult reports what one pipeline run decided.
type IngestResult struct {
	ThreadID      string              `json:"thread_id"`
	Intent        thread.Intent       `json:"intent"`
	Confidence    float64             `json:"confidence"`
	Action        thread.Action       `json:"action"`
	Draft         string              `json:"draft,omitempty"`
	State         thread.State        `json:"state"`
	PreviousState thread.State        `json:"previous_state"`
	Duplicate     bool                `json:"duplicate,omitempty"`
	HumanHandling bool                `json:"human_handling,omitempty"`
	AutoSent      bool                `json:"auto_sent,omitempty"`
	PolicyReasons []string            `json:"policy_reasons,omitempty"`
	MissingInfo   []requiredinfo.Field `json:"missing_info,omitempty"`
}

// ApprovalsFunc supplies the per-thread promise approvals for the policy
// gate. Nil means nothing is approved.
type ApprovalsFunc func(ctx context.Context, threadID string) policy.Approvals

// Config wires the orchestrator's collaborators explicitly. No ambient
// clients, no globals.
type Config struct {
	Threads      thread.Store
	Classifier   classify.Classifier
	Drafter      drafting.Generator
	Observations *observation.Service
	Sender       messaging.Sender
	AutoSend     AutoSendConfig
	Approvals    ApprovalsFunc

	// RunGuardWindow bounds the per-thread duplicate-run suppression.
	RunGuardWindow time.Duration
}

// Orchestrator sequences one inbound message through classification,
// required-info verification, drafting, policy gating, the state machine,
// persistence, and the auto-send decision.
type Orchestrator struct {
	cfg   Config
	guard *runGuard
}

func NewOrchestrator(cfg Config) *Orchestrator {
	window := cfg.RunGuardWindow
	if window <= 0 {
		window = 30 * time.Second
	}
	return &Orchestrator{
		cfg:   cfg,
		guard: newRunGuard(window),
	}
}

// ProcessIngest runs the full pipeline for one inbound message. Requests
// for different threads may run concurrently; per-thread runs are
// serialized best-effort via the run guard, with idempotent writes covering
// the residual race.
func (o *Orchestrator) ProcessIngest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	guardKey := req.ThreadExternalID
	if guardKey == "" {
		guardKey = req.ExternalID
	}
	if guardKey != "" {
		if !o.guard.tryAcquire(guardKey) {
			return nil, ErrRunInProgress
		}
		defer o.guard.release(guardKey)
	}

	t, err := o.resolveThread(ctx, req)
	if err != nil {
		return nil, err
	}
	previousState := t.State

	// A human holds this thread: persist the message, feed the observation
	// transcript, and stay out of the way.
	if t.HumanHandling || t.State == thread.StateHumanHandling {
		return o.processWhileObserved(ctx, t, req, previousState)
	}

	inserted, err := o.appendInbound(ctx, t, req)
	if err != nil {
		return nil, fmt.Errorf("append inbound message: %w", err)
	}
	if !inserted {
		// Duplicate delivery: the first run already transitioned the thread.
		log.Debug().Str("thread_id", t.ID).Str("external_id", req.ExternalID).Msg("Duplicate message delivery ignored")
		return &IngestResult{
			ThreadID:      t.ID,
			Intent:        t.LastIntent,
			Action:        thread.ActionNoReply,
			State:         t.State,
			PreviousState: previousState,
			Duplicate:     true,
		}, nil
	}

	// Classification failure degrades to unclassified, never fails ingest.
	classification, err := o.classify(ctx, t, req)
	degraded := false
	if err != nil {
		log.Warn().Err(err).Str("thread_id", t.ID).Msg("Classification failed, falling back to unclassified")
		classification = classify.Fallback()
		degraded = true
	}

	info := requiredinfo.Check(classification.Intent, req.BodyText)
	missingInfo := !info.AllPresent

	action := selectAction(classification.Intent, missingInfo)

	draft, action, draftDegraded := o.draft(ctx, t, req, classification, action)
	degraded = degraded || draftDegraded

	// The gate runs on everything we might send, canned or generated.
	body := outboundBody(action, classification.Intent, draft)
	verdict := policy.Verdict{OK: true}
	if body != "" {
		verdict = policy.Gate(body, o.approvals(ctx, t.ID))
	}
	policyBlocked := !verdict.OK
	if policyBlocked {
		// Never send, never drop: a human sees the blocked draft and why.
		action = thread.ActionEscalateWithDraft
		draft = body
	}

	nextState, reason := NextState(previousState, action, classification.Intent, policyBlocked, missingInfo)

	if err := o.persist(ctx, t, req, classification, info, action, draft, verdict, previousState, nextState, reason, degraded); err != nil {
		return nil, err
	}

	result := &IngestResult{
		ThreadID:      t.ID,
		Intent:        classification.Intent,
		Confidence:    classification.Confidence,
		Action:        action,
		Draft:         draft,
		State:         nextState,
		PreviousState: previousState,
		PolicyReasons: verdict.Reasons,
		MissingInfo:   info.Missing,
	}

	if body != "" && !policyBlocked && action != thread.ActionEscalateWithDraft {
		result.AutoSent = o.autoSend(ctx, t, req, classification, verdict, body)
	}

	log.Info().
		Str("thread_id", t.ID).
		Str("intent", string(classification.Intent)).
		Float64("confidence", classification.Confidence).
		Str("action", string(action)).
		Str("state", string(nextState)).
		Str("previous_state", string(previousState)).
		Bool("auto_sent", result.AutoSent).
		Msg("Ingest processed")

	return result, nil
}

func (o *Orchestrator) resolveThread(ctx context.Context, req IngestRequest) (*thread.Thread, error) {
	if req.ThreadExternalID != "" {
		t, err := o.cfg.Threads.GetThreadByExternalID(ctx, req.ThreadExternalID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, thread.ErrNotFound) {
			return nil, fmt.Errorf("resolve thread: %w", err)
		}
	}

	t := &thread.Thread{
		ExternalID: req.ThreadExternalID,
		Channel:    req.Channel,
		Subject:    req.Subject,
		State:      thread.StateNew,
	}
	if err := o.cfg.Threads.CreateThread(ctx, t); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	return t, nil
}

func (o *Orchestrator) processWhileObserved(ctx context.Context, t *thread.Thread, req IngestRequest, previousState thread.State) (*IngestResult, error) {
	inserted, err := o.appendInbound(ctx, t, req)
	if err != nil {
		return nil, fmt.Errorf("append inbound message: %w", err)
	}
	if inserted && o.cfg.Observations != nil {
		err := o.cfg.Observations.Record(ctx, t.ID, observation.ObservedMessage{
			Direction: string(thread.DirectionInbound),
			From:      req.FromIdentifier,
			Body:      req.BodyText,
			SeenAt:    req.MessageDate,
		})
		if err != nil {
			log.Error().Err(err).Str("thread_id", t.ID).Msg("Failed to record observed message")
		}
	}

	return &IngestResult{
		ThreadID:      t.ID,
		Action:        thread.ActionNoReply,
		State:         t.State,
		PreviousState: previousState,
		Duplicate:     !inserted,
		HumanHandling: true,
	}, nil
}

func (o *Orchestrator) appendInbound(ctx context.Context, t *thread.Thread, req IngestRequest) (bool, error) {
	m := &thread.Message{
		ThreadID:   t.ID,
		ExternalID: req.ExternalID,
		Direction:  thread.DirectionInbound,
		Role:       thread.RoleMessage,
		From:       req.FromIdentifier,
		To:         req.ToIdentifier,
		Body:       req.BodyText,
	}
	return o.cfg.Threads.AppendMessage(ctx, m)
}

func (o *Orchestrator) classify(ctx context.Context, t *thread.Thread, req IngestRequest) (classify.Result, error) {
	return o.cfg.Classifier.Classify(ctx, req.Subject, req.BodyText, o.priorMessages(ctx, t, req))
}

// priorMessages loads the conversation history excluding the message being
// processed; collaborators receive that one separately and must not see it
// twice.
func (o *Orchestrator) priorMessages(ctx context.Context, t *thread.Thread, req IngestRequest) []thread.Message {
	history, err := o.cfg.Threads.ListMessages(ctx, t.ID, 20)
	if err != nil {
		log.Warn().Err(err).Str("thread_id", t.ID).Msg("Failed to load conversation history")
		return nil
	}
	var msgs []thread.Message
	for _, m := range history {
		if m.Role != thread.RoleMessage {
			continue
		}
		if req.ExternalID != "" && m.ExternalID == req.ExternalID {
			continue
		}
		msgs = append(msgs, *m)
	}
	// Without an external id the just-appended message is the newest row.
	if req.ExternalID == "" && len(msgs) > 0 {
		last := msgs[len(msgs)-1]
		if last.Direction == thread.DirectionInbound && last.Body == req.BodyText {
			msgs = msgs[:len(msgs)-1]
		}
	}
	return msgs
}

// draft calls the generator when the action needs one. Drafting failure is
// a degradation, not an error: reply actions fall back to a clarifying
// question, escalations proceed without a draft.
func (o *Orchestrator) draft(ctx context.Context, t *thread.Thread, req IngestRequest, c classify.Result, action thread.Action) (string, thread.Action, bool) {
	if action != thread.ActionReplyWithDraft && action != thread.ActionEscalateWithDraft {
		return "", action, false
	}
	if o.cfg.Drafter == nil {
		if action == thread.ActionReplyWithDraft {
			return "", thread.ActionAskClarifying, true
		}
		return "", action, false
	}

	result, err := o.cfg.Drafter.Generate(ctx, drafting.Request{
		ThreadID:         t.ID,
		CustomerMessage:  req.BodyText,
		Intent:           c.Intent,
		PreviousMessages: o.priorMessages(ctx, t, req),
		CustomerInfo:     req.FromIdentifier,
	})
	if err != nil || !result.Success {
		if err == nil {
			err = errors.New(result.Error)
		}
		log.Warn().Err(err).Str("thread_id", t.ID).Msg("Draft generation failed")
		if action == thread.ActionReplyWithDraft {
			return "", thread.ActionAskClarifying, true
		}
		return "", action, true
	}
	return result.Draft, action, false
}

// pendingActionFor tags what the thread is waiting on while in
// AWAITING_INFO. Photos get their own tag so operators can tell an attachment
// wait from an answer wait.
func pendingActionFor(missing []requiredinfo.Field) *thread.PendingAction {
	for _, f := range missing {
		if f == requiredinfo.FieldPhotos {
			return &thread.PendingAction{
				Type:        thread.PendingAwaitingCustomerPhotos,
				Description: "waiting for the customer to attach photos",
				WaitingFor:  "customer",
			}
		}
	}

	desc := "waiting for the customer to answer a clarifying question"
	if len(missing) > 0 {
		parts := make([]string, len(missing))
		for i, f := range missing {
			parts[i] = string(f)
		}
		desc = "waiting for the customer to provide " + strings.Join(parts, ", ")
	}
	return &thread.PendingAction{
		Type:        thread.PendingAwaitingCustomerConfirmation,
		Description: desc,
		WaitingFor:  "customer",
	}
}

// outboundBody resolves what would actually be sent for the action.
func outboundBody(action thread.Action, intent thread.Intent, draft string) string {
	switch action {
	case thread.ActionSendMacro:
		return macroTexts[intent]
	case thread.ActionAskClarifying:
		return clarifyingText
	case thread.ActionReplyWithDraft, thread.ActionEscalateWithDraft:
		return draft
	}
	return ""
}

func (o *Orchestrator) approvals(ctx context.Context, threadID string) policy.Approvals {
	if o.cfg.Approvals == nil {
		return policy.Approvals{}
	}
	return o.cfg.Approvals(ctx, threadID)
}

// persist writes the transition. Thread and draft writes are primary;
// event-write failure is logged and never rolls them back.
func (o *Orchestrator) persist(ctx context.Context, t *thread.Thread, req IngestRequest, c classify.Result, info requiredinfo.Result, action thread.Action, draft string, verdict policy.Verdict, previousState, nextState thread.State, reason string, degraded bool) error {
	t.State = nextState
	t.LastIntent = c.Intent
	if err := o.cfg.Threads.UpdateThread(ctx, t); err != nil {
		return fmt.Errorf("update thread: %w", err)
	}

	// Pending action tracks what an awaiting-info thread is blocked on; any
	// other outcome means the wait is over.
	switch {
	case nextState == thread.StateAwaitingInfo:
		pa := pendingActionFor(info.Missing)
		if err := o.cfg.Threads.SetPendingAction(ctx, t.ID, pa); err != nil {
			log.Error().Err(err).Str("thread_id", t.ID).Msg("Failed to set pending action")
		} else {
			t.PendingAction = pa
		}
	case t.PendingAction != nil:
		if err := o.cfg.Threads.ClearPendingAction(ctx, t.ID); err != nil {
			log.Error().Err(err).Str("thread_id", t.ID).Msg("Failed to clear pending action")
		} else {
			t.PendingAction = nil
		}
	}

	if draft != "" {
		dm := &thread.Message{
			ThreadID:  t.ID,
			Direction: thread.DirectionOutbound,
			Role:      thread.RoleDraft,
			To:        req.FromIdentifier,
			Body:      draft,
		}
		if err := o.cfg.Threads.SaveDraft(ctx, dm); err != nil {
			log.Error().Err(err).Str("thread_id", t.ID).Msg("Failed to save draft")
		}
	}

	payload := map[string]any{
		"intent":     string(c.Intent),
		"confidence": c.Confidence,
		"action":     string(action),
		"state_transition": map[string]any{
			"from":   string(previousState),
			"to":     string(nextState),
			"reason": reason,
		},
		"required_info": map[string]any{
			"all_present": info.AllPresent,
			"missing":     info.Missing,
			"present":     info.Present,
		},
	}
	if draft != "" {
		payload["draft"] = draft
	}
	if !verdict.OK {
		payload["policy_reasons"] = verdict.Reasons
	}
	if degraded {
		payload["degraded"] = true
	}

	ev := &thread.Event{ThreadID: t.ID, Type: thread.EventIngestProcessed, Payload: payload}
	if err := o.cfg.Threads.AppendEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("thread_id", t.ID).Msg("Failed to append ingest event")
	}

	if !verdict.OK {
		bev := &thread.Event{
			ThreadID: t.ID,
			Type:     thread.EventPolicyBlocked,
			Payload:  map[string]any{"reasons": verdict.Reasons, "draft": draft},
		}
		if err := o.cfg.Threads.AppendEvent(ctx, bev); err != nil {
			log.Error().Err(err).Str("thread_id", t.ID).Msg("Failed to append policy event")
		}
	}

	return nil
}

// autoSend performs the send side effect when the draft qualifies. The
// sender is idempotent on external message id, so a duplicate delivery that
// slipped past the run guard cannot double-send.
func (o *Orchestrator) autoSend(ctx context.Context, t *thread.Thread, req IngestRequest, c classify.Result, verdict policy.Verdict, body string) bool {
	verification := req.Verification
	if verification == "" {
		verification = VerificationUnverified
	}
	if !o.cfg.AutoSend.ShouldAutoSend(c.Intent, c.Confidence, verification, verdict) {
		return false
	}
	if o.cfg.Sender == nil {
		return false
	}

	externalID := ""
	if req.ExternalID != "" {
		externalID = "reply-" + req.ExternalID
	}
	sendResult, err := o.cfg.Sender.Send(ctx, messaging.OutboundMessage{
		ThreadID:   t.ID,
		ExternalID: externalID,
		Channel:    req.Channel,
		To:         req.FromIdentifier,
		Subject:    req.Subject,
		Body:       body,
	})
	if err != nil {
		log.Error().Err(err).Str("thread_id", t.ID).Msg("Auto-send failed, draft withheld for review")
		return false
	}
	if sendResult.Duplicate {
		return true
	}

	out := &thread.Message{
		ThreadID:  t.ID,
		Direction: thread.DirectionOutbound,
		Role:      thread.RoleMessage,
		From:      req.ToIdentifier,
		To:        req.FromIdentifier,
		Body:      body,
	}
	if _, err := o.cfg.Threads.AppendMessage(ctx, out); err != nil {
		log.Error().Err(err).Str("thread_id", t.ID).Msg("Failed to persist sent reply")
	}
	if err := o.cfg.Threads.DeleteDraft(ctx, t.ID); err != nil && !errors.Is(err, thread.ErrNotFound) {
		log.Error().Err(err).Str("thread_id", t.ID).Msg("Failed to clear sent draft")
	}

	ev := &thread.Event{
		ThreadID: t.ID,
		Type:     thread.EventDraftSent,
		Payload:  map[string]any{"message_id": sendResult.MessageID, "auto": true},
	}
	if err := o.cfg.Threads.AppendEvent(ctx, ev); err != nil {
		log.Error().Err(err).Str("thread_id", t.ID).Msg("Failed to append send event")
	}

	return true
}
