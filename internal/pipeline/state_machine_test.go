package pipeline

import (
	"testing"

	"github.com/deskflow/internal/thread"
)

func TestNextStateTable(t *testing.T) {
	cases := []struct {
		name          string
		current       thread.State
		action        thread.Action
		intent        thread.Intent
		policyBlocked bool
		missingInfo   bool
		want          thread.State
		wantReason    string
	}{
		{
			name:    "thank you close resolves",
			current: thread.StateInProgress, action: thread.ActionNoReply, intent: thread.IntentThankYouClose,
			want: thread.StateResolved, wantReason: "thank_you_close",
		},
		{
			name:    "no reply without thank you leaves state alone",
			current: thread.StateInProgress, action: thread.ActionNoReply, intent: thread.IntentGeneralQuestion,
			want: thread.StateInProgress, wantReason: "unchanged",
		},
		{
			name:    "escalate with draft escalates",
			current: thread.StateNew, action: thread.ActionEscalateWithDraft, intent: thread.IntentDispute,
			want: thread.StateEscalated, wantReason: "escalated_for_review",
		},
		{
			name:    "policy block escalates",
			current: thread.StateInProgress, action: thread.ActionReplyWithDraft, intent: thread.IntentReturnRequest,
			policyBlocked: true,
			want:          thread.StateEscalated, wantReason: "policy_blocked",
		},
		{
			name:    "missing info awaits customer",
			current: thread.StateNew, action: thread.ActionAskClarifying, intent: thread.IntentReturnRequest,
			missingInfo: true,
			want:        thread.StateAwaitingInfo, wantReason: "missing_required_info",
		},
		{
			name:    "macro reply moves to in progress",
			current: thread.StateNew, action: thread.ActionSendMacro, intent: thread.IntentOrderStatus,
			want: thread.StateInProgress, wantReason: "automated_reply",
		},
		{
			name:    "clarifying with info present moves to in progress",
			current: thread.StateNew, action: thread.ActionAskClarifying, intent: thread.IntentGeneralQuestion,
			want: thread.StateInProgress, wantReason: "automated_reply",
		},
		{
			name:    "resolved thread reopens on new activity",
			current: thread.StateResolved, action: thread.ActionSendMacro, intent: thread.IntentOrderStatus,
			want: thread.StateInProgress, wantReason: "automated_reply",
		},
		{
			name:    "reply with draft holds state for review",
			current: thread.StateInProgress, action: thread.ActionReplyWithDraft, intent: thread.IntentGeneralQuestion,
			want: thread.StateInProgress, wantReason: "unchanged",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, reason := NextState(tc.current, tc.action, tc.intent, tc.policyBlocked, tc.missingInfo)
			if got != tc.want {
				t.Errorf("state = %s, want %s", got, tc.want)
			}
			if reason != tc.wantReason {
				t.Errorf("reason = %q, want %q", reason, tc.wantReason)
			}
		})
	}
}

// Policy block is an absolute veto: no combination of other inputs may
// produce anything but ESCALATED.
func TestNextStatePolicyBlockAbsoluteVeto(t *testing.T) {
	states := []thread.State{thread.StateNew, thread.StateAwaitingInfo, thread.StateInProgress, thread.StateEscalated, thread.StateResolved}
	actions := []thread.Action{thread.ActionNoReply, thread.ActionSendMacro, thread.ActionAskClarifying, thread.ActionReplyWithDraft, thread.ActionEscalateWithDraft}
	intents := []thread.Intent{thread.IntentThankYouClose, thread.IntentReturnRequest, thread.IntentGeneralQuestion, thread.IntentUnclassified}

	for _, s := range states {
		for _, a := range actions {
			for _, i := range intents {
				for _, missing := range []bool{false, true} {
					// Rule 1 beats rule 2 for a pure thank-you close; that
					// combination carries no draft so no gate could block it.
					if a == thread.ActionNoReply && i == thread.IntentThankYouClose {
						continue
					}
					got, _ := NextState(s, a, i, true, missing)
					if got != thread.StateEscalated {
						t.Fatalf("policyBlocked must escalate: state=%s action=%s intent=%s missing=%v got %s", s, a, i, missing, got)
					}
				}
			}
		}
	}
}

func TestNextStateIsPure(t *testing.T) {
	first, firstReason := NextState(thread.StateNew, thread.ActionAskClarifying, thread.IntentReturnRequest, false, true)
	for i := 0; i < 10; i++ {
		got, reason := NextState(thread.StateNew, thread.ActionAskClarifying, thread.IntentReturnRequest, false, true)
		if got != first || reason != firstReason {
			t.Fatalf("NextState not deterministic: (%s,%s) vs (%s,%s)", got, reason, first, firstReason)
		}
	}
}
