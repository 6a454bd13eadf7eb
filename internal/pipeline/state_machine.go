package pipeline

import "github.com/deskflow/internal/thread"

// NextState computes the thread state after one pipeline run. Pure and
// total: no I/O, no hidden state. Rules are evaluated first match wins.
//
// HUMAN_HANDLING is never entered or left here; the observation service owns
// that overlay, and the orchestrator skips automated processing entirely
// while a human holds the thread.
func NextState(current thread.State, action thread.Action, intent thread.Intent, policyBlocked, missingInfo bool) (thread.State, string) {
	// Rule 1: a pure thank-you with nothing to do closes the thread.
	if action == thread.ActionNoReply && intent == thread.IntentThankYouClose {
		return thread.StateResolved, "thank_you_close"
	}

	// Rule 2: policy block is an absolute veto, escalation wins over
	// everything that follows.
	if action == thread.ActionEscalateWithDraft || policyBlocked {
		if policyBlocked {
			return thread.StateEscalated, "policy_blocked"
		}
		return thread.StateEscalated, "escalated_for_review"
	}

	// Rule 3: value-bearing intents without enough information wait on the
	// customer.
	if missingInfo {
		return thread.StateAwaitingInfo, "missing_required_info"
	}

	// Rule 4: an automated reply moves the thread into active handling.
	// Re-opens RESOLVED threads on new activity.
	if action == thread.ActionSendMacro || action == thread.ActionAskClarifying {
		return thread.StateInProgress, "automated_reply"
	}

	return current, "unchanged"
}
