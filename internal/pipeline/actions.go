package pipeline

import "github.com/deskflow/internal/thread"

// Canned texts for intents answered without draft generation. Kept short
// and generic on purpose; anything order-specific goes through drafting.
var macroTexts = map[thread.Intent]string{
	thread.IntentOrderStatus: "Thanks for reaching out! We're checking on your order right now and " +
		"will follow up with tracking details shortly. If you have your order number handy, " +
		"replying with it speeds things up.",
	thread.IntentProductQuestion: "Thanks for your question! We've pulled up the product details and " +
		"a member of our team will confirm the specifics for you shortly.",
}

const clarifyingText = "Thanks for contacting us! To help you as quickly as possible, could you " +
	"share a few more details about your request? If this is about an order, please include " +
	"your order number."

// disputeClass intents always escalate. They bypass the required-info
// checker entirely: asking a customer threatening a chargeback for their
// order number is the wrong move.
func disputeClass(intent thread.Intent) bool {
	switch intent {
	case thread.IntentDispute, thread.IntentChargebackThreat, thread.IntentLegalThreat:
		return true
	}
	return false
}

// draftedIntents get a generated reply instead of a macro or a canned
// clarifying question.
func draftedIntent(intent thread.Intent) bool {
	switch intent {
	case thread.IntentReturnRequest, thread.IntentCancellation, thread.IntentExchange,
		thread.IntentShippingIssue, thread.IntentAddressChange, thread.IntentWarrantyClaim,
		thread.IntentGeneralQuestion:
		return true
	}
	return false
}

// selectAction picks the candidate action for an intent before drafting and
// policy gating run. Fixed precedence, first match wins:
//
//	thank-you close        -> NO_REPLY
//	dispute class          -> ESCALATE_WITH_DRAFT
//	missing required info  -> ASK_CLARIFYING_QUESTIONS
//	macro intents          -> SEND_PREAPPROVED_MACRO
//	drafted intents        -> REPLY_WITH_DRAFT
//	unclassified/other     -> ASK_CLARIFYING_QUESTIONS
//
// The policy gate may still downgrade the result to ESCALATE_WITH_DRAFT.
func selectAction(intent thread.Intent, missingInfo bool) thread.Action {
	switch {
	case intent == thread.IntentThankYouClose:
		return thread.ActionNoReply
	case disputeClass(intent):
		return thread.ActionEscalateWithDraft
	case missingInfo:
		return thread.ActionAskClarifying
	default:
		if _, ok := macroTexts[intent]; ok {
			return thread.ActionSendMacro
		}
		if draftedIntent(intent) {
			return thread.ActionReplyWithDraft
		}
		return thread.ActionAskClarifying
	}
}
