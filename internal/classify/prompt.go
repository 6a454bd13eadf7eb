package classify

import (
	"fmt"
	"strings"

	"github.com/deskflow/internal/thread"
)

// historyWindow caps how many prior messages go to the classifier.
const historyWindow = 10

const classifyInstructions = `You are an intent classifier for an e-commerce customer support desk.
Classify the latest customer message into exactly one intent from this list:

order_status, return_request, cancellation, exchange, shipping_issue,
address_change, warranty_claim, product_question, general_question,
thank_you_close, dispute, chargeback_threat, legal_threat, unclassified

Rules:
- thank_you_close is only for messages that close the conversation with thanks and ask for nothing.
- dispute, chargeback_threat and legal_threat cover angry or threatening messages about charges or legal action.
- Use unclassified when no category fits.

Respond with a single JSON object and nothing else:
{
  "intent": "<one of the intents above>",
  "confidence": <number between 0 and 1>,
  "missing_info_hints": ["<information the customer did not provide>"],
  "reasoning": "<one short sentence>"
}`

func buildClassifyPrompt(subject, body string, history []thread.Message) string {
	var prompt strings.Builder
	prompt.WriteString(classifyInstructions)
	prompt.WriteString("\n\n")

	if len(history) > 0 {
		prompt.WriteString("Conversation so far (oldest first):\n")
		start := 0
		if len(history) > historyWindow {
			start = len(history) - historyWindow
		}
		for _, m := range history[start:] {
			who := "customer"
			if m.Direction == thread.DirectionOutbound {
				who = "support"
			}
			prompt.WriteString(fmt.Sprintf("[%s] %s\n", who, m.Body))
		}
		prompt.WriteString("\n")
	}

	if subject != "" {
		prompt.WriteString("Subject: " + subject + "\n")
	}
	prompt.WriteString("Latest customer message:\n")
	prompt.WriteString(body)
	prompt.WriteString("\n")

	return prompt.String()
}
