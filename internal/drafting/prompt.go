package drafting

import (
	"fmt"
	"strings"

	"github.com/deskflow/internal/kb"
	"github.com/deskflow/internal/thread"
)

const historyWindow = 10

const draftInstructions = `You are a customer support agent for an e-commerce store.
Write a reply to the customer's latest message.

Rules:
- Be concise, warm, and specific.
- Never promise refunds, replacements, or delivery dates unless the order
  context explicitly authorizes them.
- Never offer discounts or mention competitors.
- If you lack the information to resolve the request, ask for exactly what
  is missing.

Respond with a single JSON object and nothing else:
{"draft": "<the full reply text>"}`

func buildDraftPrompt(req Request, articles []*kb.Article, instructions []*kb.Instruction) string {
	var prompt strings.Builder
	prompt.WriteString(draftInstructions)
	prompt.WriteString("\n\n")

	if len(instructions) > 0 {
		prompt.WriteString("Standing operator instructions:\n")
		for _, in := range instructions {
			prompt.WriteString("- " + in.Text + "\n")
		}
		prompt.WriteString("\n")
	}

	if len(articles) > 0 {
		prompt.WriteString("Relevant knowledge base articles:\n")
		for _, a := range articles {
			prompt.WriteString(fmt.Sprintf("## %s\n%s\n\n", a.Title, a.Body))
		}
	}

	if req.CustomerInfo != "" {
		prompt.WriteString("Customer: " + req.CustomerInfo + "\n")
	}
	if req.OrderContext != "" {
		prompt.WriteString("Order context: " + req.OrderContext + "\n")
	}
	if req.CustomerContext != "" {
		prompt.WriteString("Customer context: " + req.CustomerContext + "\n")
	}
	prompt.WriteString("Classified intent: " + string(req.Intent) + "\n\n")

	if len(req.PreviousMessages) > 0 {
		prompt.WriteString("Conversation so far (oldest first):\n")
		start := 0
		if len(req.PreviousMessages) > historyWindow {
			start = len(req.PreviousMessages) - historyWindow
		}
		for _, m := range req.PreviousMessages[start:] {
			who := "customer"
			if m.Direction == thread.DirectionOutbound {
				who = "support"
			}
			prompt.WriteString(fmt.Sprintf("[%s] %s\n", who, m.Body))
		}
		prompt.WriteString("\n")
	}

	prompt.WriteString("Latest customer message:\n")
	prompt.WriteString(req.CustomerMessage)
	prompt.WriteString("\n")

	return prompt.String()
}
