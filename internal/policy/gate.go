// Package policy is the single hard safety backstop for outbound drafts.
// The gate runs on every draft regardless of origin (automated or composed
// through the admin tools) and its verdict is never overridden by classifier
// confidence. A deterministic scan, not a model: the same draft always
// produces the same verdict, so every block is auditable after the fact.
package policy

import (
	"fmt"
	"regexp"
	"strings"
)

// Verdict is the gate result. Not an error: a failed gate is a first-class
// outcome that downgrades the action to escalation.
type Verdict struct {
	OK      bool     `json:"ok"`
	Reasons []string `json:"reasons,omitempty"`
}

// Approvals is the set of commitments already authorized for a thread.
// A promise pattern matching an approved commitment does not block.
type Approvals struct {
	RefundApproved      bool
	ReplacementApproved bool
	TimelineApproved    bool
}

type bannedRule struct {
	pattern *regexp.Regexp
	reason  string
}

var bannedRules = []bannedRule{
	// Unauthorized discounts.
	{regexp.MustCompile(`(?i)\b\d{1,3}\s?%\s+(off|discount)\b`), "offers a discount the operator has not authorized"},
	{regexp.MustCompile(`(?i)\b(discount|coupon|promo)\s+code\b`), "offers a discount code"},
	{regexp.MustCompile(`(?i)\bfree\s+(shipping|upgrade|product|item)\b`), "offers a free item or service"},

	// Competitor mentions.
	{regexp.MustCompile(`(?i)\b(our\s+competitor|competing\s+(brand|product|store))\b`), "mentions a competitor"},
	{regexp.MustCompile(`(?i)\b(buy|purchase|order)\s+(it|this|the\s+\w+)\s+(from|at)\s+(amazon|ebay|walmart|aliexpress)\b`), "directs the customer to a competitor"},

	// Legal-advice phrasing.
	{regexp.MustCompile(`(?i)\b(legal\s+advice|you\s+should\s+sue|consult\s+(a|your)\s+(lawyer|attorney))\b`), "contains legal-advice phrasing"},
	{regexp.MustCompile(`(?i)\b(we\s+(admit|accept)\s+(fault|liability)|this\s+is\s+our\s+legal\s+obligation)\b`), "makes a liability admission"},
}

type promiseRule struct {
	pattern  *regexp.Regexp
	approved func(Approvals) bool
	reason   string
}

var promiseRules = []promiseRule{
	{
		regexp.MustCompile(`(?i)\b(full|complete|100%)?\s*refund(ed|ing)?\b.{0,40}\b(issue|process|send|give|receive|get)\b|\b(issue|process|send|give)\b.{0,40}\brefund\b`),
		func(a Approvals) bool { return a.RefundApproved },
		"promises a refund that has not been approved for this thread",
	},
	{
		regexp.MustCompile(`(?i)\b(send|ship)\b.{0,40}\breplacement\b|\breplacement\b.{0,40}\b(on\s+its\s+way|shipped|sent)\b`),
		func(a Approvals) bool { return a.ReplacementApproved },
		"promises a replacement that has not been approved for this thread",
	},
	{
		regexp.MustCompile(`(?i)\b(arrive|delivered|resolved|fixed)\b.{0,30}\b(within|by|in)\s+\d+\s*(hours?|days?|business\s+days?)\b`),
		func(a Approvals) bool { return a.TimelineApproved },
		"commits to a delivery or resolution timeline that has not been approved",
	},
	{
		regexp.MustCompile(`(?i)\bguarantee[ds]?\b`),
		func(a Approvals) bool { return false },
		"uses guarantee language",
	},
}

// Gate scans a candidate draft. On failure the caller must not send the
// draft and must not drop it either: the action downgrades to escalation so
// a reviewer sees exactly what was blocked and why.
func Gate(draft string, approvals Approvals) Verdict {
	text := strings.TrimSpace(draft)
	if text == "" {
		return Verdict{OK: true}
	}

	var reasons []string
	for _, r := range bannedRules {
		if r.pattern.MatchString(text) {
			reasons = append(reasons, fmt.Sprintf("banned content: %s", r.reason))
		}
	}
	for _, r := range promiseRules {
		if r.pattern.MatchString(text) && !r.approved(approvals) {
			reasons = append(reasons, fmt.Sprintf("unauthorized promise: %s", r.reason))
		}
	}

	return Verdict{OK: len(reasons) == 0, Reasons: reasons}
}
