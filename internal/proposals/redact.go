package proposals

import "regexp"

// The substitution list is ordered: card numbers before phone numbers so a
// 16-digit card is not half-eaten by the phone pattern, addresses before
// order numbers so house numbers survive long enough to match.
var redactions = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`), "[EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ \-]?){13,16}\b`), "[CARD]"},
	{regexp.MustCompile(`(?i)\b\d{1,5}\s+[A-Za-z0-9.\-]+\s+(?:street|st|avenue|ave|road|rd|boulevard|blvd|lane|ln|drive|dr|court|ct|way|place|pl)\.?\b`), "[ADDRESS]"},
	{regexp.MustCompile(`(?:\+?\d{1,2}[ \-.]?)?\(?\d{3}\)?[ \-.]?\d{3}[ \-.]?\d{4}\b`), "[PHONE]"},
	{regexp.MustCompile(`(?i)\border\s*(?:number|no\.?|#)?\s*[:#]?\s*[A-Z0-9]{2,}[\-]?\d{3,}\b`), "[ORDER]"},
	{regexp.MustCompile(`(?i)\bORD[\-#]?\d{4,}\b`), "[ORDER]"},
	{regexp.MustCompile(`#\d{4,}\b`), "[ORDER]"},
}

// Redact strips PII from text before it crosses the process boundary to the
// summarization collaborator. Pure and deterministic: same input, same
// output, in a fixed substitution order.
func Redact(text string) string {
	for _, r := range redactions {
		text = r.pattern.ReplaceAllString(text, r.replacement)
	}
	return text
}
