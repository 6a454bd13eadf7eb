// Package requiredinfo verifies that value-bearing intents carry enough
// information before the automated responder acts. Presence is decided by
// deterministic text patterns, never by the classifier: missing info always
// routes to a clarifying question regardless of classifier confidence.
package requiredinfo

import (
	"regexp"

	"github.com/deskflow/internal/thread"
)

// Field is one piece of information an intent requires.
type Field string

const (
	FieldOrderNumber Field = "order_number"
	FieldNewAddress  Field = "new_address"
	FieldPhotos      Field = "photos"
	FieldItemName    Field = "item_name"
)

// Result is the outcome of a required-info scan.
type Result struct {
	AllPresent bool    `json:"all_present"`
	Missing    []Field `json:"missing,omitempty"`
	Present    []Field `json:"present,omitempty"`
}

var fieldPatterns = map[Field]*regexp.Regexp{
	// Order references: "#1042", "order 1042", "ORD-2024-1042" and similar.
	FieldOrderNumber: regexp.MustCompile(`(?i)(#\d{3,}|\border(?:\s+(?:number|no\.?|id))?\s*[:#]?\s*[A-Z]{0,4}-?\d{3,}\b)`),
	FieldNewAddress:  regexp.MustCompile(`(?i)\b\d{1,5}\s+[A-Za-z][A-Za-z .]{2,40}\b(street|st|avenue|ave|road|rd|lane|ln|boulevard|blvd|drive|dr|way|court|ct)\b`),
	FieldPhotos:      regexp.MustCompile(`(?i)\b(photo|picture|image|attach(?:ed|ment)?)\b`),
	FieldItemName:    regexp.MustCompile(`(?i)\b(item|product|model|sku)\b`),
}

// requiredFields is the fixed, ordered rule table mapping intent to the
// fields it needs. Intents absent from the table require nothing.
// Dispute-class intents are deliberately absent: they escalate before this
// check can route them.
var requiredFields = map[thread.Intent][]Field{
	thread.IntentReturnRequest: {FieldOrderNumber},
	thread.IntentCancellation:  {FieldOrderNumber},
	thread.IntentExchange:      {FieldOrderNumber, FieldItemName},
	thread.IntentOrderStatus:   {FieldOrderNumber},
	thread.IntentShippingIssue: {FieldOrderNumber},
	thread.IntentAddressChange: {FieldOrderNumber, FieldNewAddress},
	thread.IntentWarrantyClaim: {FieldOrderNumber, FieldPhotos},
}

// Check scans text for the fields the intent requires.
func Check(intent thread.Intent, text string) Result {
	fields, ok := requiredFields[intent]
	if !ok {
		return Result{AllPresent: true}
	}

	res := Result{AllPresent: true}
	for _, f := range fields {
		if fieldPatterns[f].MatchString(text) {
			res.Present = append(res.Present, f)
		} else {
			res.Missing = append(res.Missing, f)
			res.AllPresent = false
		}
	}
	return res
}

// Required returns the ordered field list for an intent, for clarifying
// question construction.
func Required(intent thread.Intent) []Field {
	return append([]Field(nil), requiredFields[intent]...)
}
