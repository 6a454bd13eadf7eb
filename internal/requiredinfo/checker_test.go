package requiredinfo

import (
	"testing"

	"github.com/deskflow/internal/thread"
)

func TestReturnRequestMissingOrderNumber(t *testing.T) {
	res := Check(thread.IntentReturnRequest, "I want to return the shoes I bought last week, they don't fit.")
	if res.AllPresent {
		t.Fatalf("return without order number should be incomplete")
	}
	found := false
	for _, f := range res.Missing {
		if f == FieldOrderNumber {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing list should include order_number, got %v", res.Missing)
	}
}

func TestReturnRequestWithOrderNumber(t *testing.T) {
	for _, text := range []string{
		"I want to return order #10423, wrong size.",
		"Please cancel order number ORD-10423.",
		"returning my purchase, order: 99812",
	} {
		res := Check(thread.IntentReturnRequest, text)
		if !res.AllPresent {
			t.Fatalf("order reference in %q not detected: %v", text, res.Missing)
		}
	}
}

func TestAddressChangeNeedsBothFields(t *testing.T) {
	res := Check(thread.IntentAddressChange, "Can you ship order #555 to 12 Elm Street instead?")
	if !res.AllPresent {
		t.Fatalf("expected both fields present, missing %v", res.Missing)
	}

	res = Check(thread.IntentAddressChange, "I moved, please update my shipping address for order #555.")
	if res.AllPresent {
		t.Fatalf("address change without a new address should be incomplete")
	}
	if len(res.Present) != 1 || res.Present[0] != FieldOrderNumber {
		t.Fatalf("present list should be just order_number, got %v", res.Present)
	}
}

func TestIntentsWithoutRequirementsPass(t *testing.T) {
	for _, intent := range []thread.Intent{
		thread.IntentProductQuestion,
		thread.IntentGeneralQuestion,
		thread.IntentThankYouClose,
		thread.IntentDispute, // escalates before this check matters
		thread.IntentUnclassified,
	} {
		if res := Check(intent, "hello"); !res.AllPresent {
			t.Fatalf("intent %s should have no requirements, missing %v", intent, res.Missing)
		}
	}
}

func TestCheckDeterministicOrdering(t *testing.T) {
	a := Check(thread.IntentWarrantyClaim, "my blender broke")
	b := Check(thread.IntentWarrantyClaim, "my blender broke")
	if len(a.Missing) != len(b.Missing) {
		t.Fatalf("order of missing fields must be stable")
	}
	for i := range a.Missing {
		if a.Missing[i] != b.Missing[i] {
			t.Fatalf("order of missing fields must be stable: %v vs %v", a.Missing, b.Missing)
		}
	}
	if a.Missing[0] != FieldOrderNumber || a.Missing[1] != FieldPhotos {
		t.Fatalf("fields should follow the rule table order, got %v", a.Missing)
	}
}
