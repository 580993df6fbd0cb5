// Package inspection provides the defect identity model for the workshop
// reconciliation engine.
//
// A defect detected on a vehicle inspection is identified by its Signature:
// the checklist item number combined with the normalized item description.
// Two defects with the same item number and the same normalized description
// are the same defect, across repeated inspections and across edits of the
// same inspection. The Signature is the sole identity used for task
// deduplication.
package inspection

import (
	"fmt"
	"strconv"
	"strings"
)

// Signature computes the stable identity of a defect from its checklist
// item number and description.
//
// The description is normalized (trimmed, case-folded, internal whitespace
// collapsed) before being joined with the item number, so trivial
// formatting differences never create a new identity:
//
//	Signature(4, "  Brake   Pads ") == Signature(4, "brake pads")
//
// Signature is pure and total: it never fails, for any input. Rejecting
// empty descriptions is the caller's responsibility (see Defect.Validate).
func Signature(itemNumber int, itemDescription string) string {
	return fmt.Sprintf("%d|%s", itemNumber, NormalizeDescription(itemDescription))
}

// NormalizeDescription applies the signature normalization rules to a
// checklist item description: leading/trailing whitespace is removed, the
// text is lower-cased, and runs of internal whitespace collapse to a
// single space.
//
// The lock resolver applies the same rules when parsing legacy task text,
// so both sides of a comparison normalize identically.
func NormalizeDescription(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// ParseItemRef derives an item number and description from free task text.
//
// This is the legacy fallback used only for task rows that predate the
// structured back-reference to their originating inspection item. Titles
// historically carried the form "Item 4: Brake Pads" (or "4 - Brake Pads");
// this parser recognizes those shapes and nothing else. New code stores the
// back-reference and never needs to parse.
//
// The returned description is normalized. ok is false when the text does
// not carry a recognizable item reference.
func ParseItemRef(title, description string) (itemNumber int, desc string, ok bool) {
	for _, text := range []string{title, description} {
		if n, d, found := parseItemText(text); found {
			return n, d, true
		}
	}
	return 0, "", false
}

// parseItemText matches "Item <n>: <desc>", "Item <n> - <desc>" and the
// bare "<n>: <desc>" / "<n> - <desc>" forms.
func parseItemText(text string) (int, string, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, "", false
	}

	lower := strings.ToLower(text)
	if strings.HasPrefix(lower, "item ") {
		text = strings.TrimSpace(text[len("item "):])
	}

	// Split the leading number from the rest on ":" or "-".
	sep := strings.IndexAny(text, ":-")
	if sep <= 0 {
		return 0, "", false
	}

	num, err := strconv.Atoi(strings.TrimSpace(text[:sep]))
	if err != nil || num <= 0 {
		return 0, "", false
	}

	desc := NormalizeDescription(text[sep+1:])
	if desc == "" {
		return 0, "", false
	}

	return num, desc, true
}
