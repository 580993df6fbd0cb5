package inspection

import (
	"fmt"
	"sort"
	"strings"
)

// Item is one checklist row of a submitted inspection. Multi-day
// inspections repeat the same checklist item once per day, so several
// Items may describe the same underlying defect.
type Item struct {
	// ID is the inspection item's row identifier in the surrounding system.
	ID string

	// Number is the checklist item number, stable within a template.
	Number int

	// Description is the checklist item text.
	Description string

	// Status is the per-occurrence status recorded by the inspector
	// (ok, attention, defect, ...). Only non-ok rows become defects.
	Status string

	// Comment is the inspector's free-text note for this occurrence.
	Comment string

	// Day is the day-of-inspection this occurrence belongs to (1-based).
	Day int
}

// Defect is the reconciler's input unit: one logical checklist failure,
// collapsed across all days of the inspection it was reported on.
type Defect struct {
	ItemNumber   int
	Description  string
	AffectedDays []int
	Comment      string

	// PrimaryItemID identifies the representative inspection item used
	// for the task's back-reference.
	PrimaryItemID string
}

// Signature returns the defect's stable identity.
func (d *Defect) Signature() string {
	return Signature(d.ItemNumber, d.Description)
}

// Validate checks that the defect is well-formed enough to reconcile.
// A malformed defect is rejected individually; it never aborts a batch.
func (d *Defect) Validate() error {
	if d.ItemNumber <= 0 {
		return fmt.Errorf("item number must be positive (got %d)", d.ItemNumber)
	}
	if strings.TrimSpace(d.Description) == "" {
		return fmt.Errorf("item description is required")
	}
	return nil
}

// CollapseItems folds the defective rows of one inspection into logical
// defects, one per signature.
//
// Occurrences of the same checklist item across different days merge into
// a single Defect: day numbers are collected (sorted, de-duplicated),
// comments are joined in day order, and the occurrence with the lowest day
// becomes the primary item for the back-reference.
//
// Rows whose status is "ok" (or empty) carry no defect and are ignored.
// The result is ordered by item number for deterministic processing.
func CollapseItems(items []Item) []Defect {
	type note struct {
		day  int
		text string
	}
	type group struct {
		defect Defect
		byDay  map[int]bool
		minDay int
		notes  []note
	}

	groups := make(map[string]*group)
	var order []string

	for _, it := range items {
		if it.Status == "" || strings.EqualFold(it.Status, "ok") {
			continue
		}

		sig := Signature(it.Number, it.Description)
		g, exists := groups[sig]
		if !exists {
			g = &group{
				defect: Defect{
					ItemNumber:    it.Number,
					Description:   it.Description,
					PrimaryItemID: it.ID,
				},
				byDay:  make(map[int]bool),
				minDay: it.Day,
			}
			groups[sig] = g
			order = append(order, sig)
		}

		if !g.byDay[it.Day] {
			g.byDay[it.Day] = true
			g.defect.AffectedDays = append(g.defect.AffectedDays, it.Day)
		}
		if c := strings.TrimSpace(it.Comment); c != "" {
			g.notes = append(g.notes, note{day: it.Day, text: c})
		}

		// The earliest day's row is the representative item.
		if it.Day < g.minDay {
			g.minDay = it.Day
			g.defect.PrimaryItemID = it.ID
		}
	}

	defects := make([]Defect, 0, len(order))
	for _, sig := range order {
		g := groups[sig]
		sort.Ints(g.defect.AffectedDays)

		// Input rows may arrive in any order; comments read day by day.
		sort.SliceStable(g.notes, func(i, j int) bool {
			return g.notes[i].day < g.notes[j].day
		})
		texts := make([]string, len(g.notes))
		for i, n := range g.notes {
			texts[i] = n.text
		}
		g.defect.Comment = strings.Join(texts, "; ")
		defects = append(defects, g.defect)
	}

	sort.Slice(defects, func(i, j int) bool {
		return defects[i].ItemNumber < defects[j].ItemNumber
	})

	return defects
}
