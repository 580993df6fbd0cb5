// Package policy holds the reconciler's reopen-suppression policy.
//
// When a defect recurs after its task was completed, the default behavior
// is to open a fresh task immediately. Operators can configure a cooldown
// window during which recurrence is suppressed instead (counted as skipped
// in the reconcile result). The default policy never skips.
package policy

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Policy configures reconciliation behavior that is deliberately not
// hard-coded in the engine.
type Policy struct {
	// ReopenCooldown suppresses creating a new task for a recurring
	// defect within this window after the previous task's completion.
	// Zero disables suppression entirely.
	ReopenCooldown time.Duration
}

// file is the on-disk TOML shape.
type file struct {
	ReopenCooldown string `toml:"reopen_cooldown"`
}

// Default returns the stock policy: recurrence always opens a new task,
// nothing is ever skipped.
func Default() Policy {
	return Policy{}
}

// Load reads a policy from a TOML file:
//
//	# suppress reopening a defect within 48h of completion
//	reopen_cooldown = "48h"
//
// A missing file is not an error; the default policy is returned.
func Load(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return Policy{}, fmt.Errorf("failed to read policy file %s: %w", path, err)
	}

	var f file
	if err := toml.Unmarshal(data, &f); err != nil {
		return Policy{}, fmt.Errorf("failed to parse policy file %s: %w", path, err)
	}

	p := Default()
	if f.ReopenCooldown != "" {
		d, err := time.ParseDuration(f.ReopenCooldown)
		if err != nil {
			return Policy{}, fmt.Errorf("invalid reopen_cooldown %q: %w", f.ReopenCooldown, err)
		}
		if d < 0 {
			return Policy{}, fmt.Errorf("reopen_cooldown must not be negative (got %s)", d)
		}
		p.ReopenCooldown = d
	}

	return p, nil
}

// SuppressReopen reports whether a recurring defect should be skipped
// because its previous task completed within the cooldown window.
func (p Policy) SuppressReopen(completedAt, now time.Time) bool {
	if p.ReopenCooldown <= 0 || completedAt.IsZero() {
		return false
	}
	return now.Sub(completedAt) < p.ReopenCooldown
}
