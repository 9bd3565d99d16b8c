package models

import "time"

// LifecycleState is the closed set of baby states derived from the upstream
// boolean flags and the Discharge/Death documents.
type LifecycleState string

const (
	StateActive                 LifecycleState = "active"
	StateDischarged             LifecycleState = "discharged"
	StateDeceased               LifecycleState = "deceased"
	StateDischargedThenDeceased LifecycleState = "discharged_then_deceased"
)

// DeriveLifecycle returns the state of b given its latest discharge date and
// death date (zero when absent), plus a description of every flag combination
// that cannot be true at once.
func DeriveLifecycle(b *Baby, lastDischarge, death time.Time) (LifecycleState, []string) {
	var conflicts []string
	hasDeath := !death.IsZero()

	if b.Deceased && b.InProgram && !hasDeath {
		conflicts = append(conflicts, "deadBaby and babyInProgram both set without a death record")
	}
	if hasDeath && b.InProgram {
		conflicts = append(conflicts, "death record while babyInProgram is set")
	}
	if hasDeath && !b.Deceased {
		conflicts = append(conflicts, "death record while deadBaby is unset")
	}

	deceased := b.Deceased || hasDeath
	discharged := b.Discharged || !lastDischarge.IsZero()

	switch {
	case deceased && discharged:
		if hasDeath && !lastDischarge.IsZero() && death.After(lastDischarge) {
			return StateDischargedThenDeceased, conflicts
		}
		return StateDeceased, conflicts
	case deceased:
		return StateDeceased, conflicts
	case discharged:
		return StateDischarged, conflicts
	}
	return StateActive, conflicts
}
