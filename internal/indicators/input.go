package indicators

import (
	"time"

	"kmc-indicators/internal/bucket"
	"kmc-indicators/internal/models"
	"kmc-indicators/internal/resolver"
)

// WeekInput is everything the calculators read for one (hospital, week). It
// is self-contained so that a week can be computed, cached and compared
// without looking at any other bucket.
type WeekInput struct {
	HospitalID string
	Week       bucket.Week
	// Start and End bound the week in UTC, End exclusive.
	Start time.Time
	End   time.Time
	AsOf  time.Time

	// Births is the weekly cohort: babies whose cohort time falls in the week.
	Births []*resolver.BabyRecord
	// Events have their effective time in the week at this hospital.
	Events []*resolver.ResolvedEvent
	// Days are the baby-days that begin in this week.
	Days []*bucket.DayBucket
	// FirstSessions are the babies' first KMC sessions that start in the week.
	FirstSessions []*resolver.ResolvedEvent
	// Exposures overlap the week.
	Exposures []bucket.Exposure
	// Babies holds the record of every baby referenced above.
	Babies map[string]*resolver.BabyRecord
}

// Baby returns the record for id, or nil.
func (in *WeekInput) Baby(id string) *resolver.BabyRecord {
	return in.Babies[id]
}

// Elapsed is the part of the week that lies before AsOf.
func (in *WeekInput) Elapsed() (time.Time, time.Time) {
	end := in.End
	if in.AsOf.Before(end) {
		end = in.AsOf
	}
	return in.Start, end
}

// eventsOf returns the week's events of one concrete type.
func eventsOf[T models.Event](in *WeekInput) []T {
	var out []T
	for _, ev := range in.Events {
		if e, ok := ev.Event.(T); ok {
			out = append(out, e)
		}
	}
	return out
}

// Eligible reports program eligibility: enrolled, or low birth weight, or
// preterm.
func Eligible(b *models.Baby, s Settings) bool {
	if b.InProgram {
		return true
	}
	if b.BirthWeightGrams != nil && *b.BirthWeightGrams > 0 && *b.BirthWeightGrams < s.EligibilityWeightGrams {
		return true
	}
	if b.GestationalWeeks != nil && *b.GestationalWeeks > 0 && *b.GestationalWeeks <= s.EligibilityGestationWeeks {
		return true
	}
	return false
}

// unregisteredDeath marks a baby that died without ever being registered;
// such babies are left out of coverage and continuity.
func unregisteredDeath(rec *resolver.BabyRecord) bool {
	return rec != nil && rec.Death != nil && rec.Registration == nil
}

// locationOf keys per-location breakdowns by the baby's last recorded location.
func locationOf(b *models.Baby) string {
	if b == nil || b.Location == "" {
		return "unknown"
	}
	return b.Location
}

// sessionMinutes caps a closed session at one day.
const maxSessionMinutes = 1440

func cappedMinutes(m float64) (float64, bool) {
	if m > maxSessionMinutes {
		return maxSessionMinutes, true
	}
	return m, false
}
