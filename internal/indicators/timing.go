package indicators

import (
	"kmc-indicators/internal/models"
)

// Timing describes time from birth to the first KMC session, in hours.
type Timing struct {
	Initiated   Distribution `json:"hours_to_first_kmc"`
	Within24h   Ratio        `json:"initiated_within_24h"`
	OpenInitial int          `json:"open_first_sessions"`
	// InvalidSessions have a duration of zero or less and never count as initiation.
	InvalidSessions int `json:"invalid_sessions"`
	// PreBirth first sessions start before the recorded birth.
	PreBirth int `json:"pre_birth_sessions"`
	// NoBirthDate first sessions belong to babies without a birth time.
	NoBirthDate int `json:"no_birth_date"`
}

func ComputeTiming(in *WeekInput) Timing {
	var t Timing
	for _, s := range eventsOf[*models.KmcSession](in) {
		if !s.Open() && s.Minutes() <= 0 {
			t.InvalidSessions++
		}
	}

	var hours []float64
	var within float64
	for _, ev := range in.FirstSessions {
		s := ev.Event.(*models.KmcSession)
		birth := ev.Baby.BirthDate
		if birth.IsZero() {
			t.NoBirthDate++
			continue
		}
		h := s.Start.Sub(birth).Hours()
		if h < 0 {
			t.PreBirth++
			continue
		}
		if s.Open() {
			t.OpenInitial++
		}
		hours = append(hours, h)
		if h <= 24 {
			within++
		}
	}
	t.Initiated = NewDistribution(hours)
	t.Within24h = NewRatio(within, float64(len(hours)))
	return t
}
