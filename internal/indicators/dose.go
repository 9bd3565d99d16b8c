package indicators

import (
	"kmc-indicators/internal/models"
)

// DoseDay is one baby-day of KMC.
type DoseDay struct {
	BabyID  string  `json:"baby_id"`
	Day     int     `json:"day_of_life"`
	Minutes float64 `json:"minutes"`
	// Dose is minutes over the daily target.
	Dose Measure `json:"dose"`
	// FromSummary is set when the minutes come from the day summary because
	// no session was recorded.
	FromSummary bool `json:"from_summary,omitempty"`
}

// Dose is KMC minutes per baby-day against the daily target.
type Dose struct {
	BabyDays          int       `json:"baby_days"`
	TotalMinutes      float64   `json:"total_minutes"`
	MeanMinutes       Measure   `json:"mean_minutes"`
	MeanDose          Measure   `json:"mean_dose"`
	DaysMeetingTarget Ratio     `json:"days_meeting_target"`
	OpenSessions      int       `json:"open_sessions"`
	CappedSessions    int       `json:"capped_sessions"`
	InvalidSessions   int       `json:"invalid_sessions"`
	Days              []DoseDay `json:"days"`
	// ByLocation covers the baby-days with KMC, keyed by the baby's location.
	ByLocation map[string]LocationDose `json:"by_location"`
}

// LocationDose is the KMC received at one location.
type LocationDose struct {
	Babies       int     `json:"babies"`
	BabyDays     int     `json:"baby_days"`
	TotalMinutes float64 `json:"total_minutes"`
	HoursPerDay  Measure `json:"mean_hours_per_day"`
	HoursPerBaby Measure `json:"mean_hours_per_baby"`
}

func ComputeDose(in *WeekInput, s Settings) Dose {
	d := Dose{Days: []DoseDay{}, ByLocation: map[string]LocationDose{}}
	var minutes, doses []float64
	var meeting float64
	for _, db := range in.Days {
		var total float64
		sessions := 0
		var summary *models.DayOfLifeSummary
		for _, ev := range db.Events {
			switch e := ev.Event.(type) {
			case *models.KmcSession:
				sessions++
				switch {
				case e.Open():
					d.OpenSessions++
				case e.Minutes() <= 0:
					d.InvalidSessions++
				default:
					m, capped := cappedMinutes(e.Minutes())
					if capped {
						d.CappedSessions++
					}
					total += m
				}
			case *models.DayOfLifeSummary:
				summary = e
			}
		}
		day := DoseDay{BabyID: db.Key.BabyID, Day: db.Key.Day}
		switch {
		case sessions > 0:
		case summary != nil && summary.KMCMinutes != nil && *summary.KMCMinutes >= 0:
			total, _ = cappedMinutes(*summary.KMCMinutes)
			day.FromSummary = true
		default:
			continue
		}
		day.Minutes = total
		day.Dose = Value(total / s.DailyKMCTargetMinutes)
		d.Days = append(d.Days, day)

		minutes = append(minutes, total)
		doses = append(doses, total/s.DailyKMCTargetMinutes)
		d.TotalMinutes += total
		if total >= s.DailyKMCTargetMinutes {
			meeting++
		}
	}
	d.BabyDays = len(d.Days)
	d.ByLocation = doseByLocation(in, d.Days)
	d.MeanMinutes = Mean(minutes)
	d.MeanDose = Mean(doses)
	d.DaysMeetingTarget = NewRatio(meeting, float64(d.BabyDays))
	return d
}

func doseByLocation(in *WeekInput, days []DoseDay) map[string]LocationDose {
	type acc struct {
		babies  map[string]bool
		days    int
		minutes float64
	}
	byLoc := map[string]*acc{}
	for _, day := range days {
		if day.Minutes <= 0 {
			continue
		}
		loc := locationOf(nil)
		if rec := in.Baby(day.BabyID); rec != nil {
			loc = locationOf(rec.Baby)
		}
		a := byLoc[loc]
		if a == nil {
			a = &acc{babies: map[string]bool{}}
			byLoc[loc] = a
		}
		a.babies[day.BabyID] = true
		a.days++
		a.minutes += day.Minutes
	}
	out := make(map[string]LocationDose, len(byLoc))
	for loc, a := range byLoc {
		out[loc] = LocationDose{
			Babies:       len(a.babies),
			BabyDays:     a.days,
			TotalMinutes: a.minutes,
			HoursPerDay:  Value(a.minutes / float64(a.days) / 60),
			HoursPerBaby: Value(a.minutes / float64(len(a.babies)) / 60),
		}
	}
	return out
}
