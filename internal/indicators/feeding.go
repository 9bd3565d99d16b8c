package indicators

import (
	"kmc-indicators/internal/models"
)

// Feeding compares recorded feeds per baby-day with the expected count.
type Feeding struct {
	BabyDays     int     `json:"baby_days"`
	Feeds        int     `json:"feeds"`
	TotalMinutes float64 `json:"total_minutes"`
	MeanFeeds    Measure `json:"mean_feeds_per_day"`
	// Adequacy is recorded feeds over expected feeds for the observed days.
	Adequacy     Ratio `json:"adequacy"`
	AdequateDays Ratio `json:"adequate_days"`
	// ExclusiveBreastfeeding and FormulaOrMixed are shares of feeds with a known mode.
	ExclusiveBreastfeeding Ratio                   `json:"exclusive_breastfeeding"`
	FormulaOrMixed         Ratio                   `json:"formula_or_mixed"`
	Modes                  map[models.FeedMode]int `json:"modes"`
	OpenSessions           int                     `json:"open_sessions"`
	InvalidSessions        int                     `json:"invalid_sessions"`
}

func ComputeFeeding(in *WeekInput, s Settings) Feeding {
	f := Feeding{Modes: map[models.FeedMode]int{}}
	var perDay []float64
	var adequate, exclusive, formula, known float64
	for _, db := range in.Days {
		count := 0
		for _, ev := range db.Events {
			e, ok := ev.Event.(*models.FeedingSession)
			if !ok {
				continue
			}
			count++
			f.Modes[e.Mode]++
			switch e.Mode {
			case models.FeedExclusiveBreast, models.FeedExpressedMilk:
				exclusive++
				known++
			case models.FeedFormula, models.FeedMixed:
				formula++
				known++
			}
			switch {
			case e.Open():
				f.OpenSessions++
			case e.Minutes() <= 0:
				f.InvalidSessions++
			default:
				m, _ := cappedMinutes(e.Minutes())
				f.TotalMinutes += m
			}
		}
		if count == 0 {
			continue
		}
		f.BabyDays++
		f.Feeds += count
		perDay = append(perDay, float64(count))
		if float64(count) >= s.ExpectedFeedsPerDay {
			adequate++
		}
	}
	f.MeanFeeds = Mean(perDay)
	f.Adequacy = NewRatio(float64(f.Feeds), float64(f.BabyDays)*s.ExpectedFeedsPerDay)
	f.AdequateDays = NewRatio(adequate, float64(f.BabyDays))
	f.ExclusiveBreastfeeding = NewRatio(exclusive, known)
	f.FormulaOrMixed = NewRatio(formula, known)
	return f
}
