package indicators

import (
	"sort"

	"kmc-indicators/internal/models"
)

// LocationStay is the stay summary of one location.
type LocationStay struct {
	Babies   int     `json:"babies"`
	MeanDays Measure `json:"mean_days"`
}

// LengthOfStay is days from birth to discharge for babies discharged in the
// week. A baby discharged twice in one week counts once, at the later date.
type LengthOfStay struct {
	Babies     int                     `json:"babies"`
	MeanDays   Measure                 `json:"mean_days"`
	Days       Distribution            `json:"days"`
	ByLocation map[string]LocationStay `json:"by_location"`
	// NoBirthDate discharges cannot be measured.
	NoBirthDate int `json:"no_birth_date"`
	// BeforeBirth discharges are dated at or before the recorded birth.
	BeforeBirth int `json:"before_birth"`
}

// finalDischarges returns each baby's latest discharge in the week, ordered
// by baby id.
func finalDischarges(in *WeekInput) []*models.Discharge {
	last := map[string]*models.Discharge{}
	for _, d := range eventsOf[*models.Discharge](in) {
		cur, ok := last[d.BabyID]
		if !ok || d.Date.After(cur.Date) || (d.Date.Equal(cur.Date) && d.ID > cur.ID) {
			last[d.BabyID] = d
		}
	}
	out := make([]*models.Discharge, 0, len(last))
	for _, d := range last {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BabyID < out[j].BabyID })
	return out
}

func ComputeLengthOfStay(in *WeekInput) LengthOfStay {
	out := LengthOfStay{ByLocation: map[string]LocationStay{}}
	var all []float64
	byLoc := map[string][]float64{}
	for _, d := range finalDischarges(in) {
		rec := in.Baby(d.BabyID)
		if rec == nil || rec.Baby.BirthDate.IsZero() {
			out.NoBirthDate++
			continue
		}
		if !d.Date.After(rec.Baby.BirthDate) {
			out.BeforeBirth++
			continue
		}
		days := d.Date.Sub(rec.Baby.BirthDate).Hours() / 24
		all = append(all, days)
		loc := locationOf(rec.Baby)
		byLoc[loc] = append(byLoc[loc], days)
	}
	out.Babies = len(all)
	out.MeanDays = Mean(all)
	out.Days = NewDistribution(all)
	for loc, xs := range byLoc {
		out.ByLocation[loc] = LocationStay{Babies: len(xs), MeanDays: Mean(xs)}
	}
	return out
}
