package indicators

import (
	"time"

	"kmc-indicators/internal/models"
)

// BirthTypeMortality is deaths and exposure for one birth type.
type BirthTypeMortality struct {
	Deaths   int     `json:"deaths"`
	BabyDays float64 `json:"baby_days"`
	Rate     Measure `json:"rate_per_1000_baby_days"`
}

// Safety is mortality against time in program.
type Safety struct {
	Deaths         int     `json:"deaths"`
	NeonatalDeaths int     `json:"neonatal_deaths"`
	Unregistered   int     `json:"unregistered_deaths"`
	BabyDays       float64 `json:"baby_days"`
	// Rate is deaths per 1000 baby-days in program.
	Rate        Measure                                 `json:"rate_per_1000_baby_days"`
	ByLocation  map[string]int                          `json:"deaths_by_location"`
	ByBirthType map[models.BirthType]BirthTypeMortality `json:"by_birth_type"`
	DangerSigns map[string]int                          `json:"danger_sign_alerts"`
	Alerts      int                                     `json:"status_alerts"`
}

func perThousand(deaths int, days float64) Measure {
	if days <= 0 {
		return NA()
	}
	return Value(float64(deaths) * 1000 / days)
}

func ComputeSafety(in *WeekInput, s Settings) Safety {
	out := Safety{
		ByLocation:  map[string]int{},
		ByBirthType: map[models.BirthType]BirthTypeMortality{},
		DangerSigns: map[string]int{},
	}

	from, to := in.Elapsed()
	exposure := map[models.BirthType]float64{}
	for _, e := range in.Exposures {
		if e.HospitalID != in.HospitalID {
			continue
		}
		d := e.Overlap(from, to).Hours() / 24
		out.BabyDays += d
		exposure[e.BirthType] += d
	}

	deaths := map[models.BirthType]int{}
	for _, ev := range in.Events {
		d, ok := ev.Event.(*models.Death)
		if !ok {
			continue
		}
		out.Deaths++
		if rec := in.Baby(d.BabyID); rec == nil || rec.Registration == nil {
			out.Unregistered++
		}
		birth := ev.Baby.BirthDate
		if !birth.IsZero() && d.Date.Sub(birth) <= time.Duration(s.NeonatalPeriodDays)*24*time.Hour {
			out.NeonatalDeaths++
		}
		loc := d.Location
		if loc == "" {
			loc = ev.Baby.Location
		}
		if loc == "" {
			loc = "unknown"
		}
		out.ByLocation[loc]++
		deaths[ev.Baby.BirthType()]++
	}
	out.Rate = perThousand(out.Deaths, out.BabyDays)

	types := map[models.BirthType]struct{}{}
	for bt := range exposure {
		types[bt] = struct{}{}
	}
	for bt := range deaths {
		types[bt] = struct{}{}
	}
	for bt := range types {
		out.ByBirthType[bt] = BirthTypeMortality{
			Deaths:   deaths[bt],
			BabyDays: exposure[bt],
			Rate:     perThousand(deaths[bt], exposure[bt]),
		}
	}

	for _, u := range eventsOf[*models.StatusUpdate](in) {
		if u.DangerSigns.IsEmpty() {
			continue
		}
		out.Alerts++
		for _, code := range u.DangerSigns.Codes {
			out.DangerSigns[code]++
		}
	}
	return out
}
