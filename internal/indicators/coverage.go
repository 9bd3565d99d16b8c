package indicators

import (
	"time"

	"kmc-indicators/internal/models"
)

// Coverage is registration coverage of the eligible birth cohort.
type Coverage struct {
	Cohort   int `json:"cohort"`
	Eligible int `json:"eligible"`
	// Coverage is eligible babies with a registration over eligible babies.
	Coverage Ratio `json:"coverage"`
	// RegisteredWithin24h is over registered eligible babies with a known birth time.
	RegisteredWithin24h Ratio `json:"registered_within_24h"`
	// LabourRoomIdentified is over eligible babies.
	LabourRoomIdentified Ratio                         `json:"labour_room_identified"`
	Lifecycle            map[models.LifecycleState]int `json:"lifecycle"`
}

func ComputeCoverage(in *WeekInput, s Settings) Coverage {
	c := Coverage{Lifecycle: map[models.LifecycleState]int{}}
	var registered, timely, timed, identified float64
	for _, rec := range in.Births {
		if unregisteredDeath(rec) {
			continue
		}
		c.Cohort++
		c.Lifecycle[rec.Lifecycle]++
		if !Eligible(rec.Baby, s) {
			continue
		}
		c.Eligible++
		if rec.LabourRoom != nil {
			identified++
		}
		if rec.Registration == nil {
			continue
		}
		registered++
		if !rec.Baby.BirthDate.IsZero() {
			timed++
			if rec.Registration.RegistrationDate.Sub(rec.Baby.BirthDate) <= 24*time.Hour {
				timely++
			}
		}
	}
	eligible := float64(c.Eligible)
	c.Coverage = NewRatio(registered, eligible)
	c.RegisteredWithin24h = NewRatio(timely, timed)
	c.LabourRoomIdentified = NewRatio(identified, eligible)
	return c
}
