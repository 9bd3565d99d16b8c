package indicators

import (
	"sort"

	"kmc-indicators/internal/models"
)

// NurseCount is the work one nurse recorded in the week.
type NurseCount struct {
	NurseID            string `json:"nurse_id,omitempty"`
	Name               string `json:"name,omitempty"`
	Registrations      int    `json:"registrations"`
	Discharges         int    `json:"discharges"`
	FollowUps          int    `json:"follow_ups_due"`
	FollowUpsCompleted int    `json:"follow_ups_completed"`
}

func (c NurseCount) empty() bool {
	return c.Registrations == 0 && c.Discharges == 0 && c.FollowUps == 0
}

// NurseActivity attributes registrations, discharges and follow-ups to the
// live nurse on each record. Records without a known nurse are Unassigned.
type NurseActivity struct {
	Nurses     []NurseCount `json:"nurses"`
	Unassigned NurseCount   `json:"unassigned"`
}

func ComputeNurseActivity(in *WeekInput) NurseActivity {
	counts := map[string]*NurseCount{}
	var unassigned NurseCount
	for _, ev := range in.Events {
		c := &unassigned
		if ev.Nurse != nil {
			c = counts[ev.Nurse.ID]
			if c == nil {
				c = &NurseCount{NurseID: ev.Nurse.ID, Name: ev.Nurse.Name}
				counts[ev.Nurse.ID] = c
			}
		}
		switch e := ev.Event.(type) {
		case *models.Registration:
			c.Registrations++
		case *models.Discharge:
			c.Discharges++
		case *models.FollowUp:
			c.FollowUps++
			if e.IsCompleted() {
				c.FollowUpsCompleted++
			}
		}
	}

	out := NurseActivity{Nurses: []NurseCount{}, Unassigned: unassigned}
	for _, c := range counts {
		if !c.empty() {
			out.Nurses = append(out.Nurses, *c)
		}
	}
	sort.Slice(out.Nurses, func(i, j int) bool { return out.Nurses[i].NurseID < out.Nurses[j].NurseID })
	return out
}
