package indicators

import (
	"kmc-indicators/internal/models"
)

// FollowUpOutcome classifies a follow-up as of the report's as-of time.
type FollowUpOutcome string

const (
	FollowUpCompletedOnTime FollowUpOutcome = "completed_on_time"
	FollowUpCompletedLate   FollowUpOutcome = "completed_late"
	FollowUpOverduePending  FollowUpOutcome = "overdue_pending"
	FollowUpDuePending      FollowUpOutcome = "due_pending"
	FollowUpNotYetDue       FollowUpOutcome = "not_yet_due"
	FollowUpUnreachable     FollowUpOutcome = "unreachable"
)

// Continuity covers follow-ups due in the week.
type Continuity struct {
	Outcomes map[FollowUpOutcome]int `json:"outcomes"`
	// CompletedOnTime is over every due follow-up except unreachable ones.
	CompletedOnTime Ratio `json:"completed_on_time"`
	// AfterDeath counts follow-ups scheduled after the baby died; they are not outcomes.
	AfterDeath int `json:"after_death"`
}

// ClassifyFollowUp places f, due in a week ending at weekEnd, into exactly one outcome.
func ClassifyFollowUp(in *WeekInput, f *models.FollowUp) FollowUpOutcome {
	switch {
	case f.Unreachable:
		return FollowUpUnreachable
	case f.IsCompleted():
		if f.CompletedDate.IsZero() || f.CompletedDate.Before(in.End) {
			return FollowUpCompletedOnTime
		}
		return FollowUpCompletedLate
	case f.DueDate.After(in.AsOf):
		return FollowUpNotYetDue
	case !in.AsOf.Before(in.End):
		return FollowUpOverduePending
	}
	return FollowUpDuePending
}

func ComputeContinuity(in *WeekInput) Continuity {
	c := Continuity{Outcomes: map[FollowUpOutcome]int{}}
	for _, f := range eventsOf[*models.FollowUp](in) {
		rec := in.Baby(f.BabyID)
		if rec == nil || rec.Registration == nil {
			continue
		}
		if rec.Death != nil && f.DueDate.After(rec.Death.Date) {
			c.AfterDeath++
			continue
		}
		c.Outcomes[ClassifyFollowUp(in, f)]++
	}
	onTime := float64(c.Outcomes[FollowUpCompletedOnTime])
	due := onTime +
		float64(c.Outcomes[FollowUpCompletedLate]) +
		float64(c.Outcomes[FollowUpOverduePending]) +
		float64(c.Outcomes[FollowUpDuePending])
	c.CompletedOnTime = NewRatio(onTime, due)
	return c
}
