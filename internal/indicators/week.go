package indicators

// WeekIndicators is the full indicator set of one (hospital, week).
type WeekIndicators struct {
	Week        string        `json:"week"`
	Coverage    Coverage      `json:"coverage"`
	Timing      Timing        `json:"timing"`
	Dose        Dose          `json:"dose"`
	Feeding     Feeding       `json:"feeding"`
	Temperature Temperature   `json:"temperature"`
	Continuity  Continuity    `json:"continuity"`
	Safety      Safety        `json:"safety"`
	Outcomes    Outcomes      `json:"outcomes"`
	Stay        LengthOfStay  `json:"length_of_stay"`
	Nurses      NurseActivity `json:"nurse_activity"`
}

// ComputeWeek runs every calculator over in. The calculators share nothing
// but their read-only input.
func ComputeWeek(in *WeekInput, s Settings) WeekIndicators {
	return WeekIndicators{
		Week:        in.Week.String(),
		Coverage:    ComputeCoverage(in, s),
		Timing:      ComputeTiming(in),
		Dose:        ComputeDose(in, s),
		Feeding:     ComputeFeeding(in, s),
		Temperature: ComputeTemperature(in, s),
		Continuity:  ComputeContinuity(in),
		Safety:      ComputeSafety(in, s),
		Outcomes:    ComputeOutcomes(in),
		Stay:        ComputeLengthOfStay(in),
		Nurses:      ComputeNurseActivity(in),
	}
}
