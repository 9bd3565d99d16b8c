package indicators

import (
	"kmc-indicators/internal/models"
)

// Temperature is normothermia among completed observations.
type Temperature struct {
	Completed    int     `json:"completed"`
	Pending      int     `json:"pending"`
	Measured     int     `json:"measured"`
	Normothermic Ratio   `json:"normothermic"`
	Hypothermic  int     `json:"hypothermic"`
	Hyperthermic int     `json:"hyperthermic"`
	MissingValue int     `json:"missing_value"`
	Mean         Measure `json:"mean_c"`
}

func ComputeTemperature(in *WeekInput, s Settings) Temperature {
	var t Temperature
	var readings []float64
	var normal float64
	for _, o := range eventsOf[*models.Observation](in) {
		if !o.Completed {
			t.Pending++
			continue
		}
		t.Completed++
		if o.TemperatureC == nil {
			t.MissingValue++
			continue
		}
		c := *o.TemperatureC
		readings = append(readings, c)
		switch {
		case c < s.NormothermiaMinC:
			t.Hypothermic++
		case c > s.NormothermiaMaxC:
			t.Hyperthermic++
		default:
			normal++
		}
	}
	t.Measured = len(readings)
	t.Normothermic = NewRatio(normal, float64(t.Measured))
	t.Mean = Mean(readings)
	return t
}
