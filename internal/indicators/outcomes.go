package indicators

import (
	"strings"

	"kmc-indicators/internal/models"
)

// DischargeCategory is the status/type taxonomy of a discharge.
type DischargeCategory string

const (
	DischargeCriticalHome     DischargeCategory = "critical_home"
	DischargeStableHome       DischargeCategory = "stable_home"
	DischargeCriticalReferred DischargeCategory = "critical_referred"
	DischargeLAMA             DischargeCategory = "lama"
	DischargeDied             DischargeCategory = "died"
	DischargeOther            DischargeCategory = "other"
)

// CategorizeDischarge maps dischargeStatus and dischargeType onto the taxonomy.
func CategorizeDischarge(d *models.Discharge) DischargeCategory {
	status := strings.ToLower(d.Status)
	typ := strings.ToLower(d.Type)
	reason := strings.ToLower(d.Reason)
	switch {
	case typ == "died" || status == "died":
		return DischargeDied
	case typ == "lama" || reason == "lama" || strings.Contains(reason, "against medical advice"):
		return DischargeLAMA
	case status == "critical" && typ == "home":
		return DischargeCriticalHome
	case status == "stable" && typ == "home":
		return DischargeStableHome
	case status == "critical" && typ == "referred":
		return DischargeCriticalReferred
	}
	return DischargeOther
}

// Outcomes summarises the week's discharges.
type Outcomes struct {
	Discharges   int                       `json:"discharges"`
	Readmissions int                       `json:"readmissions"`
	Categories   map[DischargeCategory]int `json:"categories"`
	// DischargedCritical is critical discharges among alive, non-referred ones.
	DischargedCritical Ratio          `json:"discharged_critical"`
	DangerSigns        map[string]int `json:"danger_signs_at_discharge"`
	// WithoutKMC is babies discharged in the week with no KMC recorded at
	// any hospital on or before the discharge, over babies discharged.
	WithoutKMC       Ratio    `json:"discharged_without_kmc"`
	WithoutKMCBabies []string `json:"discharged_without_kmc_babies"`
}

func ComputeOutcomes(in *WeekInput) Outcomes {
	o := Outcomes{Categories: map[DischargeCategory]int{}, DangerSigns: map[string]int{}, WithoutKMCBabies: []string{}}
	var critical, alive float64
	for _, d := range eventsOf[*models.Discharge](in) {
		o.Discharges++
		if d.Number > 1 {
			o.Readmissions++
		}
		cat := CategorizeDischarge(d)
		o.Categories[cat]++

		typ := strings.ToLower(d.Type)
		if cat != DischargeDied && !strings.Contains(typ, "refer") && !strings.Contains(typ, "transfer") {
			alive++
			if strings.Contains(strings.ToLower(d.Status), "critical") {
				critical++
			}
		}
		for _, code := range d.DangerSigns.Codes {
			o.DangerSigns[code]++
		}
	}
	o.DischargedCritical = NewRatio(critical, alive)

	final := finalDischarges(in)
	for _, d := range final {
		rec := in.Baby(d.BabyID)
		if rec != nil && rec.FirstKMC != nil && !rec.FirstKMC.EffectiveTime().After(d.Date) {
			continue
		}
		o.WithoutKMCBabies = append(o.WithoutKMCBabies, d.BabyID)
	}
	o.WithoutKMC = NewRatio(float64(len(o.WithoutKMCBabies)), float64(len(final)))
	return o
}
