package export

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/xuri/excelize/v2"

	"kmc-indicators/internal/aggregator"
	"kmc-indicators/internal/indicators"
	"kmc-indicators/internal/models"
)

const (
	SheetIndicators  = "Indicators"
	SheetLocations   = "Locations"
	SheetNurses      = "Nurses"
	SheetDataQuality = "Data Quality"
	SheetIssues      = "Issues"
)

// indicatorColumn is one column of the indicator sheet.
type indicatorColumn struct {
	header string
	width  float64
	value  func(hr *aggregator.HospitalReport, w indicators.WeekIndicators) interface{}
}

func measure(m indicators.Measure) interface{} {
	if v, ok := m.Float(); ok {
		return v
	}
	return indicators.NotApplicable
}

var indicatorColumns = []indicatorColumn{
	{"Hospital ID", 20, func(hr *aggregator.HospitalReport, _ indicators.WeekIndicators) interface{} { return hr.HospitalID }},
	{"Hospital", 28, func(hr *aggregator.HospitalReport, _ indicators.WeekIndicators) interface{} { return hr.HospitalName }},
	{"Week", 10, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return w.Week }},
	{"Birth Cohort", 12, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return w.Coverage.Cohort }},
	{"Eligible", 10, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return w.Coverage.Eligible }},
	{"Coverage", 10, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return measure(w.Coverage.Coverage.Value) }},
	{"Registered <24h", 14, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} {
		return measure(w.Coverage.RegisteredWithin24h.Value)
	}},
	{"Median Hours to KMC", 18, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} {
		return measure(w.Timing.Initiated.Median)
	}},
	{"KMC <24h", 10, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return measure(w.Timing.Within24h.Value) }},
	{"Baby-Days", 10, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return w.Dose.BabyDays }},
	{"Mean KMC Minutes", 16, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return measure(w.Dose.MeanMinutes) }},
	{"Mean KMC Dose", 14, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return measure(w.Dose.MeanDose) }},
	{"Mean Feeds/Day", 14, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return measure(w.Feeding.MeanFeeds) }},
	{"Feeding Adequacy", 16, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} {
		return measure(w.Feeding.Adequacy.Value)
	}},
	{"Exclusive BF", 12, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} {
		return measure(w.Feeding.ExclusiveBreastfeeding.Value)
	}},
	{"Normothermic", 12, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} {
		return measure(w.Temperature.Normothermic.Value)
	}},
	{"Follow-up On Time", 16, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} {
		return measure(w.Continuity.CompletedOnTime.Value)
	}},
	{"Deaths", 8, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return w.Safety.Deaths }},
	{"Deaths/1000 Baby-Days", 20, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return measure(w.Safety.Rate) }},
	{"Discharges", 10, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return w.Outcomes.Discharges }},
	{"Discharged Critical", 18, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} {
		return measure(w.Outcomes.DischargedCritical.Value)
	}},
	{"Discharged Without KMC", 20, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} {
		return measure(w.Outcomes.WithoutKMC.Value)
	}},
	{"Mean Stay (Days)", 16, func(_ *aggregator.HospitalReport, w indicators.WeekIndicators) interface{} { return measure(w.Stay.MeanDays) }},
}

var (
	locationHeader = []string{"Hospital ID", "Week", "Location", "KMC Babies", "KMC Baby-Days", "Hours/Day", "Hours/Baby", "Discharged Babies", "Mean Stay (Days)"}
	nurseHeader    = []string{"Hospital ID", "Week", "Nurse ID", "Nurse", "Registrations", "Discharges", "Follow-ups Due", "Follow-ups Completed"}
)

var issueHeader = []string{"Hospital ID", "Collection", "Document ID", "Baby ID", "Flag", "Detail", "Excluded"}

// ReportWorkbook renders a report, and optionally its flagged records, as an
// xlsx workbook.
func ReportWorkbook(r *aggregator.Report, issues []models.Issue) ([]byte, error) {
	f := excelize.NewFile()

	style, err := headerStyle(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	index, err := f.NewSheet(SheetIndicators)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	f.DeleteSheet("Sheet1")
	f.SetActiveSheet(index)

	if err := writeIndicators(f, style, r); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeLocations(f, style, r); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeNurses(f, style, r); err != nil {
		f.Close()
		return nil, err
	}
	if err := writeDataQuality(f, style, r); err != nil {
		f.Close()
		return nil, err
	}
	if issues != nil {
		if err := writeIssues(f, style, issues); err != nil {
			f.Close()
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

func headerStyle(f *excelize.File) (int, error) {
	style, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Border: []excelize.Border{
			{Type: "left", Color: "000000", Style: 1},
			{Type: "top", Color: "000000", Style: 1},
			{Type: "bottom", Color: "000000", Style: 1},
			{Type: "right", Color: "000000", Style: 1},
		},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to create header style: %w", err)
	}
	return style, nil
}

func writeHeader(f *excelize.File, sheet string, style int, headers []string, widths []float64) error {
	for i, h := range headers {
		if err := setCell(f, sheet, i+1, 1, h); err != nil {
			return err
		}
		col, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return fmt.Errorf("failed to convert column number: %w", err)
		}
		if i < len(widths) && widths[i] > 0 {
			if err := f.SetColWidth(sheet, col, col, widths[i]); err != nil {
				return fmt.Errorf("failed to set column width: %w", err)
			}
		}
	}
	last, err := excelize.CoordinatesToCellName(len(headers), 1)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	return f.SetPanes(sheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	})
}

func setCell(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	if err := f.SetCellValue(sheet, cell, value); err != nil {
		return fmt.Errorf("failed to set cell %s: %w", cell, err)
	}
	return nil
}

func sortedHospitals(r *aggregator.Report) []*aggregator.HospitalReport {
	ids := make([]string, 0, len(r.Hospitals))
	for id := range r.Hospitals {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]*aggregator.HospitalReport, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.Hospitals[id])
	}
	return out
}

func writeIndicators(f *excelize.File, style int, r *aggregator.Report) error {
	headers := make([]string, len(indicatorColumns))
	widths := make([]float64, len(indicatorColumns))
	for i, c := range indicatorColumns {
		headers[i], widths[i] = c.header, c.width
	}
	if err := writeHeader(f, SheetIndicators, style, headers, widths); err != nil {
		return err
	}
	row := 2
	for _, hr := range sortedHospitals(r) {
		for _, wk := range hr.WeekKeys() {
			w := hr.Weeks[wk]
			for i, c := range indicatorColumns {
				if err := setCell(f, SheetIndicators, i+1, row, c.value(hr, w)); err != nil {
					return fmt.Errorf("row %d: %w", row, err)
				}
			}
			row++
		}
	}
	return nil
}

func writeRows(f *excelize.File, sheet string, rows [][]interface{}) error {
	for r, values := range rows {
		for c, v := range values {
			if err := setCell(f, sheet, c+1, r+2, v); err != nil {
				return fmt.Errorf("%s row %d: %w", sheet, r+2, err)
			}
		}
	}
	return nil
}

// writeLocations writes one row per (hospital, week, location) with either
// KMC received or babies discharged there.
func writeLocations(f *excelize.File, style int, r *aggregator.Report) error {
	if _, err := f.NewSheet(SheetLocations); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeHeader(f, SheetLocations, style, locationHeader, []float64{20, 10, 20, 12, 14, 10, 10, 16, 16}); err != nil {
		return err
	}
	var rows [][]interface{}
	for _, hr := range sortedHospitals(r) {
		for _, wk := range hr.WeekKeys() {
			w := hr.Weeks[wk]
			locs := map[string]bool{}
			for loc := range w.Dose.ByLocation {
				locs[loc] = true
			}
			for loc := range w.Stay.ByLocation {
				locs[loc] = true
			}
			names := make([]string, 0, len(locs))
			for loc := range locs {
				names = append(names, loc)
			}
			sort.Strings(names)
			for _, loc := range names {
				d, st := w.Dose.ByLocation[loc], w.Stay.ByLocation[loc]
				rows = append(rows, []interface{}{
					hr.HospitalID, wk, loc,
					d.Babies, d.BabyDays, measure(d.HoursPerDay), measure(d.HoursPerBaby),
					st.Babies, measure(st.MeanDays),
				})
			}
		}
	}
	return writeRows(f, SheetLocations, rows)
}

// writeNurses writes one row per nurse with activity in a week. Work with no
// known nurse is listed under "unassigned".
func writeNurses(f *excelize.File, style int, r *aggregator.Report) error {
	if _, err := f.NewSheet(SheetNurses); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeHeader(f, SheetNurses, style, nurseHeader, []float64{20, 10, 20, 24, 14, 12, 16, 20}); err != nil {
		return err
	}
	var rows [][]interface{}
	for _, hr := range sortedHospitals(r) {
		for _, wk := range hr.WeekKeys() {
			a := hr.Weeks[wk].Nurses
			counts := a.Nurses
			if u := a.Unassigned; u.Registrations+u.Discharges+u.FollowUps > 0 {
				u.NurseID = "unassigned"
				counts = append(append([]indicators.NurseCount{}, counts...), u)
			}
			for _, c := range counts {
				rows = append(rows, []interface{}{
					hr.HospitalID, wk, c.NurseID, c.Name,
					c.Registrations, c.Discharges, c.FollowUps, c.FollowUpsCompleted,
				})
			}
		}
	}
	return writeRows(f, SheetNurses, rows)
}

// writeDataQuality writes one row per hospital with a column per flag, and a
// program total row.
func writeDataQuality(f *excelize.File, style int, r *aggregator.Report) error {
	if _, err := f.NewSheet(SheetDataQuality); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	headers := []string{"Hospital ID", "Excluded Records", "Total Issues"}
	widths := []float64{20, 16, 12}
	for _, fl := range models.AllFlags {
		headers = append(headers, string(fl))
		widths = append(widths, float64(len(fl))+2)
	}
	if err := writeHeader(f, SheetDataQuality, style, headers, widths); err != nil {
		return err
	}
	write := func(row int, label string, dq aggregator.DataQuality) error {
		values := []interface{}{label, dq.Excluded, dq.Total}
		for _, fl := range models.AllFlags {
			values = append(values, dq.Counts[fl])
		}
		for i, v := range values {
			if err := setCell(f, SheetDataQuality, i+1, row, v); err != nil {
				return err
			}
		}
		return nil
	}
	row := 2
	for _, hr := range sortedHospitals(r) {
		if err := write(row, hr.HospitalID, hr.DataQuality); err != nil {
			return err
		}
		row++
	}
	return write(row, "ALL", r.DataQuality)
}

func writeIssues(f *excelize.File, style int, issues []models.Issue) error {
	if _, err := f.NewSheet(SheetIssues); err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := writeHeader(f, SheetIssues, style, issueHeader, []float64{20, 18, 24, 24, 26, 50, 10}); err != nil {
		return err
	}
	for i, is := range issues {
		excluded := "No"
		if is.Excluded {
			excluded = "Yes"
		}
		values := []interface{}{is.HospitalID, is.Collection, is.DocumentID, is.BabyID, string(is.Flag), is.Detail, excluded}
		for col, v := range values {
			if err := setCell(f, SheetIssues, col+1, i+2, v); err != nil {
				return err
			}
		}
	}
	return nil
}
