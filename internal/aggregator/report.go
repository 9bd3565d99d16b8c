package aggregator

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"kmc-indicators/internal/indicators"
)

const dateLayout = "2006-01-02"

// DateRange is an inclusive range of calendar dates, read in each hospital's
// local time.
type DateRange struct {
	From time.Time
	To   time.Time
}

// ParseDateRange parses YYYY-MM-DD bounds.
func ParseDateRange(from, to string) (DateRange, error) {
	f, err := time.Parse(dateLayout, strings.TrimSpace(from))
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid from date %q: %w", from, err)
	}
	t, err := time.Parse(dateLayout, strings.TrimSpace(to))
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid to date %q: %w", to, err)
	}
	if t.Before(f) {
		return DateRange{}, fmt.Errorf("date range ends before it starts: %s..%s", from, to)
	}
	return DateRange{From: f, To: t}, nil
}

// ParseAsOf parses an RFC 3339 instant, or a YYYY-MM-DD date meaning the end
// of that day in UTC. An empty string gives the zero time, which defers to
// the engine clock.
func ParseAsOf(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid as-of %q: want RFC 3339 or YYYY-MM-DD", s)
	}
	return d.AddDate(0, 0, 1), nil
}

// In returns the range's first and last dates at midnight in loc.
func (r DateRange) In(loc *time.Location) (time.Time, time.Time) {
	return time.Date(r.From.Year(), r.From.Month(), r.From.Day(), 0, 0, 0, 0, loc),
		time.Date(r.To.Year(), r.To.Month(), r.To.Day(), 0, 0, 0, 0, loc)
}

func (r DateRange) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]string{"from": r.From.Format(dateLayout), "to": r.To.Format(dateLayout)})
}

func (r *DateRange) UnmarshalJSON(data []byte) error {
	var raw struct {
		From string `json:"from"`
		To   string `json:"to"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseDateRange(raw.From, raw.To)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// HospitalReport holds one hospital's weeks.
type HospitalReport struct {
	HospitalID   string                               `json:"hospital_id"`
	HospitalName string                               `json:"hospital_name"`
	Weeks        map[string]indicators.WeekIndicators `json:"weeks"`
	DataQuality  DataQuality                          `json:"data_quality"`
}

// Report is the output of one run. It carries nothing that differs between
// runs over the same snapshot, as-of time and settings.
type Report struct {
	Scope       []string                   `json:"scope"`
	Range       DateRange                  `json:"range"`
	AsOf        time.Time                  `json:"as_of"`
	Hospitals   map[string]*HospitalReport `json:"hospitals"`
	DataQuality DataQuality                `json:"data_quality"`
	Failures    []*FetchError              `json:"failures,omitempty"`
}

// WeekKeys returns the week labels of a hospital in chronological order.
func (h *HospitalReport) WeekKeys() []string {
	keys := make([]string, 0, len(h.Weeks))
	for k := range h.Weeks {
		keys = append(keys, k)
	}
	// "YYYY-Www" sorts chronologically as text.
	sort.Strings(keys)
	return keys
}
