package bucket

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"kmc-indicators/internal/models"
	"kmc-indicators/internal/resolver"
)

// WeekKey identifies a (hospital, ISO week) bucket.
type WeekKey struct {
	HospitalID string
	Week       Week
}

func (k WeekKey) String() string {
	return k.HospitalID + "/" + k.Week.String()
}

// DayKey identifies a (baby, day-of-life) bucket.
type DayKey struct {
	BabyID string
	Day    int
}

// WeekBucket holds the events whose effective time falls in the week at the
// event's own hospital, and the babies first seen in that week.
type WeekBucket struct {
	Key    WeekKey
	Events []*resolver.ResolvedEvent
	Births []*resolver.BabyRecord
}

// DayBucket holds one baby-day. It is reported under the week in which the
// day begins, at the hospital that recorded its earliest event.
type DayBucket struct {
	Key        DayKey
	HospitalID string
	Anchor     time.Time
	Week       Week
	Events     []*resolver.ResolvedEvent
}

// Exposure is a registered baby's time in the program at one hospital.
type Exposure struct {
	BabyID     string
	HospitalID string
	BirthType  models.BirthType
	Start      time.Time
	End        time.Time
}

// Overlap returns the part of the exposure inside [from, to).
func (e Exposure) Overlap(from, to time.Time) time.Duration {
	s, t := e.Start, e.End
	if from.After(s) {
		s = from
	}
	if to.Before(t) {
		t = to
	}
	if !t.After(s) {
		return 0
	}
	return t.Sub(s)
}

// Buckets is the grouping produced by one pass. It is rebuilt every run.
type Buckets struct {
	Weeks map[WeekKey]*WeekBucket
	Days  map[DayKey]*DayBucket
	// FirstSessions maps a baby to its earliest KMC session that is open or
	// has a positive duration, at any hospital.
	FirstSessions map[string]*resolver.ResolvedEvent
	Exposures     []Exposure
	Issues        []models.Issue
}

// ZoneFunc returns the fixed zone a hospital reports in.
type ZoneFunc func(hospitalID string) *time.Location

// Bucketer maps resolved events onto week and day-of-life buckets.
type Bucketer struct {
	zone   ZoneFunc
	logger *zap.Logger
}

func NewBucketer(zone ZoneFunc, logger *zap.Logger) *Bucketer {
	return &Bucketer{zone: zone, logger: logger}
}

// Bucket groups res. asOf closes open exposures.
func (b *Bucketer) Bucket(res *resolver.Result, asOf time.Time) *Buckets {
	out := &Buckets{
		Weeks:         make(map[WeekKey]*WeekBucket),
		Days:          make(map[DayKey]*DayBucket),
		FirstSessions: make(map[string]*resolver.ResolvedEvent),
	}

	babyIDs := make([]string, 0, len(res.Babies))
	for id := range res.Babies {
		babyIDs = append(babyIDs, id)
	}
	sort.Strings(babyIDs)
	for _, id := range babyIDs {
		rec := res.Babies[id]
		if rec.Hospital == nil {
			continue
		}
		t, ok := CohortTime(rec)
		if !ok {
			continue
		}
		wb := out.week(WeekKey{HospitalID: rec.Hospital.ID, Week: WeekOf(t, b.zone(rec.Hospital.ID))})
		wb.Births = append(wb.Births, rec)
	}

	inconsistent := dayNumberInconsistencies(res.Events)
	for _, ev := range res.Events {
		h := ev.Header()
		if inconsistent[h.ID] {
			out.Issues = append(out.Issues, issue(ev, models.FlagDayOfLifeInconsistent,
				"day number does not increase with date", true))
			continue
		}
		t := ev.Event.EffectiveTime()
		wb := out.week(WeekKey{HospitalID: ev.Hospital.ID, Week: WeekOf(t, b.zone(ev.Hospital.ID))})
		wb.Events = append(wb.Events, ev)

		if m := sessionMinutes(ev.Event); m > maxSessionMinutes {
			out.Issues = append(out.Issues, issue(ev, models.FlagSessionOver24h,
				fmt.Sprintf("%.0f minutes, capped at %d", m, maxSessionMinutes), false))
		}
		if models.IsBabyScoped(h.Collection) && !ev.Baby.BirthDate.IsZero() {
			b.bucketDay(out, ev, t)
		}
		firstSession(out, ev)
	}
	// a baby's first session may be recorded at another hospital
	for _, ev := range res.Related {
		firstSession(out, ev)
	}
	b.anchorDays(out)
	out.Exposures = exposures(res, babyIDs, asOf)

	b.logger.Debug("Bucketed events",
		zap.Int("week_buckets", len(out.Weeks)),
		zap.Int("day_buckets", len(out.Days)),
		zap.Int("exposures", len(out.Exposures)),
	)
	return out
}

func (b *Bucketer) bucketDay(out *Buckets, ev *resolver.ResolvedEvent, t time.Time) {
	h := ev.Header()
	n, preBirth := DayOfLife(ev.Baby.BirthDate, t)
	if preBirth {
		out.Issues = append(out.Issues, issue(ev, models.FlagPreBirthEvent,
			fmt.Sprintf("effective time %s precedes birth %s", t.Format(time.RFC3339), ev.Baby.BirthDate.Format(time.RFC3339)), false))
	}
	if s, ok := ev.Event.(*models.DayOfLifeSummary); ok && s.DayNumber != n {
		out.Issues = append(out.Issues, issue(ev, models.FlagDayOfLifeMismatch,
			fmt.Sprintf("stated day %d, computed %d", s.DayNumber, n), false))
	}
	key := DayKey{BabyID: h.BabyID, Day: n}
	db, ok := out.Days[key]
	if !ok {
		db = &DayBucket{Key: key, Anchor: DayAnchor(ev.Baby.BirthDate, n)}
		out.Days[key] = db
	}
	db.Events = append(db.Events, ev)
}

// anchorDays assigns each day bucket to the hospital of its earliest event and
// the week its anchor falls in there.
func (b *Bucketer) anchorDays(out *Buckets) {
	for _, db := range out.Days {
		sort.SliceStable(db.Events, func(i, j int) bool {
			ti, tj := db.Events[i].Event.EffectiveTime(), db.Events[j].Event.EffectiveTime()
			if !ti.Equal(tj) {
				return ti.Before(tj)
			}
			return db.Events[i].Header().ID < db.Events[j].Header().ID
		})
		db.HospitalID = db.Events[0].Hospital.ID
		db.Week = WeekOf(db.Anchor, b.zone(db.HospitalID))
	}
}

func (o *Buckets) week(k WeekKey) *WeekBucket {
	wb, ok := o.Weeks[k]
	if !ok {
		wb = &WeekBucket{Key: k}
		o.Weeks[k] = wb
	}
	return wb
}

// DaysIn returns the day buckets reported under k, ordered by baby then day.
func (o *Buckets) DaysIn(k WeekKey) []*DayBucket {
	var days []*DayBucket
	for _, db := range o.Days {
		if db.HospitalID == k.HospitalID && db.Week == k.Week {
			days = append(days, db)
		}
	}
	sort.Slice(days, func(i, j int) bool {
		if days[i].Key.BabyID != days[j].Key.BabyID {
			return days[i].Key.BabyID < days[j].Key.BabyID
		}
		return days[i].Key.Day < days[j].Key.Day
	})
	return days
}

// CohortTime is the instant a baby joins its hospital's weekly cohort: birth,
// else labour-room identification, else registration.
func CohortTime(rec *resolver.BabyRecord) (time.Time, bool) {
	switch {
	case !rec.Baby.BirthDate.IsZero():
		return rec.Baby.BirthDate, true
	case rec.LabourRoom != nil:
		return rec.LabourRoom.IdentifiedDate, true
	case rec.Registration != nil:
		return rec.Registration.RegistrationDate, true
	}
	return time.Time{}, false
}

const maxSessionMinutes = 24 * 60

func sessionMinutes(e models.Event) float64 {
	switch s := e.(type) {
	case *models.KmcSession:
		return s.Minutes()
	case *models.FeedingSession:
		return s.Minutes()
	}
	return 0
}

func firstSession(out *Buckets, ev *resolver.ResolvedEvent) {
	s, ok := ev.Event.(*models.KmcSession)
	if !ok || (!s.Open() && s.Minutes() <= 0) {
		return
	}
	if cur, seen := out.FirstSessions[s.BabyID]; !seen || sessionBefore(s, cur.Event.(*models.KmcSession)) {
		out.FirstSessions[s.BabyID] = ev
	}
}

func sessionBefore(a, b *models.KmcSession) bool {
	if !a.Start.Equal(b.Start) {
		return a.Start.Before(b.Start)
	}
	return a.ID < b.ID
}

// dayNumberInconsistencies returns the ids of day summaries whose stated day
// number does not exceed that of an earlier-dated summary for the same baby.
func dayNumberInconsistencies(events []*resolver.ResolvedEvent) map[string]bool {
	perBaby := make(map[string][]*models.DayOfLifeSummary)
	for _, ev := range events {
		if s, ok := ev.Event.(*models.DayOfLifeSummary); ok {
			perBaby[s.BabyID] = append(perBaby[s.BabyID], s)
		}
	}
	bad := make(map[string]bool)
	for _, days := range perBaby {
		sort.SliceStable(days, func(i, j int) bool {
			if !days[i].Date.Equal(days[j].Date) {
				return days[i].Date.Before(days[j].Date)
			}
			return days[i].ID < days[j].ID
		})
		maxSeen := 0
		for _, s := range days {
			if s.DayNumber <= maxSeen {
				bad[s.ID] = true
				continue
			}
			maxSeen = s.DayNumber
		}
	}
	return bad
}

// exposures derives program time per registered baby: registration until the
// first of last discharge, death and asOf.
func exposures(res *resolver.Result, babyIDs []string, asOf time.Time) []Exposure {
	var out []Exposure
	for _, id := range babyIDs {
		rec := res.Babies[id]
		if rec.Registration == nil {
			continue
		}
		end := asOf
		if last := rec.LastDischarge(); !last.IsZero() && last.Before(end) {
			end = last
		}
		if rec.Death != nil && rec.Death.Date.Before(end) {
			end = rec.Death.Date
		}
		start := rec.Registration.RegistrationDate
		if !end.After(start) {
			continue
		}
		out = append(out, Exposure{
			BabyID:     id,
			HospitalID: rec.Registration.HospitalID,
			BirthType:  rec.Baby.BirthType(),
			Start:      start,
			End:        end,
		})
	}
	return out
}

func issue(ev *resolver.ResolvedEvent, f models.Flag, detail string, excluded bool) models.Issue {
	h := ev.Header()
	return models.Issue{
		Collection: h.Collection,
		DocumentID: h.ID,
		HospitalID: h.HospitalID,
		BabyID:     h.BabyID,
		Flag:       f,
		Detail:     detail,
		Excluded:   excluded,
	}
}
