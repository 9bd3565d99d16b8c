package indicators

import (
	"time"

	"kmc-indicators/internal/bucket"
	"kmc-indicators/internal/models"
	"kmc-indicators/internal/resolver"
)

// weekStart is Monday of 2024-W10 in UTC.
var weekStart = time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)

var testHospital = &models.Hospital{ID: "h1", Name: "District Hospital"}

func newInput() *WeekInput {
	return &WeekInput{
		HospitalID: "h1",
		Week:       bucket.Week{Year: 2024, Number: 10},
		Start:      weekStart,
		End:        weekStart.AddDate(0, 0, 7),
		AsOf:       weekStart.AddDate(0, 0, 7),
		Babies:     map[string]*resolver.BabyRecord{},
	}
}

func (in *WeekInput) addBaby(id string, birth time.Time) *resolver.BabyRecord {
	rec := &resolver.BabyRecord{
		Baby:      &models.Baby{ID: id, HospitalID: "h1", BirthDate: birth, InProgram: true},
		Hospital:  testHospital,
		Lifecycle: models.StateActive,
	}
	in.Babies[id] = rec
	return rec
}

func header(coll, id, babyID string) models.EventHeader {
	return models.EventHeader{Collection: coll, ID: id, Version: 1, BabyID: babyID, HospitalID: "h1"}
}

func resolved(ev models.Event, rec *resolver.BabyRecord) *resolver.ResolvedEvent {
	return &resolver.ResolvedEvent{Event: ev, Baby: rec.Baby, Hospital: testHospital}
}

func (in *WeekInput) add(ev models.Event) *resolver.ResolvedEvent {
	r := resolved(ev, in.Babies[ev.Header().BabyID])
	in.Events = append(in.Events, r)
	return r
}

func kmcSession(id, babyID string, start time.Time, minutes float64) *models.KmcSession {
	s := &models.KmcSession{Session: models.Session{EventHeader: header(models.CollectionKmcSessions, id, babyID), Start: start}}
	if minutes != 0 {
		s.End = start.Add(time.Duration(minutes * float64(time.Minute)))
	}
	return s
}

func openKmcSession(id, babyID string, start time.Time) *models.KmcSession {
	return kmcSession(id, babyID, start, 0)
}

func feedingSession(id, babyID string, start time.Time, minutes float64, mode models.FeedMode) *models.FeedingSession {
	s := &models.FeedingSession{Session: models.Session{EventHeader: header(models.CollectionFeedingSessions, id, babyID), Start: start}, Mode: mode}
	if minutes != 0 {
		s.End = start.Add(time.Duration(minutes * float64(time.Minute)))
	}
	return s
}

func dayBucket(in *WeekInput, babyID string, day int, events ...models.Event) *bucket.DayBucket {
	rec := in.Babies[babyID]
	db := &bucket.DayBucket{
		Key:        bucket.DayKey{BabyID: babyID, Day: day},
		HospitalID: "h1",
		Anchor:     bucket.DayAnchor(rec.Baby.BirthDate, day),
		Week:       in.Week,
	}
	for _, ev := range events {
		db.Events = append(db.Events, resolved(ev, rec))
	}
	in.Days = append(in.Days, db)
	return db
}

func ptr(f float64) *float64 { return &f }
