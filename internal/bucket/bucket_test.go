package bucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"kmc-indicators/internal/models"
	"kmc-indicators/internal/resolver"
)

var ist = FixedZone(330)

func TestWeekOf_UsesHospitalOffset(t *testing.T) {
	// Sunday 20:00 UTC is Monday 01:30 in IST.
	sunday := time.Date(2024, 3, 10, 20, 0, 0, 0, time.UTC)
	assert.Equal(t, Week{2024, 10}, WeekOf(sunday, time.UTC))
	assert.Equal(t, Week{2024, 11}, WeekOf(sunday, ist))
}

func TestWeekBounds(t *testing.T) {
	w := Week{2024, 11}
	start := w.Start(ist)
	assert.Equal(t, time.Monday, start.Weekday())
	assert.Equal(t, time.Date(2024, 3, 10, 18, 30, 0, 0, time.UTC), start.UTC())
	assert.Equal(t, 7*24*time.Hour, w.End(ist).Sub(start))

	// 2021-01-03 belongs to 2020-W53
	assert.Equal(t, Week{2020, 53}, WeekOf(time.Date(2021, 1, 3, 12, 0, 0, 0, time.UTC), time.UTC))
	assert.Equal(t, time.Date(2020, 12, 28, 0, 0, 0, 0, time.UTC), Week{2020, 53}.Start(time.UTC))
}

func TestParseWeek(t *testing.T) {
	w, err := ParseWeek("2024-W07")
	require.NoError(t, err)
	assert.Equal(t, Week{2024, 7}, w)
	assert.Equal(t, "2024-W07", w.String())

	_, err = ParseWeek("2024-W60")
	assert.Error(t, err)
	_, err = ParseWeek("junk")
	assert.Error(t, err)
}

func TestWeeksBetween(t *testing.T) {
	weeks := WeeksBetween(
		time.Date(2020, 12, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2021, 1, 12, 0, 0, 0, 0, time.UTC),
		time.UTC,
	)
	assert.Equal(t, []Week{{2020, 53}, {2021, 1}, {2021, 2}}, weeks)
	assert.Empty(t, WeeksBetween(time.Date(2021, 1, 12, 0, 0, 0, 0, time.UTC), time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), time.UTC))
}

func TestDayOfLife(t *testing.T) {
	birth := time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC)
	tests := []struct {
		at       time.Duration
		want     int
		preBirth bool
	}{
		{0, 1, false},
		{23*time.Hour + 59*time.Minute, 1, false},
		{24 * time.Hour, 2, false},
		{-time.Minute, 1, true},
		{-48 * time.Hour, 1, true},
	}
	for _, tt := range tests {
		n, pre := DayOfLife(birth, birth.Add(tt.at))
		assert.Equal(t, tt.want, n, tt.at.String())
		assert.Equal(t, tt.preBirth, pre, tt.at.String())
	}
	assert.Equal(t, birth.Add(48*time.Hour), DayAnchor(birth, 3))
}

var birth = time.Date(2024, 3, 4, 6, 0, 0, 0, time.UTC) // Monday

func doc(coll, id string) *models.Document {
	return models.NewDocument(coll, id, 1).
		Set("idBaby", models.Reference(models.CollectionBabies, "b1")).
		Set("hospitalID", models.Reference(models.CollectionHospitals, "h1"))
}

func resolveDocs(t *testing.T, events ...*models.Document) *resolver.Result {
	t.Helper()
	snap := resolver.Snapshot{
		Hospitals: []*models.Document{models.NewDocument(models.CollectionHospitals, "h1", 1)},
		Babies: []*models.Document{models.NewDocument(models.CollectionBabies, "b1", 1).
			Set("hospitalID", models.String("h1")).
			Set("birthDate", models.Timestamp(birth))},
		Events: events,
	}
	return resolver.NewResolver(resolver.Options{}, zap.NewNop()).Resolve(snap)
}

func newBucketer() *Bucketer {
	return NewBucketer(func(string) *time.Location { return time.UTC }, zap.NewNop())
}

func countFlag(issues []models.Issue, f models.Flag) int {
	n := 0
	for _, is := range issues {
		if is.Flag == f {
			n++
		}
	}
	return n
}

func TestBucket_Exhaustive(t *testing.T) {
	res := resolveDocs(t,
		doc(models.CollectionKmcSessions, "k1").Set("kmcStart", models.Timestamp(birth.Add(time.Hour))),
		doc(models.CollectionKmcSessions, "k2").Set("kmcStart", models.Timestamp(birth.Add(8*24*time.Hour))),
		doc(models.CollectionRegistrations, "r1").Set("registrationDate", models.Timestamp(birth.Add(2*time.Hour))),
		doc(models.CollectionFollowUps, "f1").Set("followUpDueDate", models.Timestamp(birth.Add(14*24*time.Hour))),
	)
	out := newBucketer().Bucket(res, birth.Add(30*24*time.Hour))

	seen := map[string]int{}
	for _, wb := range out.Weeks {
		for _, ev := range wb.Events {
			seen[ev.Header().ID]++
		}
	}
	assert.Equal(t, map[string]int{"k1": 1, "k2": 1, "r1": 1, "f1": 1}, seen)

	daySeen := map[string]int{}
	for _, db := range out.Days {
		for _, ev := range db.Events {
			daySeen[ev.Header().ID]++
		}
	}
	// only baby-scoped collections get a day bucket
	assert.Equal(t, map[string]int{"k1": 1, "k2": 1}, daySeen)
	assert.Contains(t, out.Days, DayKey{BabyID: "b1", Day: 1})
	assert.Contains(t, out.Days, DayKey{BabyID: "b1", Day: 9})

	w10 := out.Weeks[WeekKey{HospitalID: "h1", Week: Week{2024, 10}}]
	require.NotNil(t, w10)
	require.Len(t, w10.Births, 1)
	assert.Len(t, out.DaysIn(WeekKey{HospitalID: "h1", Week: Week{2024, 10}}), 1)
	assert.Len(t, out.DaysIn(WeekKey{HospitalID: "h1", Week: Week{2024, 11}}), 1)
	assert.Empty(t, out.Issues)
}

func TestBucket_PreBirthEvent(t *testing.T) {
	res := resolveDocs(t,
		doc(models.CollectionKmcSessions, "k1").Set("kmcStart", models.Timestamp(birth.Add(-2*time.Hour))),
	)
	out := newBucketer().Bucket(res, birth.Add(24*time.Hour))

	assert.Equal(t, 1, countFlag(out.Issues, models.FlagPreBirthEvent))
	db := out.Days[DayKey{BabyID: "b1", Day: 1}]
	require.NotNil(t, db)
	assert.Len(t, db.Events, 1)
}

func TestBucket_DayNumberChecks(t *testing.T) {
	res := resolveDocs(t,
		doc(models.CollectionDayOfLife, "a1").Set("ageDayNumber", models.Number(1)).Set("ageDayDate", models.Timestamp(birth.Add(time.Hour))),
		doc(models.CollectionDayOfLife, "a2").Set("ageDayNumber", models.Number(3)).Set("ageDayDate", models.Timestamp(birth.Add(25*time.Hour))),
		doc(models.CollectionDayOfLife, "a3").Set("ageDayNumber", models.Number(2)).Set("ageDayDate", models.Timestamp(birth.Add(50*time.Hour))),
	)
	out := newBucketer().Bucket(res, birth.Add(72*time.Hour))

	// a2 states day 3 on day 2; a3 goes backwards
	assert.Equal(t, 1, countFlag(out.Issues, models.FlagDayOfLifeMismatch))
	assert.Equal(t, 1, countFlag(out.Issues, models.FlagDayOfLifeInconsistent))
	assert.NotContains(t, out.Days, DayKey{BabyID: "b1", Day: 3})
	assert.Contains(t, out.Days, DayKey{BabyID: "b1", Day: 2})
}

func TestBucket_FirstSessionSkipsInvalid(t *testing.T) {
	res := resolveDocs(t,
		doc(models.CollectionKmcSessions, "bad").
			Set("kmcStart", models.Timestamp(birth.Add(time.Hour))).
			Set("kmcEnd", models.Timestamp(birth.Add(time.Hour))),
		doc(models.CollectionKmcSessions, "open").Set("kmcStart", models.Timestamp(birth.Add(5*time.Hour))),
		doc(models.CollectionKmcSessions, "late").
			Set("kmcStart", models.Timestamp(birth.Add(9*time.Hour))).
			Set("kmcEnd", models.Timestamp(birth.Add(10*time.Hour))),
	)
	out := newBucketer().Bucket(res, birth.Add(72*time.Hour))

	require.Contains(t, out.FirstSessions, "b1")
	assert.Equal(t, "open", out.FirstSessions["b1"].Header().ID)
}

func TestBucket_FirstSessionMayBeAtAnotherHospital(t *testing.T) {
	earlier := models.NewDocument(models.CollectionKmcSessions, "k0", 1).
		Set("idBaby", models.Reference(models.CollectionBabies, "b1")).
		Set("hospitalID", models.Reference(models.CollectionHospitals, "h2")).
		Set("kmcStart", models.Timestamp(birth.Add(time.Hour))).
		Set("kmcEnd", models.Timestamp(birth.Add(2*time.Hour)))
	snap := resolver.Snapshot{
		Hospitals: []*models.Document{models.NewDocument(models.CollectionHospitals, "h1", 1)},
		Babies: []*models.Document{models.NewDocument(models.CollectionBabies, "b1", 1).
			Set("hospitalID", models.String("h1")).
			Set("birthDate", models.Timestamp(birth))},
		Events: []*models.Document{
			doc(models.CollectionKmcSessions, "k1").Set("kmcStart", models.Timestamp(birth.Add(30*time.Hour))),
		},
		Related: []*models.Document{earlier},
	}
	res := resolver.NewResolver(resolver.Options{}, zap.NewNop()).Resolve(snap)
	out := newBucketer().Bucket(res, birth.Add(72*time.Hour))

	require.Contains(t, out.FirstSessions, "b1")
	first := out.FirstSessions["b1"]
	assert.Equal(t, "k0", first.Header().ID)
	assert.Equal(t, "h2", first.Hospital.ID)

	// related sessions are never bucketed
	for _, wb := range out.Weeks {
		for _, ev := range wb.Events {
			assert.NotEqual(t, "k0", ev.Header().ID)
		}
	}
}

func TestBucket_ExposureEndsAtDischarge(t *testing.T) {
	res := resolveDocs(t,
		doc(models.CollectionRegistrations, "r1").Set("registrationDate", models.Timestamp(birth)),
		doc(models.CollectionDischarges, "d1").Set("dischargeDate", models.Timestamp(birth.Add(36*time.Hour))),
	)
	out := newBucketer().Bucket(res, birth.Add(30*24*time.Hour))

	require.Len(t, out.Exposures, 1)
	e := out.Exposures[0]
	assert.Equal(t, 36*time.Hour, e.End.Sub(e.Start))
	assert.Equal(t, 12*time.Hour, e.Overlap(birth.Add(24*time.Hour), birth.Add(72*time.Hour)))
	assert.Zero(t, e.Overlap(birth.Add(48*time.Hour), birth.Add(72*time.Hour)))
}

func TestBucket_FlagsLongSessions(t *testing.T) {
	res := resolveDocs(t,
		doc(models.CollectionKmcSessions, "k1").
			Set("kmcStart", models.Timestamp(birth.Add(time.Hour))).
			Set("kmcEnd", models.Timestamp(birth.Add(30*time.Hour))),
		doc(models.CollectionKmcSessions, "k2").
			Set("kmcStart", models.Timestamp(birth.Add(31*time.Hour))).
			Set("kmcEnd", models.Timestamp(birth.Add(32*time.Hour))),
	)
	out := newBucketer().Bucket(res, birth.Add(72*time.Hour))

	require.Equal(t, 1, countFlag(out.Issues, models.FlagSessionOver24h))
	assert.Equal(t, "k1", out.Issues[0].DocumentID)
	assert.False(t, out.Issues[0].Excluded)
}
