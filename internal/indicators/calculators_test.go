package indicators

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kmc-indicators/internal/bucket"
	"kmc-indicators/internal/models"
	"kmc-indicators/internal/resolver"
)

func TestDose_TwoSessionsSameDay(t *testing.T) {
	in := newInput()
	birth := weekStart.Add(6 * time.Hour)
	in.addBaby("b1", birth)
	dayBucket(in, "b1", 1,
		kmcSession("k1", "b1", birth.Add(2*time.Hour), 45),
		kmcSession("k2", "b1", birth.Add(5*time.Hour), 60),
	)

	d := ComputeDose(in, DefaultSettings())

	require.Len(t, d.Days, 1)
	assert.Equal(t, 105.0, d.Days[0].Minutes)
	assert.Equal(t, 1, d.Days[0].Day)
	assert.Equal(t, "0.1458", mustJSON(t, d.Days[0].Dose))
	assert.Equal(t, 1, d.BabyDays)
	assert.Zero(t, d.CappedSessions)
	assert.Zero(t, d.OpenSessions)
}

func TestDose_SessionCappedAtOneDay(t *testing.T) {
	in := newInput()
	birth := weekStart
	in.addBaby("b1", birth)
	for _, minutes := range []float64{1441, 1800, 3 * 1440} {
		in.Days = nil
		dayBucket(in, "b1", 1, kmcSession("k1", "b1", birth.Add(time.Hour), minutes))

		d := ComputeDose(in, DefaultSettings())
		require.Len(t, d.Days, 1)
		assert.Equal(t, 1440.0, d.Days[0].Minutes)
		assert.Equal(t, 1, d.CappedSessions)
		assert.Equal(t, "1", d.DaysMeetingTarget.Value.String())
	}
}

func TestDose_OpenInvalidAndSummaryFallback(t *testing.T) {
	in := newInput()
	birth := weekStart
	in.addBaby("b1", birth)
	dayBucket(in, "b1", 1,
		openKmcSession("k1", "b1", birth.Add(time.Hour)),
		kmcSession("k2", "b1", birth.Add(2*time.Hour), -10),
	)
	summary := &models.DayOfLifeSummary{
		EventHeader: header(models.CollectionDayOfLife, "a2", "b1"),
		DayNumber:   2,
		Date:        birth.Add(30 * time.Hour),
		KMCMinutes:  ptr(2000),
	}
	dayBucket(in, "b1", 2, summary)
	// a day with only a summary that has no minutes is not a KMC day
	dayBucket(in, "b1", 3, &models.DayOfLifeSummary{EventHeader: header(models.CollectionDayOfLife, "a3", "b1"), DayNumber: 3})

	d := ComputeDose(in, DefaultSettings())

	require.Len(t, d.Days, 2)
	assert.Equal(t, 0.0, d.Days[0].Minutes)
	assert.False(t, d.Days[0].FromSummary)
	assert.Equal(t, 1440.0, d.Days[1].Minutes)
	assert.True(t, d.Days[1].FromSummary)
	assert.Equal(t, 1, d.OpenSessions)
	assert.Equal(t, 1, d.InvalidSessions)
	assert.Equal(t, "720", d.MeanMinutes.String())
}

func TestTiming(t *testing.T) {
	in := newInput()
	b1 := in.addBaby("b1", weekStart)
	b2 := in.addBaby("b2", weekStart.Add(time.Hour))
	b3 := in.addBaby("b3", time.Time{})

	in.FirstSessions = []*resolver.ResolvedEvent{
		resolved(kmcSession("k1", "b1", weekStart.Add(10*time.Hour), 30), b1),
		resolved(openKmcSession("k2", "b2", weekStart.Add(31*time.Hour)), b2),
		resolved(kmcSession("k3", "b3", weekStart, 30), b3),
	}
	in.add(kmcSession("k9", "b1", weekStart.Add(12*time.Hour), -5))

	tm := ComputeTiming(in)

	assert.Equal(t, 2, tm.Initiated.Count)
	assert.Equal(t, "20", tm.Initiated.Median.String())
	assert.Equal(t, "0.5", tm.Within24h.Value.String())
	assert.Equal(t, 1, tm.OpenInitial)
	assert.Equal(t, 1, tm.NoBirthDate)
	assert.Equal(t, 1, tm.InvalidSessions)
}

func TestFeeding(t *testing.T) {
	in := newInput()
	in.addBaby("b1", weekStart)
	var feeds []models.Event
	for i := 0; i < 8; i++ {
		feeds = append(feeds, feedingSession("f"+string(rune('a'+i)), "b1", weekStart.Add(time.Duration(i)*3*time.Hour), 20, models.FeedExclusiveBreast))
	}
	dayBucket(in, "b1", 1, feeds...)
	dayBucket(in, "b1", 2,
		feedingSession("g1", "b1", weekStart.Add(25*time.Hour), 15, models.FeedFormula),
		feedingSession("g2", "b1", weekStart.Add(28*time.Hour), 0, models.FeedUnknown),
	)

	f := ComputeFeeding(in, DefaultSettings())

	assert.Equal(t, 2, f.BabyDays)
	assert.Equal(t, 10, f.Feeds)
	assert.Equal(t, 175.0, f.TotalMinutes)
	assert.Equal(t, "0.625", f.Adequacy.Value.String())
	assert.Equal(t, "0.5", f.AdequateDays.Value.String())
	assert.Equal(t, 8.0, f.ExclusiveBreastfeeding.Numerator)
	assert.Equal(t, 9.0, f.ExclusiveBreastfeeding.Denominator)
	assert.Equal(t, 1.0, f.FormulaOrMixed.Numerator)
	assert.Equal(t, 1, f.OpenSessions)
	assert.Equal(t, 1, f.Modes[models.FeedUnknown])
}

func observation(id string, completed bool, temp *float64) *models.Observation {
	o := &models.Observation{
		EventHeader:  header(models.CollectionObservations, id, "b1"),
		DueDate:      weekStart.Add(time.Hour),
		Completed:    completed,
		TemperatureC: temp,
	}
	if completed {
		o.CompletedDate = weekStart.Add(2 * time.Hour)
	}
	return o
}

func TestTemperature(t *testing.T) {
	in := newInput()
	in.addBaby("b1", weekStart)
	in.add(observation("o1", true, ptr(36.8)))
	in.add(observation("o2", true, ptr(35.9)))
	in.add(observation("o3", true, ptr(37.5)))
	in.add(observation("o4", true, ptr(38.2)))
	in.add(observation("o5", true, nil))
	in.add(observation("o6", false, ptr(30)))

	tm := ComputeTemperature(in, DefaultSettings())

	assert.Equal(t, 5, tm.Completed)
	assert.Equal(t, 1, tm.Pending)
	assert.Equal(t, 4, tm.Measured)
	assert.Equal(t, 2.0, tm.Normothermic.Numerator)
	assert.Equal(t, 4.0, tm.Normothermic.Denominator)
	assert.Equal(t, 1, tm.Hypothermic)
	assert.Equal(t, 1, tm.Hyperthermic)
	assert.Equal(t, 1, tm.MissingValue)
}

func TestTemperature_OnlyPendingIsNotApplicable(t *testing.T) {
	in := newInput()
	in.addBaby("b1", weekStart)
	in.add(observation("o1", false, nil))

	tm := ComputeTemperature(in, DefaultSettings())
	assert.False(t, tm.Normothermic.Value.Defined())
}

func followUp(id, babyID string, due time.Time, status string) *models.FollowUp {
	return &models.FollowUp{
		EventHeader: header(models.CollectionFollowUps, id, babyID),
		Number:      1,
		DueDate:     due,
		Status:      status,
	}
}

func registered(rec *resolver.BabyRecord) {
	rec.Registration = &models.Registration{
		EventHeader:      header(models.CollectionRegistrations, "r-"+rec.Baby.ID, rec.Baby.ID),
		RegistrationDate: rec.Baby.BirthDate,
	}
}

func TestContinuity_PendingTwoWeeksLaterIsOverdue(t *testing.T) {
	in := newInput()
	registered(in.addBaby("b1", weekStart.AddDate(0, 0, -10)))
	in.AsOf = weekStart.AddDate(0, 0, 16) // week N+2
	in.add(followUp("f1", "b1", weekStart.AddDate(0, 0, 2), "pending"))

	c := ComputeContinuity(in)

	assert.Equal(t, map[FollowUpOutcome]int{FollowUpOverduePending: 1}, c.Outcomes)
	assert.Equal(t, 0.0, c.CompletedOnTime.Numerator)
	assert.Equal(t, 1.0, c.CompletedOnTime.Denominator)
}

func TestContinuity_Outcomes(t *testing.T) {
	in := newInput()
	registered(in.addBaby("b1", weekStart.AddDate(0, 0, -10)))
	in.addBaby("b2", weekStart.AddDate(0, 0, -10)) // never registered
	in.AsOf = weekStart.AddDate(0, 0, 3)

	onTime := followUp("f1", "b1", weekStart, "completed")
	onTime.CompletedDate = weekStart.Add(24 * time.Hour)
	late := followUp("f2", "b1", weekStart, "contacted")
	late.CompletedDate = weekStart.AddDate(0, 0, 8)
	unreachable := followUp("f3", "b1", weekStart, "pending")
	unreachable.Unreachable = true
	for _, f := range []*models.FollowUp{
		onTime, late, unreachable,
		followUp("f4", "b1", weekStart.Add(time.Hour), "pending"),
		followUp("f5", "b1", weekStart.AddDate(0, 0, 5), "pending"),
		followUp("f6", "b2", weekStart, "pending"),
	} {
		in.add(f)
	}

	c := ComputeContinuity(in)

	assert.Equal(t, map[FollowUpOutcome]int{
		FollowUpCompletedOnTime: 1,
		FollowUpCompletedLate:   1,
		FollowUpUnreachable:     1,
		FollowUpDuePending:      1,
		FollowUpNotYetDue:       1,
	}, c.Outcomes)
	assert.Equal(t, 1.0, c.CompletedOnTime.Numerator)
	assert.Equal(t, 3.0, c.CompletedOnTime.Denominator)
}

func TestCoverage(t *testing.T) {
	in := newInput()
	s := DefaultSettings()

	eligibleReg := in.addBaby("b1", weekStart)
	registered(eligibleReg)
	eligibleReg.LabourRoom = &models.LabourRoomRecord{EventHeader: header(models.CollectionLabourRoom, "l1", "b1")}

	lateReg := in.addBaby("b2", weekStart)
	lateReg.Baby.InProgram = false
	lateReg.Baby.BirthWeightGrams = ptr(1900)
	lateReg.Registration = &models.Registration{RegistrationDate: weekStart.Add(50 * time.Hour)}

	unregistered := in.addBaby("b3", weekStart)
	unregistered.Baby.InProgram = false
	unregistered.Baby.GestationalWeeks = ptr(34)

	ineligible := in.addBaby("b4", weekStart)
	ineligible.Baby.InProgram = false
	ineligible.Baby.BirthWeightGrams = ptr(3100)

	in.Births = []*resolver.BabyRecord{eligibleReg, lateReg, unregistered, ineligible}

	c := ComputeCoverage(in, s)

	assert.Equal(t, 4, c.Cohort)
	assert.Equal(t, 3, c.Eligible)
	assert.Equal(t, 2.0, c.Coverage.Numerator)
	assert.Equal(t, 3.0, c.Coverage.Denominator)
	assert.Equal(t, "0.5", c.RegisteredWithin24h.Value.String())
	assert.Equal(t, 1.0, c.LabourRoomIdentified.Numerator)
	assert.Equal(t, 4, c.Lifecycle[models.StateActive])
}

func TestCoverage_NoEligibleIsNotApplicable(t *testing.T) {
	in := newInput()
	c := ComputeCoverage(in, DefaultSettings())
	assert.False(t, c.Coverage.Value.Defined())
	assert.Equal(t, `"not_applicable"`, mustJSON(t, c.Coverage.Value))
}

func TestSafety_DeathWithoutRegistration(t *testing.T) {
	in := newInput()
	s := DefaultSettings()
	dead := in.addBaby("b1", weekStart)
	dead.Death = &models.Death{EventHeader: header(models.CollectionDeaths, "d1", "b1"), Date: weekStart.Add(48 * time.Hour)}
	in.add(dead.Death)
	in.Births = []*resolver.BabyRecord{dead}
	in.add(followUp("f1", "b1", weekStart.Add(time.Hour), "pending"))

	alive := in.addBaby("b2", weekStart)
	alive.Baby.PlaceOfDelivery = "this hospital"
	registered(alive)
	in.Exposures = []bucket.Exposure{{
		BabyID: "b2", HospitalID: "h1", BirthType: models.BirthInborn,
		Start: weekStart, End: weekStart.AddDate(0, 0, 30),
	}}

	safety := ComputeSafety(in, s)
	assert.Equal(t, 1, safety.Deaths)
	assert.Equal(t, 1, safety.Unregistered)
	assert.Equal(t, 1, safety.NeonatalDeaths)
	assert.Equal(t, 7.0, safety.BabyDays)
	assert.Equal(t, "142.8571", mustJSON(t, safety.Rate))
	assert.Equal(t, 1, safety.ByBirthType[models.BirthUnknown].Deaths)
	assert.False(t, safety.ByBirthType[models.BirthUnknown].Rate.Defined())
	assert.Equal(t, 7.0, safety.ByBirthType[models.BirthInborn].BabyDays)

	coverage := ComputeCoverage(in, s)
	assert.Equal(t, 0, coverage.Cohort)
	continuity := ComputeContinuity(in)
	assert.Empty(t, continuity.Outcomes)
}

func TestSafety_ExposureStopsAtAsOf(t *testing.T) {
	in := newInput()
	in.AsOf = weekStart.Add(36 * time.Hour)
	in.Exposures = []bucket.Exposure{{BabyID: "b1", HospitalID: "h1", Start: weekStart.Add(-time.Hour), End: in.AsOf}}

	safety := ComputeSafety(in, DefaultSettings())
	assert.Equal(t, 1.5, safety.BabyDays)
	assert.Equal(t, "0", safety.Rate.String())
}

func TestSafety_DangerSignAlerts(t *testing.T) {
	in := newInput()
	in.addBaby("b1", weekStart)
	set, _ := models.NewCodedSet([]string{"fever", "other"}, "grunting")
	in.add(&models.StatusUpdate{EventHeader: header(models.CollectionStatusUpdates, "s1", "b1"), Date: weekStart, DangerSigns: set})
	in.add(&models.StatusUpdate{EventHeader: header(models.CollectionStatusUpdates, "s2", "b1"), Date: weekStart})

	safety := ComputeSafety(in, DefaultSettings())
	assert.Equal(t, 1, safety.Alerts)
	assert.Equal(t, map[string]int{"fever": 1, "other": 1}, safety.DangerSigns)
	assert.False(t, safety.Rate.Defined())
}

func TestOutcomes(t *testing.T) {
	in := newInput()
	in.addBaby("b1", weekStart)
	discharge := func(id string, n int, status, typ, reason string) *models.Discharge {
		return &models.Discharge{EventHeader: header(models.CollectionDischarges, id, "b1"), Number: n, Date: weekStart, Status: status, Type: typ, Reason: reason}
	}
	in.add(discharge("d1", 1, "critical", "home", ""))
	in.add(discharge("d2", 2, "stable", "home", ""))
	in.add(discharge("d3", 1, "critical", "referred", ""))
	in.add(discharge("d4", 1, "", "died", ""))
	in.add(discharge("d5", 1, "stable", "lama", ""))
	in.add(discharge("d6", 1, "", "", "Left against medical advice"))

	o := ComputeOutcomes(in)

	assert.Equal(t, 6, o.Discharges)
	assert.Equal(t, 1, o.Readmissions)
	assert.Equal(t, map[DischargeCategory]int{
		DischargeCriticalHome:     1,
		DischargeStableHome:       1,
		DischargeCriticalReferred: 1,
		DischargeDied:             1,
		DischargeLAMA:             2,
	}, o.Categories)
	assert.Equal(t, 1.0, o.DischargedCritical.Numerator)
	assert.Equal(t, 4.0, o.DischargedCritical.Denominator)
}

func TestComputeWeek_EmptyInputHasNoNumericRatios(t *testing.T) {
	w := ComputeWeek(newInput(), DefaultSettings())

	for _, r := range []Ratio{
		w.Coverage.Coverage, w.Coverage.RegisteredWithin24h, w.Coverage.LabourRoomIdentified,
		w.Timing.Within24h, w.Dose.DaysMeetingTarget, w.Feeding.Adequacy, w.Feeding.AdequateDays,
		w.Feeding.ExclusiveBreastfeeding, w.Feeding.FormulaOrMixed, w.Temperature.Normothermic,
		w.Continuity.CompletedOnTime, w.Outcomes.DischargedCritical, w.Outcomes.WithoutKMC,
	} {
		assert.False(t, r.Value.Defined())
	}
	for _, m := range []Measure{
		w.Timing.Initiated.Median, w.Timing.Initiated.IQR, w.Dose.MeanMinutes, w.Dose.MeanDose,
		w.Feeding.MeanFeeds, w.Temperature.Mean, w.Safety.Rate, w.Stay.MeanDays,
	} {
		assert.False(t, m.Defined())
	}
	assert.Empty(t, w.Nurses.Nurses)
	assert.Empty(t, w.Dose.ByLocation)
	assert.Equal(t, "2024-W10", w.Week)

	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "NaN")
}

func discharge(id, babyID string, n int, at time.Time) *models.Discharge {
	return &models.Discharge{EventHeader: header(models.CollectionDischarges, id, babyID), Number: n, Date: at}
}

func TestDose_ByLocation(t *testing.T) {
	in := newInput()
	in.addBaby("b1", weekStart).Baby.Location = "SNCU"
	in.addBaby("b2", weekStart).Baby.Location = "SNCU"
	in.addBaby("b3", weekStart)
	dayBucket(in, "b1", 1, kmcSession("k1", "b1", weekStart.Add(time.Hour), 120))
	dayBucket(in, "b1", 2, kmcSession("k2", "b1", weekStart.Add(25*time.Hour), 240))
	dayBucket(in, "b2", 1, kmcSession("k3", "b2", weekStart.Add(2*time.Hour), 180))
	// a day with no minutes does not count at any location
	dayBucket(in, "b3", 1, openKmcSession("k4", "b3", weekStart.Add(time.Hour)))

	d := ComputeDose(in, DefaultSettings())

	require.Len(t, d.ByLocation, 1)
	sncu := d.ByLocation["SNCU"]
	assert.Equal(t, 2, sncu.Babies)
	assert.Equal(t, 3, sncu.BabyDays)
	assert.Equal(t, 540.0, sncu.TotalMinutes)
	assert.Equal(t, "3", sncu.HoursPerDay.String())
	assert.Equal(t, "4.5", sncu.HoursPerBaby.String())
}

func TestLengthOfStay(t *testing.T) {
	in := newInput()
	birth := weekStart.AddDate(0, 0, -10)
	in.addBaby("b1", birth).Baby.Location = "SNCU"
	in.addBaby("b2", birth).Baby.Location = "KMC ward"
	in.addBaby("b3", time.Time{})
	in.addBaby("b4", weekStart.AddDate(0, 0, 3))
	// readmitted and discharged twice in the week: the later discharge counts
	in.add(discharge("d1", "b1", 1, weekStart))
	in.add(discharge("d2", "b1", 2, weekStart.AddDate(0, 0, 2)))
	in.add(discharge("d3", "b2", 1, weekStart.Add(12*time.Hour)))
	in.add(discharge("d4", "b3", 1, weekStart))
	in.add(discharge("d5", "b4", 1, weekStart.AddDate(0, 0, 1)))

	s := ComputeLengthOfStay(in)

	assert.Equal(t, 2, s.Babies)
	assert.Equal(t, 1, s.NoBirthDate)
	assert.Equal(t, 1, s.BeforeBirth)
	assert.Equal(t, "11.25", s.MeanDays.String())
	assert.Equal(t, 2, s.Days.Count)
	assert.Equal(t, map[string]LocationStay{
		"SNCU":     {Babies: 1, MeanDays: Value(12)},
		"KMC ward": {Babies: 1, MeanDays: Value(10.5)},
	}, s.ByLocation)
}

func TestOutcomes_DischargedWithoutKMC(t *testing.T) {
	in := newInput()
	held := in.addBaby("b1", weekStart)
	held.FirstKMC = kmcSession("k1", "b1", weekStart.Add(time.Hour), 60)
	late := in.addBaby("b2", weekStart)
	// the only session starts after the discharge
	late.FirstKMC = kmcSession("k2", "b2", weekStart.AddDate(0, 0, 3), 60)
	in.addBaby("b3", weekStart)
	in.add(discharge("d1", "b1", 1, weekStart.AddDate(0, 0, 2)))
	in.add(discharge("d2", "b2", 1, weekStart.AddDate(0, 0, 2)))
	in.add(discharge("d3", "b3", 1, weekStart.AddDate(0, 0, 2)))
	in.add(discharge("d4", "b3", 2, weekStart.AddDate(0, 0, 4)))

	o := ComputeOutcomes(in)

	assert.Equal(t, 4, o.Discharges)
	assert.Equal(t, []string{"b2", "b3"}, o.WithoutKMCBabies)
	assert.Equal(t, 2.0, o.WithoutKMC.Numerator)
	assert.Equal(t, 3.0, o.WithoutKMC.Denominator)
}

func TestNurseActivity(t *testing.T) {
	in := newInput()
	in.addBaby("b1", weekStart)
	in.addBaby("b2", weekStart)
	asha := &models.User{ID: "n1", Name: "Asha", Version: 1}
	meera := &models.User{ID: "n2", Name: "Meera", Version: 1}
	withNurse := func(ev models.Event, u *models.User) {
		in.add(ev).Nurse = u
	}
	withNurse(&models.Registration{EventHeader: header(models.CollectionRegistrations, "r1", "b1"), RegistrationDate: weekStart}, asha)
	withNurse(&models.Registration{EventHeader: header(models.CollectionRegistrations, "r2", "b2"), RegistrationDate: weekStart}, meera)
	withNurse(discharge("d1", "b1", 1, weekStart.AddDate(0, 0, 2)), asha)
	withNurse(followUp("f1", "b1", weekStart.AddDate(0, 0, 3), "Contacted"), asha)
	withNurse(followUp("f2", "b2", weekStart.AddDate(0, 0, 3), ""), asha)
	withNurse(followUp("f3", "b2", weekStart.AddDate(0, 0, 4), ""), nil)
	// sessions are not nurse activity
	withNurse(kmcSession("k1", "b1", weekStart.Add(time.Hour), 60), meera)

	a := ComputeNurseActivity(in)

	assert.Equal(t, []NurseCount{
		{NurseID: "n1", Name: "Asha", Registrations: 1, Discharges: 1, FollowUps: 2, FollowUpsCompleted: 1},
		{NurseID: "n2", Name: "Meera", Registrations: 1},
	}, a.Nurses)
	assert.Equal(t, NurseCount{FollowUps: 1}, a.Unassigned)
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return string(data)
}
