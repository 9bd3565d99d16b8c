package aggregator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kmc-indicators/internal/bucket"
	"kmc-indicators/internal/indicators"
	"kmc-indicators/internal/models"
	"kmc-indicators/internal/resolver"
	"kmc-indicators/internal/store"
)

// fetchPad widens the fetched window so that day buckets straddling the
// report bounds see all of their events.
const fetchPad = 7 * 24 * time.Hour

const defaultMaxParallel = 4

// babyCollections are fetched for every baby in a pass regardless of
// hospital or time, so that baby-level facts recorded elsewhere are seen.
var babyCollections = []string{
	models.CollectionRegistrations,
	models.CollectionLabourRoom,
	models.CollectionDeaths,
	models.CollectionDischarges,
	models.CollectionKmcSessions,
	models.CollectionDayOfLife,
}

// Engine computes weekly indicator reports from a record store.
type Engine struct {
	store       store.Store
	settings    indicators.Settings
	cache       *CacheManager
	maxParallel int
	clock       func() time.Time
	logger      *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables incremental recomputation through c.
func WithCache(c *CacheManager) Option {
	return func(e *Engine) { e.cache = c }
}

// WithClock sets the source of the as-of time.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithMaxParallel bounds the number of hospitals computed at once.
func WithMaxParallel(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxParallel = n
		}
	}
}

func NewEngine(st store.Store, settings indicators.Settings, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		settings:    settings,
		maxParallel: defaultMaxParallel,
		clock:       func() time.Time { return time.Now().UTC().Truncate(time.Minute) },
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cache == nil {
		e.cache = NewCacheManager(nil, 0, logger)
	}
	return e
}

// Stats describes cache use in one run.
type Stats struct {
	CacheHits   int `json:"cache_hits"`
	CacheMisses int `json:"cache_misses"`
}

// Run is one computation. The Report is deterministic; the rest is not.
type Run struct {
	ID       string
	Report   *Report
	Issues   []models.Issue
	Stats    Stats
	Duration time.Duration
}

// ComputeReport computes indicators for every hospital in scope over the
// weeks touching dr. An empty scope means every hospital.
func (e *Engine) ComputeReport(ctx context.Context, scope []string, dr DateRange) (*Report, error) {
	run, err := e.Compute(ctx, scope, dr)
	if err != nil {
		return nil, err
	}
	return run.Report, nil
}

// DataQuality returns the raw flagged records behind a report.
func (e *Engine) DataQuality(ctx context.Context, scope []string, dr DateRange) ([]models.Issue, error) {
	run, err := e.Compute(ctx, scope, dr)
	if err != nil {
		return nil, err
	}
	return run.Issues, nil
}

type hospitalResult struct {
	report    *HospitalReport
	issues    []models.Issue
	proposals []Proposal
	stats     Stats
}

// Compute runs the full pipeline as of the engine clock.
func (e *Engine) Compute(ctx context.Context, scope []string, dr DateRange) (*Run, error) {
	return e.ComputeAsOf(ctx, scope, dr, time.Time{})
}

// ComputeAsOf runs the full pipeline as of asOf, or the engine clock when
// asOf is zero. Pending follow-ups, open exposures and elapsed weeks are
// judged at asOf, so equal inputs and asOf give equal reports. Per-hospital
// fetch failures land in Report.Failures; an error is returned only when no
// hospital succeeds.
func (e *Engine) ComputeAsOf(ctx context.Context, scope []string, dr DateRange, asOf time.Time) (*Run, error) {
	started := time.Now()
	run := &Run{ID: uuid.NewString()}
	if asOf.IsZero() {
		asOf = e.clock()
	}
	asOf = asOf.UTC()
	logger := e.logger.With(zap.String("run_id", run.ID))

	hospitals, err := e.hospitalsInScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	logger.Info("Starting report run",
		zap.Int("hospitals", len(hospitals)),
		zap.Time("as_of", asOf),
		zap.Time("from", dr.From),
		zap.Time("to", dr.To),
	)

	gen := e.cache.Snapshot()
	results := make(map[string]*hospitalResult, len(hospitals))
	var failures []*FetchError
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.maxParallel)
	for _, h := range hospitals {
		h := h
		g.Go(func() error {
			res, err := e.computeHospital(gctx, gen, h, dr, asOf)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				var fe *FetchError
				if !errors.As(err, &fe) {
					fe = &FetchError{Collection: models.CollectionHospitals, Scope: []string{h.ID}, Err: err}
				}
				logger.Error("Hospital report failed", zap.String("hospital_id", h.ID), zap.Error(err))
				failures = append(failures, fe)
				return nil
			}
			results[h.ID] = res
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &Report{
		Scope:     scopeIDs(hospitals),
		Range:     dr,
		AsOf:      asOf,
		Hospitals: make(map[string]*HospitalReport, len(results)),
	}
	sort.Slice(failures, func(i, j int) bool {
		return fmt.Sprint(failures[i].Scope) < fmt.Sprint(failures[j].Scope)
	})
	report.Failures = failures

	var proposals []Proposal
	groups := make([][]models.Issue, 0, len(results))
	for _, id := range report.Scope {
		res, ok := results[id]
		if !ok {
			continue
		}
		report.Hospitals[id] = res.report
		groups = append(groups, res.issues)
		proposals = append(proposals, res.proposals...)
		run.Stats.CacheHits += res.stats.CacheHits
		run.Stats.CacheMisses += res.stats.CacheMisses
	}
	run.Issues = mergeIssues(groups...)
	report.DataQuality = Summarize(run.Issues)
	run.Report = report

	if len(hospitals) > 0 && len(results) == 0 {
		return nil, fmt.Errorf("report run %s: every hospital failed: %w", run.ID, failures[0])
	}

	e.cache.Commit(ctx, proposals)
	run.Duration = time.Since(started)
	logger.Info("Finished report run",
		zap.Int("hospitals", len(results)),
		zap.Int("failures", len(failures)),
		zap.Int("cache_hits", run.Stats.CacheHits),
		zap.Int("cache_misses", run.Stats.CacheMisses),
		zap.Int("issues", report.DataQuality.Total),
		zap.Duration("duration", run.Duration),
	)
	return run, nil
}

func scopeIDs(hospitals []*models.Hospital) []string {
	ids := make([]string, 0, len(hospitals))
	for _, h := range hospitals {
		ids = append(ids, h.ID)
	}
	return ids
}

// hospitalsInScope resolves the requested hospital ids, or lists every
// hospital when scope is empty. A missing hospital is a scope failure, not a
// run failure, and is reported through computeHospital.
func (e *Engine) hospitalsInScope(ctx context.Context, scope []string) ([]*models.Hospital, error) {
	if len(scope) == 0 {
		docs, err := e.store.Fetch(ctx, models.CollectionHospitals, nil, store.TimeRange{})
		if err != nil {
			return nil, &FetchError{Collection: models.CollectionHospitals, Scope: nil, Err: err}
		}
		out := make([]*models.Hospital, 0, len(docs))
		for _, d := range docs {
			out = append(out, models.DecodeHospital(d))
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		return out, nil
	}
	seen := map[string]bool{}
	out := make([]*models.Hospital, 0, len(scope))
	for _, id := range scope {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, &models.Hospital{ID: id})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fetchPlan returns the range fetched for each collection.
func fetchPlan(from, to time.Time) map[string]store.TimeRange {
	window := store.TimeRange{From: from.Add(-fetchPad), To: to.Add(fetchPad)}
	plan := map[string]store.TimeRange{
		models.CollectionUsers:  {},
		models.CollectionBabies: {},
	}
	for _, coll := range models.EventCollections {
		if models.TimeField(coll) == "" {
			plan[coll] = store.TimeRange{}
			continue
		}
		plan[coll] = window
	}
	// the first session of a baby may precede the window
	plan[models.CollectionKmcSessions] = store.TimeRange{To: window.To}
	// observations are filtered on their due date but reported at their
	// completion, which can be any time later
	plan[models.CollectionObservations] = store.TimeRange{To: window.To}
	return plan
}

func (e *Engine) computeHospital(ctx context.Context, gen *Generation, h *models.Hospital, dr DateRange, asOf time.Time) (*hospitalResult, error) {
	scope := []string{h.ID}
	hdoc, err := e.store.Lookup(ctx, models.Ref{Collection: models.CollectionHospitals, ID: h.ID})
	if err != nil {
		return nil, &FetchError{Collection: models.CollectionHospitals, Scope: scope, Err: err}
	}
	hospital := models.DecodeHospital(hdoc)

	loc := e.settings.Zone(hospital.ID, hospital.UTCOffsetMinutes)
	first, last := dr.In(loc)
	weeks := bucket.WeeksBetween(first, last, loc)
	if len(weeks) == 0 {
		return &hospitalResult{report: &HospitalReport{
			HospitalID:   hospital.ID,
			HospitalName: hospital.Name,
			Weeks:        map[string]indicators.WeekIndicators{},
			DataQuality:  Summarize(nil),
		}}, nil
	}
	from, to := weeks[0].Start(loc), weeks[len(weeks)-1].End(loc)

	snap := resolver.Snapshot{Hospitals: []*models.Document{hdoc}}
	plan := fetchPlan(from, to)
	colls := make([]string, 0, len(plan))
	for coll := range plan {
		colls = append(colls, coll)
	}
	sort.Strings(colls)
	for _, coll := range colls {
		docs, err := e.store.Fetch(ctx, coll, scope, plan[coll])
		if err != nil {
			return nil, &FetchError{Collection: coll, Scope: scope, Err: err}
		}
		switch coll {
		case models.CollectionUsers:
			snap.Users = docs
		case models.CollectionBabies:
			snap.Babies = docs
		default:
			snap.Events = append(snap.Events, docs...)
		}
	}
	if err := e.lookupMissing(ctx, &snap, scope); err != nil {
		return nil, err
	}
	store.SortDocuments(snap.Events)
	if err := e.fetchRelated(ctx, &snap, scope); err != nil {
		return nil, err
	}

	zones := make(map[string]*time.Location, len(snap.Hospitals))
	for _, d := range snap.Hospitals {
		zones[d.ID] = e.settings.Zone(d.ID, models.DecodeHospital(d).UTCOffsetMinutes)
	}
	zone := func(id string) *time.Location {
		if z, ok := zones[id]; ok {
			return z
		}
		return e.settings.Zone(id, nil)
	}
	res := resolver.NewResolver(resolver.Options{ExcludeDeletionRequested: e.settings.ExcludeDeletionRequested}, e.logger).Resolve(snap)
	buckets := bucket.NewBucketer(zone, e.logger).Bucket(res, asOf)

	out := &hospitalResult{report: &HospitalReport{
		HospitalID:   hospital.ID,
		HospitalName: hospital.Name,
		Weeks:        make(map[string]indicators.WeekIndicators, len(weeks)),
	}}
	settingsHash := e.settings.Hash()
	for _, w := range weeks {
		in := weekInput(res, buckets, hospital.ID, w, loc, asOf)
		key := bucket.WeekKey{HospitalID: hospital.ID, Week: w}.String()
		fp := Fingerprint(in, hospital, settingsHash)

		payload, err := e.cache.Get(ctx, gen, key, fp)
		if err == nil {
			out.stats.CacheHits++
		} else {
			out.stats.CacheMisses++
			payload, err = json.Marshal(indicators.ComputeWeek(in, e.settings))
			if err != nil {
				return nil, fmt.Errorf("encode week %s: %w", key, err)
			}
			out.proposals = append(out.proposals, Proposal{Key: key, Fingerprint: fp, Payload: payload})
		}
		// Cached and fresh weeks take the same decode path.
		var wi indicators.WeekIndicators
		if err := json.Unmarshal(payload, &wi); err != nil {
			return nil, fmt.Errorf("decode week %s: %w", key, err)
		}
		out.report.Weeks[w.String()] = wi
	}

	out.issues = attribute(append(append([]models.Issue{}, res.Issues...), buckets.Issues...), hospital.ID)
	out.report.DataQuality = Summarize(out.issues)
	for _, is := range out.issues {
		e.logger.Debug("Data quality issue",
			zap.String("hospital_id", is.HospitalID),
			zap.String("collection", is.Collection),
			zap.String("document_id", is.DocumentID),
			zap.String("flag", string(is.Flag)),
			zap.String("detail", is.Detail),
		)
	}
	e.logger.Info("Computed hospital report",
		zap.String("hospital_id", hospital.ID),
		zap.Int("weeks", len(weeks)),
		zap.Int("events", len(res.Events)),
		zap.Int("issues", len(out.issues)),
		zap.Int("cache_hits", out.stats.CacheHits),
	)
	return out, nil
}

// lookupMissing fetches babies, users and hospitals referenced by the
// snapshot but outside its scope, such as a baby transferred in from
// another hospital. Absent references stay absent and become orphan issues.
func (e *Engine) lookupMissing(ctx context.Context, snap *resolver.Snapshot, scope []string) error {
	have := map[models.Ref]bool{}
	for _, group := range [][]*models.Document{snap.Hospitals, snap.Users, snap.Babies} {
		for _, d := range group {
			have[d.Ref()] = true
		}
	}
	var want []models.Ref
	need := func(ref models.Ref, ok bool) {
		if !ok || ref.IsZero() || have[ref] {
			return
		}
		have[ref] = true
		want = append(want, ref)
	}
	for _, d := range snap.Events {
		need(d.RefTo("idBaby", models.CollectionBabies))
		need(d.RefTo("hospitalID", models.CollectionHospitals))
		need(d.RefTo("nurseID", models.CollectionUsers))
	}
	for _, d := range snap.Babies {
		need(d.RefTo("hospitalID", models.CollectionHospitals))
	}

	// a looked-up baby may point at yet another hospital
	for len(want) > 0 {
		ref := want[0]
		want = want[1:]
		d, err := e.store.Lookup(ctx, ref)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return &FetchError{Collection: ref.Collection, Scope: scope, Err: err}
		}
		switch ref.Collection {
		case models.CollectionBabies:
			snap.Babies = append(snap.Babies, d)
			need(d.RefTo("hospitalID", models.CollectionHospitals))
		case models.CollectionUsers:
			snap.Users = append(snap.Users, d)
		case models.CollectionHospitals:
			snap.Hospitals = append(snap.Hospitals, d)
		}
	}
	return nil
}

// fetchRelated adds the by-baby records of every baby in the snapshot that
// the hospital fetch did not return: records at other hospitals and records
// outside the window.
func (e *Engine) fetchRelated(ctx context.Context, snap *resolver.Snapshot, scope []string) error {
	if len(snap.Babies) == 0 {
		return nil
	}
	ids := make([]string, 0, len(snap.Babies))
	for _, d := range snap.Babies {
		ids = append(ids, d.ID)
	}
	sort.Strings(ids)

	have := make(map[models.Ref]bool, len(snap.Events))
	for _, d := range snap.Events {
		have[d.Ref()] = true
	}
	for _, coll := range babyCollections {
		docs, err := e.store.FetchByBaby(ctx, coll, ids)
		if err != nil {
			return &FetchError{Collection: coll, Scope: scope, Err: err}
		}
		for _, d := range docs {
			if have[d.Ref()] {
				continue
			}
			have[d.Ref()] = true
			snap.Related = append(snap.Related, d)
		}
	}
	store.SortDocuments(snap.Related)
	e.logger.Debug("Fetched related records",
		zap.Strings("scope", scope),
		zap.Int("babies", len(ids)),
		zap.Int("related", len(snap.Related)),
	)
	return nil
}

// weekInput gathers one (hospital, week) from the pass.
func weekInput(res *resolver.Result, b *bucket.Buckets, hospitalID string, w bucket.Week, loc *time.Location, asOf time.Time) *indicators.WeekInput {
	key := bucket.WeekKey{HospitalID: hospitalID, Week: w}
	in := &indicators.WeekInput{
		HospitalID: hospitalID,
		Week:       w,
		Start:      w.Start(loc).UTC(),
		End:        w.End(loc).UTC(),
		AsOf:       asOf,
		Days:       b.DaysIn(key),
		Babies:     map[string]*resolver.BabyRecord{},
	}
	if wb, ok := b.Weeks[key]; ok {
		in.Events = wb.Events
		in.Births = wb.Births
	}

	babyIDs := make([]string, 0, len(b.FirstSessions))
	for id := range b.FirstSessions {
		babyIDs = append(babyIDs, id)
	}
	sort.Strings(babyIDs)
	for _, id := range babyIDs {
		ev := b.FirstSessions[id]
		t := ev.Event.EffectiveTime()
		if ev.Hospital.ID == hospitalID && !t.Before(in.Start) && t.Before(in.End) {
			in.FirstSessions = append(in.FirstSessions, ev)
		}
	}
	for _, x := range b.Exposures {
		if x.HospitalID == hospitalID && x.Overlap(in.Start, in.End) > 0 {
			in.Exposures = append(in.Exposures, x)
		}
	}

	addBaby := func(id string) {
		if rec, ok := res.Babies[id]; ok {
			in.Babies[id] = rec
		}
	}
	for _, rec := range in.Births {
		addBaby(rec.Baby.ID)
	}
	for _, ev := range in.Events {
		addBaby(ev.Header().BabyID)
	}
	for _, db := range in.Days {
		addBaby(db.Key.BabyID)
	}
	for _, ev := range in.FirstSessions {
		addBaby(ev.Header().BabyID)
	}
	for _, x := range in.Exposures {
		addBaby(x.BabyID)
	}
	return in
}

// attribute files issues with no hospital under the pass hospital.
func attribute(issues []models.Issue, hospitalID string) []models.Issue {
	for i := range issues {
		if issues[i].HospitalID == "" {
			issues[i].HospitalID = hospitalID
		}
	}
	return mergeIssues(issues)
}
