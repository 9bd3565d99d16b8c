package resolver

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"kmc-indicators/internal/models"
)

// Snapshot is the reference data a resolution pass joins against.
type Snapshot struct {
	Hospitals []*models.Document
	Users     []*models.Document
	Babies    []*models.Document
	Events    []*models.Document
	// Related are documents of the same babies that the pass does not report
	// on: records of other hospitals, or outside the fetched window. They
	// complete baby-level facts and raise no issues.
	Related []*models.Document
}

// Options are caller-owned filters.
type Options struct {
	ExcludeDeletionRequested bool
}

// ResolvedEvent is an event joined to its live baby, hospital and nurse.
type ResolvedEvent struct {
	Event    models.Event
	Baby     *models.Baby
	Hospital *models.Hospital // the event's own hospital
	Nurse    *models.User     // nil when unassigned or unknown
	Flags    []models.Flag
}

func (r *ResolvedEvent) Header() *models.EventHeader { return r.Event.Header() }

// BabyRecord collects the one-per-baby documents and the derived lifecycle.
type BabyRecord struct {
	Baby      *models.Baby
	Hospital  *models.Hospital // nil when the baby's hospital is unknown
	Lifecycle models.LifecycleState

	Registration *models.Registration
	LabourRoom   *models.LabourRoomRecord
	Death        *models.Death
	Discharges   []*models.Discharge
	// FirstKMC is the earliest session or day summary with KMC minutes, at
	// any hospital. Nil when the baby never received KMC.
	FirstKMC models.Event
}

// LastDischarge returns the latest discharge date, zero when never discharged.
func (b *BabyRecord) LastDischarge() time.Time {
	var last time.Time
	for _, d := range b.Discharges {
		if d.Date.After(last) {
			last = d.Date
		}
	}
	return last
}

// Result is the output of one resolution pass.
type Result struct {
	Hospitals map[string]*models.Hospital
	Babies    map[string]*BabyRecord
	// Events holds every accepted event in snapshot order.
	Events []*ResolvedEvent
	// Related holds the accepted related documents. They are never bucketed.
	Related []*ResolvedEvent
	Issues  []models.Issue
}

// Resolver joins event documents to their references. It is a pure function
// of the snapshot it is given.
type Resolver struct {
	opts   Options
	logger *zap.Logger
}

func NewResolver(opts Options, logger *zap.Logger) *Resolver {
	return &Resolver{opts: opts, logger: logger}
}

// Resolve never fails; every rejected record becomes an Issue.
func (r *Resolver) Resolve(snap Snapshot) *Result {
	res := &Result{
		Hospitals: make(map[string]*models.Hospital, len(snap.Hospitals)),
		Babies:    make(map[string]*BabyRecord, len(snap.Babies)),
	}
	for _, d := range snap.Hospitals {
		h := models.DecodeHospital(d)
		res.Hospitals[h.ID] = h
	}
	users := make(map[string]*models.User, len(snap.Users))
	for _, d := range snap.Users {
		u := models.DecodeUser(d)
		users[u.ID] = u
	}

	for _, d := range snap.Babies {
		r.resolveBaby(res, d)
	}

	var accepted, related []*ResolvedEvent
	for _, d := range snap.Events {
		if ev := r.resolveEvent(res, users, d); ev != nil {
			accepted = append(accepted, ev)
		}
	}
	for _, d := range snap.Related {
		if ev := r.resolveRelated(res, d); ev != nil {
			related = append(related, ev)
		}
	}
	res.Events, res.Related = dedupe(res, accepted, related)
	elsewhere := attach(res)
	deriveLifecycles(res, elsewhere)

	sortIssues(res.Issues)
	r.logger.Debug("Resolved snapshot",
		zap.Int("babies", len(res.Babies)),
		zap.Int("events", len(res.Events)),
		zap.Int("issues", len(res.Issues)),
	)
	return res
}

func (r *Resolver) resolveBaby(res *Result, d *models.Document) {
	if r.opts.ExcludeDeletionRequested && d.Flag("deletionRequested") {
		return
	}
	b, err := models.DecodeBaby(d)
	if err != nil {
		res.Issues = append(res.Issues, docIssue(d, models.FlagMissingRequiredField, err.Error(), true))
		return
	}
	rec := &BabyRecord{Baby: b, Lifecycle: models.StateActive}
	if h, ok := res.Hospitals[b.HospitalID]; ok {
		rec.Hospital = h
		if drifted(b.HospitalName, h.Name) {
			res.Issues = append(res.Issues, babyIssue(b, models.FlagDenormalizationDrift,
				fmt.Sprintf("hospitalName %q, live %q", b.HospitalName, h.Name), false))
		}
	} else {
		// Still a join target for events; dropped from birth-cohort indicators.
		res.Issues = append(res.Issues, babyIssue(b, models.FlagOrphanedHospitalRef,
			fmt.Sprintf("hospital %s not found", b.HospitalID), true))
	}
	if b.BirthDate.IsZero() {
		res.Issues = append(res.Issues, babyIssue(b, models.FlagMissingBirthDate, "excluded from day-of-life indicators", false))
	}
	res.Babies[b.ID] = rec
}

func (r *Resolver) resolveEvent(res *Result, users map[string]*models.User, d *models.Document) *ResolvedEvent {
	if r.opts.ExcludeDeletionRequested && d.Flag("deletionRequested") {
		return nil
	}
	ev, err := models.DecodeEvent(d)
	if err != nil {
		detail := err.Error()
		if !errors.Is(err, models.ErrMissingField) {
			detail = "undecodable: " + detail
		}
		res.Issues = append(res.Issues, docIssue(d, models.FlagMissingRequiredField, detail, true))
		return nil
	}
	h := ev.Header()

	rec, ok := res.Babies[h.BabyID]
	if !ok {
		res.Issues = append(res.Issues, eventIssue(h, models.FlagOrphanedBabyRef,
			fmt.Sprintf("baby %s not found", h.BabyID), true))
		return nil
	}
	hosp, ok := res.Hospitals[h.HospitalID]
	if !ok {
		res.Issues = append(res.Issues, eventIssue(h, models.FlagOrphanedHospitalRef,
			fmt.Sprintf("hospital %s not found", h.HospitalID), true))
		return nil
	}

	out := &ResolvedEvent{Event: ev, Baby: rec.Baby, Hospital: hosp}
	if drifted(h.HospitalName, hosp.Name) {
		out.flag(res, models.FlagDenormalizationDrift, fmt.Sprintf("hospitalName %q, live %q", h.HospitalName, hosp.Name))
	}
	if h.NurseID != "" {
		if nurse, ok := users[h.NurseID]; ok {
			out.Nurse = nurse
			if drifted(h.NurseName, nurse.Name) {
				out.flag(res, models.FlagDenormalizationDrift, fmt.Sprintf("nurseName %q, live %q", h.NurseName, nurse.Name))
			}
		} else {
			out.flag(res, models.FlagOrphanedNurseRef, fmt.Sprintf("user %s not found", h.NurseID))
		}
	}
	for _, field := range h.Inconsistent {
		out.flag(res, models.FlagCodedOtherMismatch, field+": other text without the other tag, or the reverse")
	}
	if o, ok := ev.(*models.Observation); ok && o.StrayCompletedDate {
		out.flag(res, models.FlagCompletionMismatch, "completion date on an incomplete observation; treated as pending")
	}
	return out
}

// resolveRelated joins a related document quietly. Documents that would be
// rejected are dropped; the pass that owns them reports them.
func (r *Resolver) resolveRelated(res *Result, d *models.Document) *ResolvedEvent {
	if r.opts.ExcludeDeletionRequested && d.Flag("deletionRequested") {
		return nil
	}
	ev, err := models.DecodeEvent(d)
	if err != nil {
		return nil
	}
	h := ev.Header()
	rec, ok := res.Babies[h.BabyID]
	if !ok {
		return nil
	}
	hosp, ok := res.Hospitals[h.HospitalID]
	if !ok {
		hosp = &models.Hospital{ID: h.HospitalID}
	}
	return &ResolvedEvent{Event: ev, Baby: rec.Baby, Hospital: hosp}
}

// flag records a non-excluding issue on the event.
func (e *ResolvedEvent) flag(res *Result, f models.Flag, detail string) {
	e.Flags = append(e.Flags, f)
	res.Issues = append(res.Issues, eventIssue(e.Header(), f, detail, false))
}

// HasFlag reports whether f was raised for the event.
func (e *ResolvedEvent) HasFlag(f models.Flag) bool {
	for _, have := range e.Flags {
		if have == f {
			return true
		}
	}
	return false
}

// drifted compares a denormalized copy against the live value. An empty copy
// or an unknown live value carries no signal.
func drifted(hint, live string) bool {
	if hint == "" || live == "" {
		return false
	}
	return !strings.EqualFold(strings.TrimSpace(hint), strings.TrimSpace(live))
}

// duplicateKey returns the uniqueness key for one-per-key collections.
func duplicateKey(ev models.Event) (string, bool) {
	h := ev.Header()
	switch e := ev.(type) {
	case *models.Registration, *models.Death, *models.LabourRoomRecord:
		return h.Collection + "|" + h.BabyID, true
	case *models.DayOfLifeSummary:
		return fmt.Sprintf("%s|%s|%d", h.Collection, h.BabyID, e.DayNumber), true
	case *models.Discharge:
		return fmt.Sprintf("%s|%s|%d", h.Collection, h.BabyID, e.Number), true
	case *models.FollowUp:
		return fmt.Sprintf("%s|%s|%d", h.Collection, h.BabyID, e.Number), true
	case *models.Observation:
		if e.Number == 0 {
			return "", false
		}
		return fmt.Sprintf("%s|%s|%d", h.Collection, h.BabyID, e.Number), true
	}
	return "", false
}

// dedupe keeps the earliest record per key (ties broken by id) across own
// and related records, and flags the superseded own ones.
func dedupe(res *Result, own, related []*ResolvedEvent) ([]*ResolvedEvent, []*ResolvedEvent) {
	winners := make(map[string]*ResolvedEvent)
	for _, group := range [][]*ResolvedEvent{own, related} {
		for _, ev := range group {
			key, ok := duplicateKey(ev.Event)
			if !ok {
				continue
			}
			cur, seen := winners[key]
			if !seen || earlier(ev, cur) {
				winners[key] = ev
			}
		}
	}

	kept := make([]*ResolvedEvent, 0, len(own))
	for _, ev := range own {
		key, ok := duplicateKey(ev.Event)
		if ok && winners[key] != ev {
			w := winners[key].Header()
			res.Issues = append(res.Issues, eventIssue(ev.Header(), models.FlagDuplicateRecord,
				fmt.Sprintf("superseded by %s/%s", w.Collection, w.ID), true))
			continue
		}
		kept = append(kept, ev)
	}
	keptRelated := make([]*ResolvedEvent, 0, len(related))
	for _, ev := range related {
		if key, ok := duplicateKey(ev.Event); ok && winners[key] != ev {
			continue
		}
		keptRelated = append(keptRelated, ev)
	}
	return kept, keptRelated
}

func earlier(a, b *ResolvedEvent) bool {
	ta, tb := a.Event.EffectiveTime(), b.Event.EffectiveTime()
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.Header().ID < b.Header().ID
}

// attach fills the one-per-baby records from own and related events. It
// returns the deaths that were recorded elsewhere.
func attach(res *Result) map[*models.Death]bool {
	elsewhere := map[*models.Death]bool{}
	for i, group := range [][]*ResolvedEvent{res.Events, res.Related} {
		for _, ev := range group {
			rec := res.Babies[ev.Header().BabyID]
			switch e := ev.Event.(type) {
			case *models.Registration:
				rec.Registration = e
			case *models.LabourRoomRecord:
				rec.LabourRoom = e
			case *models.Death:
				rec.Death = e
				if i == 1 {
					elsewhere[e] = true
				}
			case *models.Discharge:
				rec.Discharges = append(rec.Discharges, e)
			}
			if showsKMC(ev.Event) && (rec.FirstKMC == nil || eventBefore(ev.Event, rec.FirstKMC)) {
				rec.FirstKMC = ev.Event
			}
		}
	}
	for _, rec := range res.Babies {
		sort.SliceStable(rec.Discharges, func(i, j int) bool {
			return eventBefore(rec.Discharges[i], rec.Discharges[j])
		})
	}
	return elsewhere
}

// showsKMC reports whether e records KMC minutes.
func showsKMC(e models.Event) bool {
	switch v := e.(type) {
	case *models.KmcSession:
		return v.Minutes() > 0
	case *models.DayOfLifeSummary:
		return v.KMCMinutes != nil && *v.KMCMinutes > 0
	}
	return false
}

func eventBefore(a, b models.Event) bool {
	ta, tb := a.EffectiveTime(), b.EffectiveTime()
	if !ta.Equal(tb) {
		return ta.Before(tb)
	}
	return a.Header().ID < b.Header().ID
}

func deriveLifecycles(res *Result, deathsElsewhere map[*models.Death]bool) {
	for _, rec := range res.Babies {
		var death time.Time
		if rec.Death != nil {
			death = rec.Death.Date
		}
		state, conflicts := models.DeriveLifecycle(rec.Baby, rec.LastDischarge(), death)
		rec.Lifecycle = state
		if len(conflicts) > 0 {
			res.Issues = append(res.Issues, babyIssue(rec.Baby, models.FlagLifecycleConflict,
				strings.Join(conflicts, "; "), false))
		}
		if rec.Death != nil && rec.Registration == nil && !deathsElsewhere[rec.Death] {
			res.Issues = append(res.Issues, eventIssue(rec.Death.Header(), models.FlagUnregisteredDeath,
				"counted in mortality only", false))
		}
	}
}

func docIssue(d *models.Document, f models.Flag, detail string, excluded bool) models.Issue {
	is := models.Issue{Collection: d.Collection, DocumentID: d.ID, Flag: f, Detail: detail, Excluded: excluded}
	if r, ok := d.RefTo("hospitalID", models.CollectionHospitals); ok {
		is.HospitalID = r.ID
	}
	if r, ok := d.RefTo("idBaby", models.CollectionBabies); ok {
		is.BabyID = r.ID
	}
	if d.Collection == models.CollectionBabies {
		is.BabyID = d.ID
	}
	return is
}

func babyIssue(b *models.Baby, f models.Flag, detail string, excluded bool) models.Issue {
	return models.Issue{
		Collection: models.CollectionBabies,
		DocumentID: b.ID,
		HospitalID: b.HospitalID,
		BabyID:     b.ID,
		Flag:       f,
		Detail:     detail,
		Excluded:   excluded,
	}
}

func eventIssue(h *models.EventHeader, f models.Flag, detail string, excluded bool) models.Issue {
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

// sortIssues gives issues a stable order independent of map iteration.
func sortIssues(issues []models.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		if a.DocumentID != b.DocumentID {
			return a.DocumentID < b.DocumentID
		}
		if a.Flag != b.Flag {
			return a.Flag < b.Flag
		}
		return a.Detail < b.Detail
	})
}
