package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrMissingField marks a document that lacks a field it cannot be used without.
var ErrMissingField = errors.New("missing required field")

func missing(field string) error {
	return fmt.Errorf("%w: %s", ErrMissingField, field)
}

// Hospital is a facility of the program.
type Hospital struct {
	ID        string
	Name      string
	ProgramID string
	// UTCOffsetMinutes is nil when the hospital document does not carry one.
	UTCOffsetMinutes *int
	Version          int64
}

func DecodeHospital(d *Document) *Hospital {
	h := &Hospital{
		ID:        d.ID,
		Name:      d.StrOr("hospitalName", d.StrOr("name", "")),
		ProgramID: d.StrOr("programID", ""),
		Version:   d.Version,
	}
	if n, ok := d.Num("utcOffsetMinutes"); ok {
		off := int(n)
		h.UTCOffsetMinutes = &off
	}
	return h
}

// User is a nurse or admin account.
type User struct {
	ID         string
	Name       string
	Role       string
	HospitalID string
	Version    int64
}

func DecodeUser(d *Document) *User {
	u := &User{
		ID:      d.ID,
		Name:    d.StrOr("name", d.StrOr("userName", "")),
		Role:    d.StrOr("role", ""),
		Version: d.Version,
	}
	if r, ok := d.RefTo("hospitalID", CollectionHospitals); ok {
		u.HospitalID = r.ID
	}
	return u
}

// BirthType classifies place of delivery.
type BirthType string

const (
	BirthInborn  BirthType = "inborn"
	BirthOutborn BirthType = "outborn"
	BirthUnknown BirthType = "unknown"
)

// Baby is the central lifecycle entity.
type Baby struct {
	ID                string
	HospitalID        string
	HospitalName      string
	MotherName        string
	BirthDate         time.Time // zero when unknown
	InProgram         bool
	Discharged        bool
	Deceased          bool
	ReceivingKMC      bool
	Location          string
	NurseID           string
	BirthWeightGrams  *float64
	GestationalWeeks  *float64
	PlaceOfDelivery   string
	DeletionRequested bool
	Version           int64
}

// DecodeBaby requires only the hospital reference; birth date is optional and
// its absence is flagged later.
func DecodeBaby(d *Document) (*Baby, error) {
	hosp, ok := d.RefTo("hospitalID", CollectionHospitals)
	if !ok {
		return nil, missing("hospitalID")
	}
	b := &Baby{
		ID:                d.ID,
		HospitalID:        hosp.ID,
		HospitalName:      d.StrOr("hospitalName", ""),
		MotherName:        d.StrOr("motherName", ""),
		InProgram:         d.Flag("babyInProgram"),
		Discharged:        d.Flag("discharged"),
		Deceased:          d.Flag("deadBaby"),
		ReceivingKMC:      d.Flag("receivingKMC"),
		Location:          d.StrOr("lastLocationBaby", ""),
		PlaceOfDelivery:   d.StrOr("placeOfDelivery", ""),
		DeletionRequested: d.Flag("deletionRequested"),
		Version:           d.Version,
	}
	b.BirthDate, _ = d.Time("birthDate")
	if n, ok := d.RefTo("nurseID", CollectionUsers); ok {
		b.NurseID = n.ID
	}
	if w, ok := d.Num("birthWeight"); ok {
		b.BirthWeightGrams = &w
	}
	if g, ok := d.Num("gestationalAge"); ok {
		b.GestationalWeeks = &g
	}
	return b, nil
}

// BirthType reports inborn when the baby was delivered at the reporting
// hospital itself.
func (b *Baby) BirthType() BirthType {
	switch strings.ToLower(strings.TrimSpace(b.PlaceOfDelivery)) {
	case "":
		return BirthUnknown
	case "this hospital", "यह अस्पताल", "inborn":
		return BirthInborn
	}
	return BirthOutborn
}

// EventHeader holds the reference and denormalized fields every event carries.
type EventHeader struct {
	Collection        string
	ID                string
	Version           int64
	BabyID            string
	HospitalID        string
	HospitalName      string // denormalized hint
	NurseID           string
	NurseName         string // denormalized hint
	DeletionRequested bool
	// Inconsistent lists coded fields whose "other" text did not match the tag.
	Inconsistent []string
}

func (h *EventHeader) Header() *EventHeader { return h }

func decodeHeader(d *Document) (EventHeader, error) {
	h := EventHeader{
		Collection:        d.Collection,
		ID:                d.ID,
		Version:           d.Version,
		HospitalName:      d.StrOr("hospitalName", ""),
		NurseName:         d.StrOr("nurseName", ""),
		DeletionRequested: d.Flag("deletionRequested"),
	}
	baby, ok := d.RefTo("idBaby", CollectionBabies)
	if !ok {
		return h, missing("idBaby")
	}
	hosp, ok := d.RefTo("hospitalID", CollectionHospitals)
	if !ok {
		return h, missing("hospitalID")
	}
	h.BabyID, h.HospitalID = baby.ID, hosp.ID
	if n, ok := d.RefTo("nurseID", CollectionUsers); ok {
		h.NurseID = n.ID
	}
	return h, nil
}

func (h *EventHeader) coded(d *Document, field, otherField string) CodedSet {
	set, ok := decodeCodedSet(d, field, otherField)
	if !ok {
		h.Inconsistent = append(h.Inconsistent, field)
	}
	return set
}

// Event is any baby-referencing document.
type Event interface {
	Header() *EventHeader
	// EffectiveTime is the instant the event is bucketed by.
	EffectiveTime() time.Time
}

type LabourRoomRecord struct {
	EventHeader
	IdentifiedDate time.Time
}

func (e *LabourRoomRecord) EffectiveTime() time.Time { return e.IdentifiedDate }

type Registration struct {
	EventHeader
	RegistrationDate time.Time
}

func (e *Registration) EffectiveTime() time.Time { return e.RegistrationDate }

type DayOfLifeSummary struct {
	EventHeader
	DayNumber    int
	Date         time.Time
	KMCMinutes   *float64
	FeedingCount *float64
	WeightGrams  *float64
}

func (e *DayOfLifeSummary) EffectiveTime() time.Time { return e.Date }

type Observation struct {
	EventHeader
	Number        int
	DueDate       time.Time
	CompletedDate time.Time
	Completed     bool
	TemperatureC  *float64
	DangerSigns   CodedSet
	// StrayCompletedDate is set when a completion date accompanies
	// completed=false. The date is not used.
	StrayCompletedDate bool
}

func (e *Observation) EffectiveTime() time.Time {
	if e.Completed {
		return e.CompletedDate
	}
	return e.DueDate
}

// Session is a KMC or feeding interval; End is zero while open.
type Session struct {
	EventHeader
	Start time.Time
	End   time.Time
}

func (e *Session) EffectiveTime() time.Time { return e.Start }

// Open reports whether the session has not ended yet.
func (e *Session) Open() bool { return e.End.IsZero() }

// Minutes returns the derived duration; meaningful only for closed sessions.
func (e *Session) Minutes() float64 {
	if e.Open() {
		return 0
	}
	return e.End.Sub(e.Start).Minutes()
}

type KmcSession struct {
	Session
	Provider string
}

// FeedMode enumerates feeding kinds.
type FeedMode string

const (
	FeedExclusiveBreast FeedMode = "exclusive_breastfeeding"
	FeedExpressedMilk   FeedMode = "expressed_breast_milk"
	FeedFormula         FeedMode = "formula"
	FeedMixed           FeedMode = "mixed"
	FeedUnknown         FeedMode = "unknown"
)

// ParseFeedMode maps free-form upstream values onto FeedMode.
func ParseFeedMode(s string) FeedMode {
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case s == "":
		return FeedUnknown
	case strings.Contains(s, "mixed"):
		return FeedMixed
	case strings.Contains(s, "formula"):
		return FeedFormula
	case strings.Contains(s, "express"):
		return FeedExpressedMilk
	case strings.Contains(s, "breast"):
		return FeedExclusiveBreast
	}
	return FeedUnknown
}

type FeedingSession struct {
	Session
	Mode FeedMode
}

type StatusUpdate struct {
	EventHeader
	Date        time.Time
	DangerSigns CodedSet
}

func (e *StatusUpdate) EffectiveTime() time.Time { return e.Date }

type Discharge struct {
	EventHeader
	Number      int
	Date        time.Time
	Reason      string
	Status      string
	Type        string
	Destination string
	DangerSigns CodedSet
}

func (e *Discharge) EffectiveTime() time.Time { return e.Date }

type FollowUp struct {
	EventHeader
	Number        int
	DueDate       time.Time
	CompletedDate time.Time
	Status        string
	Unreachable   bool
}

func (e *FollowUp) EffectiveTime() time.Time { return e.DueDate }

// IsCompleted treats "completed" and "contacted" as done, matching how the
// field teams record successful calls.
func (e *FollowUp) IsCompleted() bool {
	switch strings.ToLower(e.Status) {
	case "completed", "contacted":
		return true
	}
	return false
}

type Death struct {
	EventHeader
	Date     time.Time
	Location string
	Cause    string
}

func (e *Death) EffectiveTime() time.Time { return e.Date }

func requireTime(d *Document, field string) (time.Time, error) {
	t, ok := d.Time(field)
	if !ok {
		return time.Time{}, missing(field)
	}
	return t, nil
}

func optNum(d *Document, field string) *float64 {
	if n, ok := d.Num(field); ok {
		return &n
	}
	return nil
}

// DecodeEvent converts an event-collection document into its typed form.
func DecodeEvent(d *Document) (Event, error) {
	h, err := decodeHeader(d)
	if err != nil {
		return nil, err
	}
	switch d.Collection {
	case CollectionLabourRoom:
		t, err := requireTime(d, "identifiedDate")
		if err != nil {
			return nil, err
		}
		return &LabourRoomRecord{EventHeader: h, IdentifiedDate: t}, nil

	case CollectionRegistrations:
		t, err := requireTime(d, "registrationDate")
		if err != nil {
			return nil, err
		}
		return &Registration{EventHeader: h, RegistrationDate: t}, nil

	case CollectionDayOfLife:
		n, ok := d.Num("ageDayNumber")
		if !ok {
			return nil, missing("ageDayNumber")
		}
		t, err := requireTime(d, "ageDayDate")
		if err != nil {
			return nil, err
		}
		return &DayOfLifeSummary{
			EventHeader:  h,
			DayNumber:    int(n),
			Date:         t,
			KMCMinutes:   optNum(d, "totalKMCToday"),
			FeedingCount: optNum(d, "totalFeedingToday"),
			WeightGrams:  optNum(d, "weight"),
		}, nil

	case CollectionObservations:
		o := &Observation{EventHeader: h, Completed: d.Flag("completed"), TemperatureC: optNum(d, "temperature")}
		if n, ok := d.Num("observationNumber"); ok {
			o.Number = int(n)
		}
		o.DueDate, _ = d.Time("observationDueDate")
		if o.Completed {
			t, err := requireTime(d, "observationCompletedDate")
			if err != nil {
				return nil, err
			}
			o.CompletedDate = t
		} else {
			if o.DueDate.IsZero() {
				return nil, missing("observationDueDate")
			}
			_, o.StrayCompletedDate = d.Time("observationCompletedDate")
		}
		o.DangerSigns = o.coded(d, "dangerSigns", "dangerSignsOther")
		return o, nil

	case CollectionKmcSessions:
		s, err := decodeSession(h, d, "kmcStart", "kmcEnd")
		if err != nil {
			return nil, err
		}
		return &KmcSession{Session: s, Provider: d.StrOr("kmcProvider", "")}, nil

	case CollectionFeedingSessions:
		s, err := decodeSession(h, d, "feedingStart", "feedingEnd")
		if err != nil {
			return nil, err
		}
		return &FeedingSession{Session: s, Mode: ParseFeedMode(d.StrOr("feedMode", ""))}, nil

	case CollectionStatusUpdates:
		t, err := requireTime(d, "statusUpdateDate")
		if err != nil {
			return nil, err
		}
		u := &StatusUpdate{EventHeader: h, Date: t}
		u.DangerSigns = u.coded(d, "dangerSigns", "dangerSignsOther")
		return u, nil

	case CollectionDischarges:
		t, err := requireTime(d, "dischargeDate")
		if err != nil {
			return nil, err
		}
		dc := &Discharge{
			EventHeader: h,
			Number:      1,
			Date:        t,
			Reason:      d.StrOr("dischargeReason", ""),
			Status:      d.StrOr("dischargeStatus", ""),
			Type:        d.StrOr("dischargeType", ""),
			Destination: d.StrOr("dischargeDestination", ""),
		}
		if n, ok := d.Num("dischargeNumber"); ok && n >= 1 {
			dc.Number = int(n)
		}
		dc.DangerSigns = dc.coded(d, "dischargeDangerSigns", "dischargeDangerSignsOther")
		return dc, nil

	case CollectionFollowUps:
		t, err := requireTime(d, "followUpDueDate")
		if err != nil {
			return nil, err
		}
		f := &FollowUp{
			EventHeader: h,
			Number:      1,
			DueDate:     t,
			Status:      strings.ToLower(d.StrOr("followUpStatus", "pending")),
			Unreachable: d.Flag("unreachable"),
		}
		if n, ok := d.Num("followUpNumber"); ok && n >= 1 {
			f.Number = int(n)
		}
		f.CompletedDate, _ = d.Time("followUpCompletedDate")
		return f, nil

	case CollectionDeaths:
		t, err := requireTime(d, "deathDate")
		if err != nil {
			return nil, err
		}
		return &Death{
			EventHeader: h,
			Date:        t,
			Location:    d.StrOr("deathLocation", ""),
			Cause:       d.StrOr("causeOfDeath", ""),
		}, nil
	}
	return nil, fmt.Errorf("unknown event collection %q", d.Collection)
}

func decodeSession(h EventHeader, d *Document, startField, endField string) (Session, error) {
	start, err := requireTime(d, startField)
	if err != nil {
		return Session{}, err
	}
	s := Session{EventHeader: h, Start: start}
	s.End, _ = d.Time(endField)
	return s, nil
}
