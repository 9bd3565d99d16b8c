package aggregator

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"kmc-indicators/internal/indicators"
	"kmc-indicators/internal/models"
	"kmc-indicators/internal/resolver"
)

// Fingerprint digests every (collection, id, version) a week's indicators
// read, together with the settings and the part of the as-of time that can
// still change the result. Equal fingerprints mean equal indicators.
func Fingerprint(in *indicators.WeekInput, hospital *models.Hospital, settingsHash string) string {
	var lines []string
	add := func(format string, args ...interface{}) {
		lines = append(lines, fmt.Sprintf(format, args...))
	}
	event := func(h *models.EventHeader) {
		add("e|%s|%s|%d", h.Collection, h.ID, h.Version)
	}

	add("h|%s|%d", hospital.ID, hospital.Version)
	add("s|%s", settingsHash)
	add("w|%s|%d|%d", in.Week, in.Start.UnixNano(), in.End.UnixNano())

	asOf := in.AsOf
	if asOf.After(in.End) {
		asOf = in.End
	}
	add("a|%d", asOf.UnixNano())

	for _, ev := range in.Events {
		event(ev.Header())
		if ev.Nurse != nil {
			add("n|%s|%d", ev.Nurse.ID, ev.Nurse.Version)
		}
	}
	for _, db := range in.Days {
		add("d|%s|%d", db.Key.BabyID, db.Key.Day)
		for _, ev := range db.Events {
			event(ev.Header())
		}
	}
	for _, ev := range in.FirstSessions {
		add("f|%s", ev.Header().ID)
		event(ev.Header())
	}
	for _, rec := range in.Births {
		add("c|%s", rec.Baby.ID)
	}
	for _, e := range in.Exposures {
		s, t := clip(e.Start, in.Start, in.End), clip(e.End, in.Start, asOf)
		add("x|%s|%s|%s|%d|%d", e.BabyID, e.HospitalID, e.BirthType, s.UnixNano(), t.UnixNano())
	}
	for _, id := range sortedBabyIDs(in.Babies) {
		babyLines(in.Babies[id], add, event)
	}

	sort.Strings(lines)
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

func babyLines(rec *resolver.BabyRecord, add func(string, ...interface{}), event func(*models.EventHeader)) {
	add("b|%s|%d|%s", rec.Baby.ID, rec.Baby.Version, rec.Lifecycle)
	if rec.Registration != nil {
		event(rec.Registration.Header())
	}
	if rec.LabourRoom != nil {
		event(rec.LabourRoom.Header())
	}
	if rec.Death != nil {
		event(rec.Death.Header())
	}
	for _, d := range rec.Discharges {
		event(d.Header())
	}
	if rec.FirstKMC != nil {
		h := rec.FirstKMC.Header()
		add("k|%s|%s|%s|%d", rec.Baby.ID, h.Collection, h.ID, h.Version)
	}
}

func clip(t, lo, hi time.Time) time.Time {
	if t.Before(lo) {
		return lo
	}
	if t.After(hi) {
		return hi
	}
	return t
}

func sortedBabyIDs(m map[string]*resolver.BabyRecord) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
