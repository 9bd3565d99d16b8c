package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"kmc-indicators/internal/models"
)

// ErrNotFound is returned by Lookup when the referenced document does not exist.
var ErrNotFound = errors.New("document not found")

// TimeRange is the half-open interval [From, To). A zero bound is open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside r.
func (r TimeRange) Contains(t time.Time) bool {
	if !r.From.IsZero() && t.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && !t.Before(r.To) {
		return false
	}
	return true
}

// IsZero reports whether both bounds are open.
func (r TimeRange) IsZero() bool {
	return r.From.IsZero() && r.To.IsZero()
}

// Store is read-only access to the record collections. Documents returned by
// one Fetch reflect a single consistent read; nothing is promised across calls.
type Store interface {
	// Fetch returns the documents of collection belonging to any hospital in
	// scope (all hospitals when scope is empty) whose time field lies in tr,
	// ordered by effective timestamp then id. Collections without a time
	// field ignore tr.
	Fetch(ctx context.Context, collection string, scope []string, tr TimeRange) ([]*models.Document, error)
	// FetchByBaby returns the documents of collection referencing any of
	// babyIDs, at any hospital and time, in Fetch order.
	FetchByBaby(ctx context.Context, collection string, babyIDs []string) ([]*models.Document, error)
	// Lookup returns a single document or ErrNotFound.
	Lookup(ctx context.Context, ref models.Ref) (*models.Document, error)
}

// HospitalOf returns the hospital a document is scoped to.
func HospitalOf(d *models.Document) string {
	if d.Collection == models.CollectionHospitals {
		return d.ID
	}
	if r, ok := d.RefTo("hospitalID", models.CollectionHospitals); ok {
		return r.ID
	}
	return ""
}

// BabyOf returns the baby a document references, or "".
func BabyOf(d *models.Document) string {
	if r, ok := d.RefTo("idBaby", models.CollectionBabies); ok {
		return r.ID
	}
	return ""
}

// OfBabies keeps the documents referencing one of babyIDs.
func OfBabies(docs []*models.Document, babyIDs []string) []*models.Document {
	want := make(map[string]bool, len(babyIDs))
	for _, id := range babyIDs {
		want[id] = true
	}
	var out []*models.Document
	for _, d := range docs {
		if want[BabyOf(d)] {
			out = append(out, d)
		}
	}
	return out
}

// Matches applies the scope and time-range filters shared by every adapter
// that filters client-side. Documents without a parsable time field are kept
// so that the resolver can report them.
func Matches(d *models.Document, scope []string, tr TimeRange) bool {
	if len(scope) > 0 {
		h := HospitalOf(d)
		found := false
		for _, s := range scope {
			if s == h {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	field := models.TimeField(d.Collection)
	if field == "" || tr.IsZero() {
		return true
	}
	t, ok := d.Time(field)
	if !ok {
		return true
	}
	return tr.Contains(t)
}

// SortDocuments orders docs by their collection's order field then id.
// Documents lacking the field sort last.
func SortDocuments(docs []*models.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		ti, oki := orderTime(docs[i])
		tj, okj := orderTime(docs[j])
		switch {
		case oki && okj && !ti.Equal(tj):
			return ti.Before(tj)
		case oki != okj:
			return oki
		}
		return docs[i].ID < docs[j].ID
	})
}

func orderTime(d *models.Document) (time.Time, bool) {
	field := models.OrderField(d.Collection)
	if field == "" {
		return time.Time{}, false
	}
	return d.Time(field)
}
