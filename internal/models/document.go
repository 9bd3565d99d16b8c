package models

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// ValueKind tags the primitive carried by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindRef
	KindTime
)

// Ref points at a document in another collection.
type Ref struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

func (r Ref) String() string {
	return r.Collection + "/" + r.ID
}

// IsZero reports whether the reference is unset.
func (r Ref) IsZero() bool {
	return r.ID == ""
}

// ParseRef accepts "collection/id" or a full document path such as
// "projects/p/databases/(default)/documents/babies/abc" and keeps the last
// two segments.
func ParseRef(path string) (Ref, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 || parts[len(parts)-1] == "" || parts[len(parts)-2] == "" {
		return Ref{}, false
	}
	return Ref{Collection: parts[len(parts)-2], ID: parts[len(parts)-1]}, true
}

// Value is one field of a store document.
type Value struct {
	Kind ValueKind
	Str  string
	Num  float64
	Bool bool
	Arr  []Value
	Ref  Ref
	Time time.Time
}

func String(s string) Value           { return Value{Kind: KindString, Str: s} }
func Number(n float64) Value          { return Value{Kind: KindNumber, Num: n} }
func Bool(b bool) Value               { return Value{Kind: KindBool, Bool: b} }
func Array(vs ...Value) Value         { return Value{Kind: KindArray, Arr: vs} }
func Timestamp(t time.Time) Value     { return Value{Kind: KindTime, Time: t.UTC()} }
func Reference(coll, id string) Value { return Value{Kind: KindRef, Ref: Ref{Collection: coll, ID: id}} }

// Strings builds an array of string values.
func Strings(ss ...string) Value {
	vs := make([]Value, 0, len(ss))
	for _, s := range ss {
		vs = append(vs, String(s))
	}
	return Array(vs...)
}

// VersionKey identifies one observed version of a document.
type VersionKey struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
	Version    int64  `json:"version"`
}

// Document is a flat field map as returned by the record store.
type Document struct {
	Collection string
	ID         string
	Version    int64
	Fields     map[string]Value
}

// NewDocument returns a document with an empty field map.
func NewDocument(collection, id string, version int64) *Document {
	return &Document{Collection: collection, ID: id, Version: version, Fields: map[string]Value{}}
}

// Set assigns a field and returns d for chaining.
func (d *Document) Set(field string, v Value) *Document {
	if d.Fields == nil {
		d.Fields = map[string]Value{}
	}
	d.Fields[field] = v
	return d
}

func (d *Document) Key() VersionKey {
	return VersionKey{Collection: d.Collection, ID: d.ID, Version: d.Version}
}

func (d *Document) Ref() Ref {
	return Ref{Collection: d.Collection, ID: d.ID}
}

func (d *Document) get(field string) (Value, bool) {
	v, ok := d.Fields[field]
	if !ok || v.Kind == KindNull {
		return Value{}, false
	}
	return v, true
}

// Has reports whether field is present and non-null.
func (d *Document) Has(field string) bool {
	_, ok := d.get(field)
	return ok
}

// Str returns a trimmed string field. Empty strings count as absent.
func (d *Document) Str(field string) (string, bool) {
	v, ok := d.get(field)
	if !ok {
		return "", false
	}
	switch v.Kind {
	case KindString:
		s := strings.TrimSpace(v.Str)
		return s, s != ""
	case KindNumber:
		return strconv.FormatFloat(v.Num, 'f', -1, 64), true
	}
	return "", false
}

// StrOr returns the string field or def.
func (d *Document) StrOr(field, def string) string {
	if s, ok := d.Str(field); ok {
		return s
	}
	return def
}

// Num returns a numeric field; numeric strings are accepted since the
// upstream forms store weights and ages as text.
func (d *Document) Num(field string) (float64, bool) {
	v, ok := d.get(field)
	if !ok {
		return 0, false
	}
	switch v.Kind {
	case KindNumber:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return 0, false
		}
		return v.Num, true
	case KindString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.Str), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

// Flag returns true only for a boolean true value.
func (d *Document) Flag(field string) bool {
	v, ok := d.get(field)
	return ok && v.Kind == KindBool && v.Bool
}

// RefTo returns a reference field. A bare string id is read as a reference
// into collection.
func (d *Document) RefTo(field, collection string) (Ref, bool) {
	v, ok := d.get(field)
	if !ok {
		return Ref{}, false
	}
	switch v.Kind {
	case KindRef:
		if v.Ref.ID == "" {
			return Ref{}, false
		}
		return v.Ref, true
	case KindString:
		s := strings.TrimSpace(v.Str)
		if s == "" {
			return Ref{}, false
		}
		if r, ok := ParseRef(s); ok && strings.Contains(s, "/") {
			return r, true
		}
		return Ref{Collection: collection, ID: s}, true
	}
	return Ref{}, false
}

// Time returns a timestamp field. Numbers are unix seconds, or milliseconds
// when larger than 1e12.
func (d *Document) Time(field string) (time.Time, bool) {
	v, ok := d.get(field)
	if !ok {
		return time.Time{}, false
	}
	switch v.Kind {
	case KindTime:
		if v.Time.IsZero() {
			return time.Time{}, false
		}
		return v.Time, true
	case KindNumber:
		if v.Num <= 0 {
			return time.Time{}, false
		}
		if v.Num > 1e12 {
			ms := int64(v.Num)
			return time.UnixMilli(ms).UTC(), true
		}
		sec, frac := math.Modf(v.Num)
		return time.Unix(int64(sec), int64(frac*1e9)).UTC(), true
	case KindString:
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(v.Str))
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}
	return time.Time{}, false
}

// StrList returns the string members of an array field. A single string is
// returned as a one-element list.
func (d *Document) StrList(field string) []string {
	v, ok := d.get(field)
	if !ok {
		return nil
	}
	switch v.Kind {
	case KindString:
		if s := strings.TrimSpace(v.Str); s != "" {
			return []string{s}
		}
	case KindArray:
		out := make([]string, 0, len(v.Arr))
		for _, item := range v.Arr {
			if item.Kind == KindString && strings.TrimSpace(item.Str) != "" {
				out = append(out, strings.TrimSpace(item.Str))
			}
		}
		return out
	}
	return nil
}

// Clone returns a copy whose field map can be modified independently.
func (d *Document) Clone() *Document {
	c := &Document{Collection: d.Collection, ID: d.ID, Version: d.Version, Fields: make(map[string]Value, len(d.Fields))}
	for k, v := range d.Fields {
		c.Fields[k] = v
	}
	return c
}
