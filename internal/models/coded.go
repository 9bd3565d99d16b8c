package models

import (
	"sort"
	"strings"
)

// OtherCode is the multi-select tag that enables the free-text payload.
const OtherCode = "other"

// CodedSet is a multi-select answer: a set of enumerated codes plus free text
// that exists only when the set contains OtherCode.
type CodedSet struct {
	Codes []string `json:"codes,omitempty"`
	Other string   `json:"other,omitempty"`
}

// NewCodedSet normalizes codes (trimmed, lower-case, sorted, unique) and
// enforces the other-text rule. consistent is false when the raw input had
// text without the tag or the tag without text; the returned set is repaired
// by dropping orphan text.
func NewCodedSet(codes []string, otherText string) (set CodedSet, consistent bool) {
	seen := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = strings.ToLower(strings.TrimSpace(c))
		if c == "" || c == "none" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		set.Codes = append(set.Codes, c)
	}
	sort.Strings(set.Codes)

	text := strings.TrimSpace(otherText)
	_, tagged := seen[OtherCode]
	consistent = tagged == (text != "")
	if tagged {
		set.Other = text
	}
	return set, consistent
}

// Has reports whether code is in the set.
func (c CodedSet) Has(code string) bool {
	code = strings.ToLower(code)
	i := sort.SearchStrings(c.Codes, code)
	return i < len(c.Codes) && c.Codes[i] == code
}

// IsEmpty reports whether no code is selected.
func (c CodedSet) IsEmpty() bool {
	return len(c.Codes) == 0
}

func decodeCodedSet(d *Document, codesField, otherField string) (CodedSet, bool) {
	return NewCodedSet(d.StrList(codesField), d.StrOr(otherField, ""))
}
