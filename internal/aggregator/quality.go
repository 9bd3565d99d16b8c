package aggregator

import (
	"sort"

	"kmc-indicators/internal/models"
)

// DataQuality counts flagged records.
type DataQuality struct {
	Counts   map[models.Flag]int `json:"counts"`
	Excluded int                 `json:"excluded_records"`
	Total    int                 `json:"total_issues"`
}

// Summarize counts issues per flag. Every known flag is present, zero or not.
func Summarize(issues []models.Issue) DataQuality {
	dq := DataQuality{Counts: make(map[models.Flag]int, len(models.AllFlags))}
	for _, f := range models.AllFlags {
		dq.Counts[f] = 0
	}
	excluded := map[string]bool{}
	for _, is := range issues {
		dq.Counts[is.Flag]++
		dq.Total++
		if is.Excluded {
			excluded[is.Collection+"/"+is.DocumentID] = true
		}
	}
	dq.Excluded = len(excluded)
	return dq
}

// mergeIssues drops repeats of the same (collection, document, flag, detail),
// which happen when a baby is looked up by several hospital passes, and
// returns them in a stable order.
func mergeIssues(groups ...[]models.Issue) []models.Issue {
	type key struct {
		coll, doc, detail string
		flag              models.Flag
	}
	seen := map[key]bool{}
	out := []models.Issue{}
	for _, g := range groups {
		for _, is := range g {
			k := key{is.Collection, is.DocumentID, is.Detail, is.Flag}
			if seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, is)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.HospitalID != b.HospitalID {
			return a.HospitalID < b.HospitalID
		}
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
	return out
}
