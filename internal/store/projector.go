package store

import (
	"slices"
	"strings"

	"github.com/baechuer/activity-sync/internal/domain"
)

const dateKeyFormat = "2006-01-02"

// DateGroup is one calendar day of the activity list.
type DateGroup struct {
	Date       string            `json:"date"`
	Activities []domain.Activity `json:"activities"`
}

// GroupByDate sorts acts by instant and buckets them by UTC calendar date.
// Groups and their members come out ascending; ties on the instant are
// ordered by id so the output does not depend on input order. acts is not
// modified.
func GroupByDate(acts []domain.Activity) []DateGroup {
	sorted := slices.Clone(acts)
	slices.SortStableFunc(sorted, func(a, b domain.Activity) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})

	groups := make([]DateGroup, 0)
	for _, a := range sorted {
		key := a.Date.UTC().Format(dateKeyFormat)
		if n := len(groups); n == 0 || groups[n-1].Date != key {
			groups = append(groups, DateGroup{Date: key})
		}
		last := &groups[len(groups)-1]
		last.Activities = append(last.Activities, a)
	}
	return groups
}
