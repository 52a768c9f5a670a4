package analytics

import (
	"sort"
	"time"

	"github.com/platinummonkey/bioviews/pkg/views"
)

// DayFormat is the layout of day bucket keys.
const DayFormat = "2006-01-02"

// DayCount is one day's total.
type DayCount struct {
	Day   string `json:"day"`
	Count int    `json:"count"`
}

// GroupByDay counts views per calendar day of CreatedAt in loc. A nil loc means UTC.
// The result does not depend on the order of views.
func GroupByDay(vs []views.ProfileView, loc *time.Location) map[string]int {
	if loc == nil {
		loc = time.UTC
	}
	days := make(map[string]int)
	for _, v := range vs {
		days[v.CreatedAt.In(loc).Format(DayFormat)]++
	}
	return days
}

// SortedDays orders day buckets newest first.
func SortedDays(days map[string]int) []DayCount {
	out := make([]DayCount, 0, len(days))
	for day, n := range days {
		out = append(out, DayCount{Day: day, Count: n})
	}
	// DayFormat sorts lexically in date order
	sort.Slice(out, func(i, j int) bool { return out[i].Day > out[j].Day })
	return out
}
