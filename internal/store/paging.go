package store

import (
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// WireTimeFormat is the ISO-8601 form the list endpoint expects for date
// filters.
const WireTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// PredicateAll clears the active filter.
const PredicateAll = "all"

// Paging holds the page cursor and the single active list filter.
// It is not safe for concurrent use; Store guards it.
type Paging struct {
	pageSize      int
	page          int
	activityCount int

	filterKey   string
	filterValue any
}

func NewPaging(pageSize int) *Paging {
	return &Paging{pageSize: pageSize}
}

// SetPredicate replaces the active filter and rewinds to page 0.
// name == PredicateAll leaves no filter.
func (p *Paging) SetPredicate(name string, value any) {
	p.filterKey = ""
	p.filterValue = nil
	if name != PredicateAll && name != "" {
		p.filterKey = name
		p.filterValue = value
	}
	p.page = 0
}

// Predicate returns the active filter, if any.
func (p *Paging) Predicate() (string, any, bool) {
	if p.filterKey == "" {
		return "", nil, false
	}
	return p.filterKey, p.filterValue, true
}

// SetPage moves the cursor without bounds checking; a page past the end just
// loads empty.
func (p *Paging) SetPage(n int) { p.page = n }

func (p *Paging) Page() int { return p.page }

func (p *Paging) PageSize() int { return p.pageSize }

func (p *Paging) SetActivityCount(n int) { p.activityCount = n }

func (p *Paging) ActivityCount() int { return p.activityCount }

// TotalPages is ceil(activityCount / pageSize).
func (p *Paging) TotalPages() int {
	if p.pageSize <= 0 || p.activityCount <= 0 {
		return 0
	}
	return (p.activityCount + p.pageSize - 1) / p.pageSize
}

// Query builds the list request parameters.
func (p *Paging) Query() url.Values {
	q := url.Values{}
	q.Set("limit", strconv.Itoa(p.pageSize))
	q.Set("offset", strconv.Itoa(p.page*p.pageSize))
	if p.filterKey != "" {
		q.Set(p.filterKey, FormatValue(p.filterValue))
	}
	return q
}

// FormatValue renders a filter value for the query string. Times go out as
// UTC ISO-8601 with milliseconds.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case time.Time:
		return x.UTC().Format(WireTimeFormat)
	case *time.Time:
		if x == nil {
			return ""
		}
		return x.UTC().Format(WireTimeFormat)
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}
