package task

import (
	"fmt"
	"strings"

	xerrors "a2a-agent/internal/errors"
)

const (
	// DefaultPage is used when the caller does not ask for a page.
	DefaultPage = 1
	// DefaultLimit is used when the caller does not ask for a page size.
	DefaultLimit = 20
	// MaxLimit bounds the page size. Larger values are rejected, not clamped.
	MaxLimit = 100
)

// ListQuery controls how tasks are selected when listing.
type ListQuery struct {
	Page   int
	Limit  int
	Status Status
	Skill  string
}

// Pagination describes where a page sits in the full result set.
type Pagination struct {
	Page            int  `json:"page"`
	Limit           int  `json:"limit"`
	TotalTasks      int  `json:"totalTasks"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

// ListOption mutates ListQuery.
type ListOption func(*ListQuery)

// WithPage selects the 1-based page to return.
func WithPage(page int) ListOption {
	return func(q *ListQuery) {
		q.Page = page
	}
}

// WithLimit sets the page size.
func WithLimit(limit int) ListOption {
	return func(q *ListQuery) {
		q.Limit = limit
	}
}

// WithStatus keeps only tasks in the given status.
func WithStatus(status Status) ListOption {
	return func(q *ListQuery) {
		q.Status = status
	}
}

// WithSkill keeps only tasks routed to the given skill.
func WithSkill(skill string) ListOption {
	return func(q *ListQuery) {
		q.Skill = skill
	}
}

// BuildListQuery applies option functions on top of the defaults and
// validates the outcome.
func BuildListQuery(opts ...ListOption) (ListQuery, error) {
	query := ListQuery{Page: DefaultPage, Limit: DefaultLimit}
	for _, opt := range opts {
		if opt != nil {
			opt(&query)
		}
	}
	query.Skill = strings.TrimSpace(query.Skill)
	if err := query.Validate(); err != nil {
		return ListQuery{}, err
	}
	return query, nil
}

// Validate rejects out-of-range paging values and unknown statuses.
func (q ListQuery) Validate() error {
	if q.Page < 1 {
		return xerrors.New(xerrors.CodeInvalidParams, fmt.Sprintf("page must be a positive integer, got %d", q.Page))
	}
	if q.Limit < 1 || q.Limit > MaxLimit {
		return xerrors.New(xerrors.CodeInvalidParams, fmt.Sprintf("limit must be between 1 and %d, got %d", MaxLimit, q.Limit))
	}
	if q.Status != "" && !IsValidStatus(q.Status) {
		return xerrors.New(xerrors.CodeInvalidParams, fmt.Sprintf("unknown status filter %q", q.Status))
	}
	return nil
}

func (q ListQuery) matches(t *Task) bool {
	if q.Status != "" && t.Status != q.Status {
		return false
	}
	if q.Skill != "" && t.Skill != q.Skill {
		return false
	}
	return true
}

func paginate(total int, q ListQuery) Pagination {
	pages := 0
	if total > 0 {
		pages = (total + q.Limit - 1) / q.Limit
	}
	return Pagination{
		Page:            q.Page,
		Limit:           q.Limit,
		TotalTasks:      total,
		TotalPages:      pages,
		HasNextPage:     q.Page < pages,
		HasPreviousPage: q.Page > 1,
	}
}
