// Package progress provides the per-job append-only event log that connects the
// audit pipeline to status pollers.
package progress

import (
	"context"

	"github.com/jonathan/siteforge/internal/types"
)

// Page is the result of reading a job's log after a cursor.
type Page struct {
	// Events are the events after the requested cursor, in append order.
	Events []types.StageEvent `json:"events"`
	// Cursor is the number of events in the log; pass it back to read only new events.
	Cursor int `json:"cursor"`
	// Complete is set once a complete or error event has been appended.
	Complete bool `json:"complete"`
}

// Bridge is a keyed append log of stage events.
type Bridge interface {
	// Push appends event to the log of jobID.
	Push(ctx context.Context, jobID string, event types.StageEvent) error
	// Read returns the events of jobID after the first `after` events.
	// An unknown job yields an empty page.
	Read(ctx context.Context, jobID string, after int) (*Page, error)
	// Cleanup discards the log of jobID.
	Cleanup(ctx context.Context, jobID string) error
}

func pageAfter(events []types.StageEvent, after int) *Page {
	if after < 0 {
		after = 0
	}
	page := &Page{Cursor: len(events), Events: []types.StageEvent{}}
	for _, e := range events {
		if e.Stage.Terminal() {
			page.Complete = true
		}
	}
	if after < len(events) {
		page.Events = append(page.Events, events[after:]...)
	}
	return page
}
