package store

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Journal writes the durable request/event log and failure log. These are
// crawl outputs in their own right (downstream audit tooling consumes them),
// separate from the process's operator-facing zerolog stream.
type Journal struct {
	events *appender
	errors *appender
}

// NewJournal creates a journal writing to logPath and errPath.
func NewJournal(logPath, errPath string) *Journal {
	return &Journal{
		events: newAppender(logPath),
		errors: newAppender(errPath),
	}
}

// Event appends a structured event to log.jsonl, stamping it with the
// current UTC time. Journal write failures must not take down a crawl task,
// so they are logged and swallowed.
func (j *Journal) Event(event map[string]any) {
	if err := j.events.append(stamped(event)); err != nil {
		log.Error().Err(err).Msg("Failed to append to event journal")
	}
}

// Error appends a structured failure record to errors.jsonl with enough
// context (path, params, attempt, status, error text) to diagnose without
// reproducing the crawl.
func (j *Journal) Error(event map[string]any) {
	if err := j.errors.append(stamped(event)); err != nil {
		log.Error().Err(err).Msg("Failed to append to error journal")
	}
}

// stamped copies the event so callers can keep reusing their map, and adds
// the UTC timestamp every journal row carries.
func stamped(event map[string]any) map[string]any {
	row := make(map[string]any, len(event)+1)
	for k, v := range event {
		row[k] = v
	}
	row["ts"] = time.Now().UTC().Format(time.RFC3339)
	return row
}
