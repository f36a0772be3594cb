package domain

import (
	"context"
	"time"
)

// Record is one finished speak request as kept in the history.
type Record struct {
	ID         string
	Text       string
	Options    Options
	Engine     string
	Outcome    string // done, stopped, error, focus_denied, device_error, skipped
	Err        string
	Waited     time.Duration // time spent queued
	Duration   time.Duration // time from dequeue to terminal state
	FinishedAt time.Time
}

// HistoryStore keeps recently spoken utterances, newest last.
type HistoryStore interface {
	Save(ctx context.Context, r *Record) error
	Load(ctx context.Context, id string) (*Record, error)
	Delete(ctx context.Context, id string) error
	Recent(ctx context.Context, n int) ([]*Record, error)
}
