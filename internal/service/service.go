package service

import (
	"context"
	"errors"
	"fmt"

	"globalstats/internal/reports"
	"globalstats/internal/storage"
)

var (
	ErrInvalidUpdate     = errors.New("invalid update")
	ErrNoIntent          = fmt.Errorf("%w: none or invalid request data", ErrInvalidUpdate)
	ErrConflictingIntent = fmt.Errorf("%w: inc & dec TRUE in same request", ErrInvalidUpdate)
)

// Notifier receives store failures for out-of-band reporting.
type Notifier interface {
	Notify(ctx context.Context, f reports.Failure)
}

// Service orchestrates application logic between HTTP layer and storage.
type Service struct {
	store  storage.StatsStore
	notify Notifier
}

func New(store storage.StatsStore, notify Notifier) *Service {
	return &Service{store: store, notify: notify}
}

type OnlineUsersIntent struct {
	Inc *bool `json:"inc,omitempty"`
	Dec *bool `json:"dec,omitempty"`
}

// UpdateRequest carries the optional counter intents of a stats update.
type UpdateRequest struct {
	OnlineUsers OnlineUsersIntent `json:"online_users"`
	Downloads   *bool             `json:"downloads"`
}

// Delta validates the request and combines every intent set to true.
func (r UpdateRequest) Delta() (storage.Delta, error) {
	inc, dec, downloads := r.OnlineUsers.Inc, r.OnlineUsers.Dec, r.Downloads
	if inc == nil && dec == nil && downloads == nil {
		return storage.Delta{}, ErrNoIntent
	}
	if isTrue(inc) && isTrue(dec) {
		return storage.Delta{}, ErrConflictingIntent
	}
	if !isTrue(inc) && !isTrue(dec) && !isTrue(downloads) {
		return storage.Delta{}, ErrNoIntent
	}

	var d storage.Delta
	switch {
	case isTrue(inc):
		d.OnlineUsers = 1
	case isTrue(dec):
		d.OnlineUsers = -1
	}
	if isTrue(downloads) {
		d.Downloads = 1
	}
	return d, nil
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

type operation struct {
	caller      string
	description string
}

var (
	opGetStatistics = operation{
		caller:      "get_global_statistics",
		description: "Error getting global stats on the server.",
	}
	opUpdateStatistics = operation{
		caller:      "update_global_statistics",
		description: "Updating global stats on the server.",
	}
)

func (s *Service) Statistics(ctx context.Context) (storage.Statistics, error) {
	var stats storage.Statistics
	err := s.reported(ctx, opGetStatistics, func() error {
		var err error
		stats, err = s.store.GetOrCreate(ctx)
		return err
	})
	return stats, err
}

func (s *Service) UpdateStatistics(ctx context.Context, req UpdateRequest) error {
	d, err := req.Delta()
	if err != nil {
		return err
	}
	return s.reported(ctx, opUpdateStatistics, func() error {
		return s.store.ApplyDelta(ctx, d)
	})
}

func (s *Service) Health(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// reported runs fn and hands any store failure to the notifier. The returned error is always fn's.
func (s *Service) reported(ctx context.Context, op operation, fn func() error) error {
	err := fn()
	if err == nil || s.notify == nil {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	s.notify.Notify(ctx, reports.Failure{
		Kind:        storage.ReportError,
		Caller:      op.caller,
		Description: op.description,
		Err:         err,
	})
	return err
}
