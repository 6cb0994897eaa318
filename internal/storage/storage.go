package storage

import (
	"context"
	"time"
)

const (
	DatabaseName          = "app"
	StatisticsCollection  = "statistics"
	ReportsCollection     = "reports"
	timestampLayout       = "2006-01-02 15:04:05"
	statisticsSingletonID = "global"
)

// Statistics is the singleton counter document.
type Statistics struct {
	OnlineUsers int64  `json:"online_users" bson:"online_users"`
	Downloads   int64  `json:"downloads" bson:"downloads"`
	LastUpdated string `json:"last_updated,omitempty" bson:"last_updated,omitempty"`
}

type ReportKind string

const (
	ReportBug   ReportKind = "Bug"
	ReportError ReportKind = "Error"
	ReportOther ReportKind = "Other"
)

func (k ReportKind) Valid() bool {
	switch k {
	case ReportBug, ReportError, ReportOther:
		return true
	}
	return false
}

// Report is an append-only diagnostic entry.
type Report struct {
	Kind        ReportKind `json:"kind" bson:"kind"`
	Description string     `json:"description" bson:"description"`
	Message     string     `json:"message" bson:"message"`
	Date        string     `json:"date" bson:"date"`
	Caller      string     `json:"caller" bson:"caller"`
}

// Delta is a requested change to both counters.
type Delta struct {
	OnlineUsers int64
	Downloads   int64
}

func (d Delta) IsZero() bool {
	return d.OnlineUsers == 0 && d.Downloads == 0
}

// ClampDelta keeps the counters of current non-negative once delta is applied.
func ClampDelta(current Statistics, d Delta) Delta {
	if current.OnlineUsers+d.OnlineUsers < 0 {
		d.OnlineUsers = -current.OnlineUsers
	}
	if current.Downloads+d.Downloads < 0 {
		d.Downloads = -current.Downloads
	}
	return d
}

// FormatTimestamp renders t the way last_updated and report dates are stored.
func FormatTimestamp(t time.Time) string {
	return t.Local().Format(timestampLayout)
}

// StatsStore owns the singleton statistics document.
type StatsStore interface {
	GetOrCreate(ctx context.Context) (Statistics, error)
	ApplyDelta(ctx context.Context, d Delta) error
	Ping(ctx context.Context) error
}

// ReportSink appends diagnostic reports.
type ReportSink interface {
	Record(ctx context.Context, r Report) error
}
