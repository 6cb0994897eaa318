// Package reports turns internal failures into diagnostic records in the report sink.
package reports

import (
	"context"
	"time"

	"globalstats/internal/metric"
	"globalstats/internal/storage"

	"go.uber.org/zap"
)

const defaultWriteTimeout = 3 * time.Second

// Failure describes an internal fault worth recording.
type Failure struct {
	Kind        storage.ReportKind
	Caller      string
	Description string
	Err         error
}

// Notifier writes one report per failure. Write errors are logged and counted, never returned.
type Notifier struct {
	sink    storage.ReportSink
	logger  *zap.SugaredLogger
	now     func() time.Time
	timeout time.Duration
}

func NewNotifier(sink storage.ReportSink, logger *zap.SugaredLogger) *Notifier {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Notifier{sink: sink, logger: logger, now: time.Now, timeout: defaultWriteTimeout}
}

func (n *Notifier) Notify(ctx context.Context, f Failure) {
	if n == nil {
		return
	}
	report := n.build(f)
	if n.sink == nil {
		n.logger.Warnw("report dropped, no sink configured", "caller", report.Caller, "message", report.Message)
		return
	}

	// the report outlives a cancelled request
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
	defer cancel()
	if err := n.sink.Record(wctx, report); err != nil {
		metric.ObserveReport(report.Caller, false)
		n.logger.Errorw("failed to write report",
			"caller", report.Caller,
			"description", report.Description,
			"original_err", report.Message,
			"err", err,
		)
		return
	}
	metric.ObserveReport(report.Caller, true)
	n.logger.Debugw("report written", "caller", report.Caller, "kind", report.Kind)
}

func (n *Notifier) build(f Failure) storage.Report {
	kind := f.Kind
	if !kind.Valid() {
		kind = storage.ReportError
	}
	var msg string
	if f.Err != nil {
		msg = f.Err.Error()
	}
	return storage.Report{
		Kind:        kind,
		Description: f.Description,
		Message:     msg,
		Date:        storage.FormatTimestamp(n.now()),
		Caller:      f.Caller,
	}
}
