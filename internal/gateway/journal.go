package gateway

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/smartwaste/ai-gateway/internal/eventlog"
	"github.com/smartwaste/ai-gateway/internal/opstats"
	"github.com/smartwaste/ai-gateway/internal/registry"
	"github.com/smartwaste/ai-gateway/internal/usage"
	"github.com/smartwaste/ai-gateway/pkg/ratewindow"
)

const (
	journalCapacity     = 256
	journalWriteTimeout = 5 * time.Second
)

// attempt is the telemetry for one dispatch attempt: a usage increment, an
// event-log row, and an operation-stat update.
type attempt struct {
	provider        *registry.Provider
	operation       string
	status          string // eventlog.StatusSuccess/StatusError/StatusFallback
	durationMs      int64
	tokens          int
	errMessage      string
	requestPreview  string
	responsePreview string
}

// journal drains attempts to the durable stores on a single background
// goroutine, preserving enqueue order. Callers never wait on it and never
// see its failures; a full queue drops the record with a local log line.
type journal struct {
	usage   usage.Store
	events  eventlog.Store
	stats   opstats.Store
	window  *ratewindow.Window
	log     zerolog.Logger
	queue   chan *attempt
	done    chan struct{}
	stopped atomic.Bool
}

func newJournal(u usage.Store, e eventlog.Store, s opstats.Store, w *ratewindow.Window, log zerolog.Logger) *journal {
	j := &journal{
		usage:  u,
		events: e,
		stats:  s,
		window: w,
		log:    log,
		queue:  make(chan *attempt, journalCapacity),
		done:   make(chan struct{}),
	}
	go j.run()
	return j
}

func (j *journal) record(rec *attempt) {
	if j.stopped.Load() {
		return
	}
	select {
	case j.queue <- rec:
	default:
		j.log.Warn().Str("operation", rec.operation).Msg("telemetry queue full, dropping attempt record")
	}
}

// close stops intake and drains everything already queued.
func (j *journal) close() {
	if j.stopped.CompareAndSwap(false, true) {
		close(j.queue)
	}
	<-j.done
}

func (j *journal) run() {
	defer close(j.done)
	for rec := range j.queue {
		j.write(rec)
	}
}

func (j *journal) write(rec *attempt) {
	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()

	isError := rec.status == eventlog.StatusError

	if err := j.usage.Increment(ctx, rec.provider.ID, rec.tokens, isError); err != nil {
		j.log.Error().Err(err).Str("provider", rec.provider.Name).Msg("usage increment failed")
	}

	entry := &eventlog.Entry{
		ProviderID:      rec.provider.ID,
		OperationName:   rec.operation,
		Status:          rec.status,
		DurationMs:      rec.durationMs,
		TokensUsed:      rec.tokens,
		ErrorMessage:    rec.errMessage,
		RequestPreview:  rec.requestPreview,
		ResponsePreview: rec.responsePreview,
	}
	if err := j.events.Append(ctx, entry); err != nil {
		j.log.Error().Err(err).Str("operation", rec.operation).Msg("event log append failed")
	}

	if err := j.stats.Update(ctx, rec.operation, rec.provider.Name, rec.durationMs, !isError); err != nil {
		j.log.Error().Err(err).Str("operation", rec.operation).Msg("operation stat update failed")
	}

	if j.window != nil && rec.tokens > 0 {
		if _, err := j.window.Record(ctx, rec.provider.ID, rec.tokens); err != nil {
			j.log.Warn().Err(err).Str("provider", rec.provider.Name).Msg("rate window record failed")
		}
	}
}
