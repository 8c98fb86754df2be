package stats

import (
	"runtime"
	"sort"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/diagnostics"
	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"github.com/ahelp-tools/ahelp-stats/pkg/session"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// ChannelLog is the time-ordered message log of one relay channel. A nil
// Messages slice marks a channel whose log could not be read.
type ChannelLog struct {
	ChannelID string
	ServerID  string
	Messages  []models.Message
}

// Options configures an Engine.
type Options struct {
	Session session.Options
	// Workers bounds the number of channels processed at once. Zero uses
	// the number of CPUs.
	Workers int
	Roles   RoleLookup
}

// Engine runs one session tracker per channel in parallel and merges the
// partial results.
type Engine struct {
	opts   Options
	logger *zap.Logger
}

// NewEngine creates an engine.
func NewEngine(opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}

	return &Engine{
		opts:   opts,
		logger: logger,
	}
}

type partial struct {
	index     int
	channelID string
	acc       *Accumulator
}

// Run processes every channel log and returns the merged statistics. A
// channel that fails is counted as diagnostics.AbortedChannel and does not
// affect the others.
func (e *Engine) Run(logs []ChannelLog) *Statistics {
	start := time.Now()

	p := pool.NewWithResults[partial]().WithMaxGoroutines(e.opts.Workers)
	for i := range logs {
		i := i
		log := &logs[i]
		p.Go(func() partial {
			return partial{index: i, channelID: log.ChannelID, acc: e.runChannel(log)}
		})
	}
	partials := p.Wait()

	// Results arrive in completion order
	sort.Slice(partials, func(i, j int) bool {
		if partials[i].channelID != partials[j].channelID {
			return partials[i].channelID < partials[j].channelID
		}
		return partials[i].index < partials[j].index
	})

	total := NewAccumulator(e.opts.Roles, e.logger)
	for _, part := range partials {
		total.Merge(part.acc)
	}
	result := total.Result()

	e.logger.Info("Aggregated ahelp statistics",
		zap.Int("channels", len(logs)),
		zap.Int("servers", len(result.Servers)),
		zap.Int("sessions", result.Totals.Sessions),
		zap.Int("answered", result.Totals.Answered),
		zap.Int("admins", len(result.Global)),
		zap.Stringer("diagnostics", &result.Diagnostics),
		zap.Duration("elapsed", time.Since(start)))

	return result
}

func (e *Engine) runChannel(log *ChannelLog) (acc *Accumulator) {
	logger := e.logger.With(zap.String("channel", log.ChannelID), zap.String("server", log.ServerID))
	acc = NewAccumulator(e.opts.Roles, logger)

	if log.Messages == nil || log.ServerID == "" {
		acc.diag.Inc(diagnostics.AbortedChannel)
		logger.Warn("Skipping unreadable channel log")
		return acc
	}

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Channel aborted", zap.Any("panic", r))
			acc = NewAccumulator(e.opts.Roles, logger)
			acc.diag.Inc(diagnostics.AbortedChannel)
		}
	}()

	tracker := session.NewTracker(log.ChannelID, log.ServerID, e.opts.Session, acc.AddSession, logger)
	for i := range log.Messages {
		msg := &log.Messages[i]
		if tracker.Process(msg) {
			acc.AddMessage(log.ServerID, msg)
		}
	}
	tracker.Finish()
	acc.AddDiagnostics(tracker.Diagnostics())

	logger.Debug("Processed channel",
		zap.Int("messages", len(log.Messages)),
		zap.Int("sessions", tracker.Emitted()))

	return acc
}
