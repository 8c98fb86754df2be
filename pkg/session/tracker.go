package session

import (
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/diagnostics"
	"github.com/ahelp-tools/ahelp-stats/pkg/marker"
	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"go.uber.org/zap"
)

// EmitFunc receives every closed session, in the order the sessions were opened.
type EmitFunc func(*Session)

// Tracker groups one channel's time-ordered messages into sessions.
// A Tracker is bound to a single channel and is not safe for concurrent use.
type Tracker struct {
	channelID string
	serverID  string
	opts      Options
	emit      EmitFunc
	logger    *zap.Logger

	open *Session
	// pending holds the last closed session while orphan responses may
	// still be attached to it.
	pending *Session

	lastSeen time.Time
	started  bool
	finished bool
	emitted  int
	diag     diagnostics.Summary
}

// NewTracker creates a tracker for one channel.
func NewTracker(channelID, serverID string, opts Options, emit EmitFunc, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.OrphanPolicy == "" {
		opts.OrphanPolicy = OrphanDrop
	}

	return &Tracker{
		channelID: channelID,
		serverID:  serverID,
		opts:      opts,
		emit:      emit,
		logger:    logger.With(zap.String("channel", channelID)),
	}
}

// Process feeds the next message of the channel. It returns false when the
// message was rejected because its timestamp regresses.
func (t *Tracker) Process(msg *models.Message) bool {
	if t.started && msg.Timestamp.Before(t.lastSeen) {
		t.diag.Inc(diagnostics.OutOfOrderLog)
		t.logger.Warn("Skipping out-of-order message",
			zap.Stringer("messageID", msg.ID),
			zap.Int("seq", msg.Seq),
			zap.Time("timestamp", msg.Timestamp),
			zap.Time("previous", t.lastSeen))
		return false
	}
	t.started = true
	t.lastSeen = msg.Timestamp

	if t.open != nil && t.opts.IdleTimeout > 0 && msg.Timestamp.Sub(t.open.ClosedAt) > t.opts.IdleTimeout {
		t.close()
	}

	kind := marker.Classify(msg.Body)

	// A request belongs to the session it opens, anything else extends the open one
	if t.open != nil && kind != marker.Inbox {
		t.open.ClosedAt = msg.Timestamp
	}

	// A line carrying both markers answers the current request before opening the next one
	if kind.Has(marker.Outbox) {
		t.respond(msg)
	}

	if kind.Has(marker.Inbox) {
		if t.open != nil {
			t.close()
		}
		t.open = &Session{
			ChannelID:   t.channelID,
			ServerID:    t.serverID,
			OpenedAt:    msg.Timestamp,
			ClosedAt:    msg.Timestamp,
			RequesterID: msg.AuthorID,
			AdminOnly:   msg.AdminOnly,
		}
	}

	return true
}

// Finish closes the open session, if any, and flushes everything held back.
// Further calls are no-ops.
func (t *Tracker) Finish() {
	if t.finished {
		return
	}
	t.finished = true

	if t.open != nil {
		t.close()
	}
	t.flush()
}

// Emitted returns the number of sessions handed to the emit function so far.
func (t *Tracker) Emitted() int {
	return t.emitted
}

// Diagnostics returns the problems counted while tracking.
func (t *Tracker) Diagnostics() diagnostics.Summary {
	return t.diag
}

// respond credits an outbox message to the open session, or handles it as an orphan.
func (t *Tracker) respond(msg *models.Message) {
	target := t.open
	if target == nil {
		t.diag.Inc(diagnostics.OrphanResponse)
		if t.opts.OrphanPolicy != OrphanAttachPrevious || t.pending == nil {
			t.logger.Debug("Dropping orphan response",
				zap.String("author", msg.AuthorID),
				zap.Time("timestamp", msg.Timestamp))
			return
		}
		target = t.pending
		target.ClosedAt = msg.Timestamp
	}

	if msg.AuthorID == "" {
		t.diag.Inc(diagnostics.MalformedMessage)
		t.logger.Warn("Outbox message without author", zap.Stringer("messageID", msg.ID))
		return
	}

	if !t.opts.CreditSelfResponses && msg.AuthorID == target.RequesterID {
		return
	}

	target.addResponder(msg.AuthorID)
	target.AdminOnly = target.AdminOnly || msg.AdminOnly

	if n := msg.MentionCount(); n > 0 {
		if target.MentionsByAdmin == nil {
			target.MentionsByAdmin = make(map[string]int)
		}
		target.MentionsByAdmin[msg.AuthorID] += n
		target.MentionCount += n
	}

	if msg.AuthorName != "" {
		if target.DisplayNames == nil {
			target.DisplayNames = make(map[string]string)
		}
		target.DisplayNames[msg.AuthorID] = msg.AuthorName
	}
}

func (t *Tracker) close() {
	closed := t.open
	t.open = nil

	if t.opts.OrphanPolicy != OrphanAttachPrevious {
		t.send(closed)
		return
	}

	t.flush()
	t.pending = closed
}

func (t *Tracker) flush() {
	if t.pending != nil {
		t.send(t.pending)
		t.pending = nil
	}
}

func (t *Tracker) send(s *Session) {
	t.emitted++
	if t.emit != nil {
		t.emit(s)
	}
}

// Track runs a tracker over a complete channel log and returns its sessions.
func Track(channelID, serverID string, msgs []models.Message, opts Options, logger *zap.Logger) ([]*Session, diagnostics.Summary) {
	var sessions []*Session

	tracker := NewTracker(channelID, serverID, opts, func(s *Session) {
		sessions = append(sessions, s)
	}, logger)

	for i := range msgs {
		tracker.Process(&msgs[i])
	}
	tracker.Finish()

	return sessions, tracker.Diagnostics()
}
