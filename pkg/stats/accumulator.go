package stats

import (
	"errors"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/diagnostics"
	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"github.com/ahelp-tools/ahelp-stats/pkg/reactions"
	"github.com/ahelp-tools/ahelp-stats/pkg/session"
	"go.uber.org/zap"
)

var (
	ErrNilSession       = errors.New("nil session")
	ErrMissingServer    = errors.New("session has no server")
	ErrMissingOpenTime  = errors.New("session has no open time")
	ErrClosedBeforeOpen = errors.New("session closes before it opens")
	ErrMissingResponder = errors.New("session has an empty responder id")
)

// RoleLookup returns the role labels known for an admin on a server.
type RoleLookup func(adminID, serverID string) []string

// Global is the server scope used for buckets summed over every server.
const Global = ""

// BucketKey identifies a daily or hourly bucket. An empty AdminID is the
// server-level bucket; an empty ServerID is the global one.
type BucketKey struct {
	Period   time.Time
	ServerID string
	AdminID  string
}

// Bucket counts help requests in one period.
type Bucket struct {
	TotalRequests    int `json:"total_requests"`
	AnsweredRequests int `json:"answered_requests"`
}

type serverAccumulator struct {
	admins map[string]*AdminActivityRecord
	totals Totals
}

func (s *serverAccumulator) admin(adminID string) *AdminActivityRecord {
	rec, ok := s.admins[adminID]
	if !ok {
		rec = newRecord(adminID)
		s.admins[adminID] = rec
	}
	return rec
}

// Accumulator folds sessions and raw messages into per-server statistics.
// Each channel worker owns one; partial accumulators are combined with Merge.
type Accumulator struct {
	roles  RoleLookup
	logger *zap.Logger

	servers   map[string]*serverAccumulator
	daily     map[BucketKey]*Bucket
	hourly    map[BucketKey]*Bucket
	reactions *reactions.Counter
	diag      diagnostics.Summary
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator(roles RoleLookup, logger *zap.Logger) *Accumulator {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Accumulator{
		roles:     roles,
		logger:    logger,
		servers:   make(map[string]*serverAccumulator),
		daily:     make(map[BucketKey]*Bucket),
		hourly:    make(map[BucketKey]*Bucket),
		reactions: reactions.NewCounter(),
	}
}

func (a *Accumulator) server(serverID string) *serverAccumulator {
	srv, ok := a.servers[serverID]
	if !ok {
		srv = &serverAccumulator{admins: make(map[string]*AdminActivityRecord)}
		a.servers[serverID] = srv
	}
	return srv
}

func bucket(m map[BucketKey]*Bucket, key BucketKey) *Bucket {
	b, ok := m[key]
	if !ok {
		b = &Bucket{}
		m[key] = b
	}
	return b
}

// DayOf returns the UTC day containing t.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// HourOf returns the UTC hour containing t.
func HourOf(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

func validateSession(s *session.Session) error {
	switch {
	case s == nil:
		return ErrNilSession
	case s.ServerID == "":
		return ErrMissingServer
	case s.OpenedAt.IsZero():
		return ErrMissingOpenTime
	case s.ClosedAt.Before(s.OpenedAt):
		return ErrClosedBeforeOpen
	}

	for _, adminID := range s.Responders {
		if adminID == "" {
			return ErrMissingResponder
		}
	}
	return nil
}

// AddSession credits a closed session. Malformed sessions are skipped and
// counted as diagnostics.SkippedSession.
func (a *Accumulator) AddSession(s *session.Session) {
	if err := validateSession(s); err != nil {
		a.diag.Inc(diagnostics.SkippedSession)
		fields := []zap.Field{zap.Error(err)}
		if s != nil {
			fields = append(fields, zap.String("channel", s.ChannelID), zap.Time("openedAt", s.OpenedAt))
		}
		a.logger.Warn("Skipping malformed session", fields...)
		return
	}

	srv := a.server(s.ServerID)
	day := DayOf(s.OpenedAt)
	hour := HourOf(s.OpenedAt)

	srv.totals.Sessions++
	bucket(a.daily, BucketKey{Period: day, ServerID: s.ServerID}).TotalRequests++
	bucket(a.hourly, BucketKey{Period: hour, ServerID: s.ServerID}).TotalRequests++

	if !s.Answered() {
		return
	}

	srv.totals.Answered++
	bucket(a.daily, BucketKey{Period: day, ServerID: s.ServerID}).AnsweredRequests++
	bucket(a.hourly, BucketKey{Period: hour, ServerID: s.ServerID}).AnsweredRequests++

	for _, adminID := range s.Responders {
		rec := srv.admin(adminID)
		rec.AhelpsAnswered++
		rec.SessionsParticipated++
		rec.Mentions += s.MentionsByAdmin[adminID]
		if s.AdminOnly {
			rec.AdminOnlyAhelps++
		}
		if a.roles != nil {
			rec.addRoles(a.roles(adminID, s.ServerID))
		}
		rec.observeName(s.DisplayNames[adminID], s.ClosedAt)

		b := bucket(a.daily, BucketKey{Period: day, ServerID: s.ServerID, AdminID: adminID})
		b.TotalRequests++
		b.AnsweredRequests++
	}
}

// AddMessage counts a raw message accepted by a tracker.
func (a *Accumulator) AddMessage(serverID string, msg *models.Message) {
	srv := a.server(serverID)
	srv.totals.Messages++
	srv.totals.Mentions += msg.MentionCount()
	a.reactions.Add(serverID, msg)
}

// AddDiagnostics merges diagnostics gathered outside the accumulator.
func (a *Accumulator) AddDiagnostics(summary diagnostics.Summary) {
	a.diag.Merge(summary)
}

// Merge folds other into a. Merging is commutative and associative, so the
// final totals do not depend on the order partial accumulators are combined.
func (a *Accumulator) Merge(other *Accumulator) {
	for serverID, theirs := range other.servers {
		ours := a.server(serverID)
		ours.totals.add(theirs.totals)
		for adminID, rec := range theirs.admins {
			ours.admin(adminID).Merge(rec)
		}
	}

	for key, b := range other.daily {
		mine := bucket(a.daily, key)
		mine.TotalRequests += b.TotalRequests
		mine.AnsweredRequests += b.AnsweredRequests
	}

	for key, b := range other.hourly {
		mine := bucket(a.hourly, key)
		mine.TotalRequests += b.TotalRequests
		mine.AnsweredRequests += b.AnsweredRequests
	}

	a.reactions.Merge(other.reactions)
	a.diag.Merge(other.diag)
}
