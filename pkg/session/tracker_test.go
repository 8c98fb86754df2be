package session_test

import (
	"testing"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/diagnostics"
	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"github.com/ahelp-tools/ahelp-stats/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return base.Add(time.Duration(minutes) * time.Minute)
}

func inbox(player string, minute int) models.Message {
	return models.Message{AuthorID: player, AuthorName: player, Timestamp: at(minute), Body: ":inbox_tray: " + player + ": help"}
}

func outbox(admin string, minute int, mentions ...string) models.Message {
	return models.Message{
		AuthorID:   admin,
		AuthorName: admin,
		Timestamp:  at(minute),
		Body:       ":outbox_tray: Admin | " + admin + ": ok",
		Mentions:   mentions,
	}
}

func chatter(author string, minute int) models.Message {
	return models.Message{AuthorID: author, Timestamp: at(minute), Body: "just talking"}
}

func TestTrack_TwoSessions(t *testing.T) {
	t.Parallel()

	msgs := []models.Message{
		inbox("player1", 1),
		outbox("alice", 2, "u1", "u2"),
		inbox("player2", 3),
		outbox("bob", 4),
	}

	sessions, diag := session.Track("c1", "s1", msgs, session.Options{}, nil)
	require.Len(t, sessions, 2)
	assert.Equal(t, 0, diag.Total())

	first := sessions[0]
	assert.Equal(t, []string{"alice"}, first.Responders)
	assert.Equal(t, 2, first.MentionCount)
	assert.Equal(t, 2, first.MentionsByAdmin["alice"])
	assert.Equal(t, at(1), first.OpenedAt)
	assert.Equal(t, at(2), first.ClosedAt)
	assert.Equal(t, "c1", first.ChannelID)
	assert.Equal(t, "s1", first.ServerID)

	second := sessions[1]
	assert.Equal(t, []string{"bob"}, second.Responders)
	assert.Equal(t, 0, second.MentionCount)
	assert.Equal(t, at(3), second.OpenedAt)
	assert.Equal(t, at(4), second.ClosedAt)
}

func TestTrack_OrphanResponse(t *testing.T) {
	t.Parallel()

	sessions, diag := session.Track("c1", "s1", []models.Message{outbox("alice", 1)}, session.Options{}, nil)
	assert.Empty(t, sessions)
	assert.Equal(t, 1, diag.Count(diagnostics.OrphanResponse))
}

func TestTrack_OrphanAttachPrevious(t *testing.T) {
	t.Parallel()

	msgs := []models.Message{
		outbox("carol", 0),
		inbox("p1", 1),
		outbox("alice", 2),
		// Quiet for longer than the idle timeout, so the session is already closed
		outbox("bob", 30),
		inbox("p2", 31),
	}

	tests := []struct {
		name         string
		policy       session.OrphanPolicy
		wantOrphans  int
		wantFirstBob bool
	}{
		{name: "drop", policy: session.OrphanDrop, wantOrphans: 2, wantFirstBob: false},
		{name: "attach previous", policy: session.OrphanAttachPrevious, wantOrphans: 2, wantFirstBob: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := session.Options{OrphanPolicy: tt.policy, IdleTimeout: 10 * time.Minute}
			sessions, diag := session.Track("c1", "s1", msgs, opts, nil)
			require.Len(t, sessions, 2)
			assert.Equal(t, tt.wantOrphans, diag.Count(diagnostics.OrphanResponse))

			assert.True(t, sessions[0].HasResponder("alice"))
			assert.Equal(t, tt.wantFirstBob, sessions[0].HasResponder("bob"))
			assert.False(t, sessions[0].HasResponder("carol"), "nothing to attach to before the first request")
			assert.False(t, sessions[1].Answered())
		})
	}
}

func TestTrack_IdleTimeoutDisabled(t *testing.T) {
	t.Parallel()

	msgs := []models.Message{inbox("p1", 1), outbox("alice", 500)}

	sessions, diag := session.Track("c1", "s1", msgs, session.Options{}, nil)
	require.Len(t, sessions, 1)
	assert.Equal(t, 0, diag.Total())
	assert.True(t, sessions[0].HasResponder("alice"))
}

func TestTrack_UnansweredAndEndOfLog(t *testing.T) {
	t.Parallel()

	msgs := []models.Message{
		inbox("p1", 1),
		chatter("p1", 2),
		inbox("p2", 3),
		outbox("alice", 4),
		chatter("alice", 9),
	}

	sessions, _ := session.Track("c1", "s1", msgs, session.Options{}, nil)
	require.Len(t, sessions, 2)

	assert.False(t, sessions[0].Answered())
	assert.Equal(t, at(2), sessions[0].ClosedAt, "closes at the last message before the next request")

	assert.True(t, sessions[1].Answered())
	assert.Equal(t, at(9), sessions[1].ClosedAt, "closes at the last seen message at end of log")
}

func TestTrack_OutOfOrderSkipped(t *testing.T) {
	t.Parallel()

	msgs := []models.Message{
		inbox("p1", 5),
		outbox("alice", 3),
		outbox("bob", 6),
	}

	sessions, diag := session.Track("c1", "s1", msgs, session.Options{}, nil)
	require.Len(t, sessions, 1)
	assert.Equal(t, 1, diag.Count(diagnostics.OutOfOrderLog))
	assert.Equal(t, []string{"bob"}, sessions[0].Responders)
}

func TestTrack_EqualTimestampsAccepted(t *testing.T) {
	t.Parallel()

	msgs := []models.Message{
		inbox("p1", 1),
		outbox("alice", 1),
		outbox("bob", 1),
	}

	sessions, diag := session.Track("c1", "s1", msgs, session.Options{}, nil)
	require.Len(t, sessions, 1)
	assert.Equal(t, 0, diag.Total())
	assert.Equal(t, []string{"alice", "bob"}, sessions[0].Responders)
}

func TestTrack_DistinctRespondersAndMentionAttribution(t *testing.T) {
	t.Parallel()

	msgs := []models.Message{
		inbox("p1", 1),
		outbox("bob", 2, "x"),
		outbox("alice", 3, "y", "z"),
		outbox("bob", 4, "w"),
	}

	sessions, _ := session.Track("c1", "s1", msgs, session.Options{}, nil)
	require.Len(t, sessions, 1)

	s := sessions[0]
	assert.Equal(t, []string{"alice", "bob"}, s.Responders)
	assert.Equal(t, 2, s.MentionsByAdmin["bob"])
	assert.Equal(t, 2, s.MentionsByAdmin["alice"])
	assert.Equal(t, 4, s.MentionCount)
}

func TestTrack_SelfResponse(t *testing.T) {
	t.Parallel()

	msgs := []models.Message{
		inbox("alice", 1),
		outbox("alice", 2),
	}

	sessions, _ := session.Track("c1", "s1", msgs, session.Options{}, nil)
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].Answered())

	sessions, _ = session.Track("c1", "s1", msgs, session.Options{CreditSelfResponses: true}, nil)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].HasResponder("alice"))
}

func TestTrack_AdminOnlyFlag(t *testing.T) {
	t.Parallel()

	staff := outbox("alice", 2)
	staff.AdminOnly = true

	msgs := []models.Message{inbox("p1", 1), staff, inbox("p2", 3), outbox("bob", 4)}

	sessions, _ := session.Track("c1", "s1", msgs, session.Options{}, nil)
	require.Len(t, sessions, 2)
	assert.True(t, sessions[0].AdminOnly)
	assert.False(t, sessions[1].AdminOnly)
}

func TestTrack_SessionCountEqualsInboxCount(t *testing.T) {
	t.Parallel()

	var msgs []models.Message
	inboxes := 0
	for i := 0; i < 40; i++ {
		switch i % 4 {
		case 0, 3:
			msgs = append(msgs, inbox("p", i))
			inboxes++
		case 1:
			msgs = append(msgs, outbox("alice", i))
		default:
			msgs = append(msgs, chatter("x", i))
		}
	}

	for _, policy := range []session.OrphanPolicy{session.OrphanDrop, session.OrphanAttachPrevious} {
		sessions, _ := session.Track("c1", "s1", msgs, session.Options{OrphanPolicy: policy}, nil)
		assert.Len(t, sessions, inboxes, "policy %s", policy)

		for i := 1; i < len(sessions); i++ {
			assert.False(t, sessions[i].OpenedAt.Before(sessions[i-1].OpenedAt))
		}
	}
}

func TestTracker_FinishIdempotent(t *testing.T) {
	t.Parallel()

	var got []*session.Session
	tracker := session.NewTracker("c1", "s1", session.Options{}, func(s *session.Session) {
		got = append(got, s)
	}, nil)

	m := inbox("p1", 1)
	assert.True(t, tracker.Process(&m))
	tracker.Finish()
	tracker.Finish()

	assert.Len(t, got, 1)
	assert.Equal(t, 1, tracker.Emitted())
}

func TestParseOrphanPolicy(t *testing.T) {
	t.Parallel()

	p, err := session.ParseOrphanPolicy("")
	require.NoError(t, err)
	assert.Equal(t, session.OrphanDrop, p)

	p, err = session.ParseOrphanPolicy("attach-previous")
	require.NoError(t, err)
	assert.Equal(t, session.OrphanAttachPrevious, p)

	_, err = session.ParseOrphanPolicy("guess")
	require.ErrorIs(t, err, session.ErrUnknownOrphanPolicy)
}
