package session

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

var ErrUnknownOrphanPolicy = errors.New("unknown orphan policy")

// OrphanPolicy decides what happens to an admin response seen while no
// help request is open in the channel.
type OrphanPolicy string

const (
	// OrphanDrop discards the response.
	OrphanDrop OrphanPolicy = "drop"
	// OrphanAttachPrevious credits the most recently closed session of the channel.
	OrphanAttachPrevious OrphanPolicy = "attach-previous"
)

// ParseOrphanPolicy converts a configuration value into an OrphanPolicy.
// An empty value selects OrphanDrop.
func ParseOrphanPolicy(s string) (OrphanPolicy, error) {
	switch OrphanPolicy(s) {
	case "", OrphanDrop:
		return OrphanDrop, nil
	case OrphanAttachPrevious:
		return OrphanAttachPrevious, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownOrphanPolicy, s)
	}
}

// Options configures a Tracker.
type Options struct {
	OrphanPolicy OrphanPolicy
	// CreditSelfResponses credits the player who opened a session when they
	// also post an outbox line in it.
	CreditSelfResponses bool
	// IdleTimeout closes an open session once the channel has been quiet for
	// longer than this. Zero keeps sessions open until the next request.
	IdleTimeout time.Duration
}

// Session is one help request and the admin responses that followed it
// in the same channel, up to the next request or the end of the log.
type Session struct {
	ChannelID   string    `json:"channel_id"`
	ServerID    string    `json:"server_id"`
	OpenedAt    time.Time `json:"opened_at"`
	ClosedAt    time.Time `json:"closed_at"`
	RequesterID string    `json:"requester_id"`

	// Responders is the sorted set of admins who posted an outbox line.
	Responders []string `json:"responders"`
	// MentionCount is the sum of MentionsByAdmin.
	MentionCount    int               `json:"mention_count"`
	MentionsByAdmin map[string]int    `json:"mentions_by_admin,omitempty"`
	DisplayNames    map[string]string `json:"display_names,omitempty"`
	AdminOnly       bool              `json:"admin_only"`
}

// Answered reports whether at least one admin responded.
func (s *Session) Answered() bool {
	return len(s.Responders) > 0
}

// HasResponder reports whether adminID responded in the session.
func (s *Session) HasResponder(adminID string) bool {
	i := sort.SearchStrings(s.Responders, adminID)
	return i < len(s.Responders) && s.Responders[i] == adminID
}

// addResponder inserts adminID keeping Responders sorted and distinct.
func (s *Session) addResponder(adminID string) {
	i := sort.SearchStrings(s.Responders, adminID)
	if i < len(s.Responders) && s.Responders[i] == adminID {
		return
	}
	s.Responders = append(s.Responders, "")
	copy(s.Responders[i+1:], s.Responders[i:])
	s.Responders[i] = adminID
}
