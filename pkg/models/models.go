package models

import (
	"bytes"
	"sort"
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Server represents a game server whose ahelp relay channels are archived
type Server struct {
	ID   string `json:"id" db:"id"`
	Name string `json:"name" db:"name"`
}

// Channel represents one archived relay channel
type Channel struct {
	ID       string `json:"id" db:"id"`
	ServerID string `json:"server_id" db:"server_id"`
	Name     string `json:"name" db:"name"`
	Source   string `json:"source" db:"source"`
}

// AdminRole links a role label to an admin on one server
type AdminRole struct {
	AdminID  string `db:"admin_id"`
	ServerID string `db:"server_id"`
	Role     string `db:"role"`
}

// FlexID is a platform identifier that may be encoded as a JSON string or number
type FlexID string

// UnmarshalJSON accepts "123", 123 and null.
func (id *FlexID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}

	if data[0] == '"' {
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return err
		}
		*id = FlexID(s)
		return nil
	}

	if _, err := strconv.ParseUint(string(data), 10, 64); err != nil {
		return err
	}
	*id = FlexID(data)
	return nil
}

// Snowflake parses the identifier as a Discord snowflake.
func (id FlexID) Snowflake() (snowflake.ID, error) {
	return snowflake.Parse(string(id))
}

// RawEmbed is the subset of a Discord embed the relay bot fills in
type RawEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// RawReaction is one emoji reaction on a downloaded message. Users is
// empty when the downloader only recorded the count.
type RawReaction struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []FlexID `json:"users"`
}

// RawRecord represents one downloaded message as stored in the per-channel JSON files
type RawRecord struct {
	ID          FlexID        `json:"id"`
	ChannelID   FlexID        `json:"channel_id"`
	AuthorID    FlexID        `json:"author_id"`
	AuthorName  string        `json:"author_name"`
	Content     string        `json:"content"`
	CreatedAt   string        `json:"created_at"`
	Attachments []string      `json:"attachments"`
	Embeds      []RawEmbed    `json:"embeds"`
	Mentions    []FlexID      `json:"mentions"`
	Reactions   []RawReaction `json:"reactions"`
	AdminOnly   bool          `json:"admin_only"`
}

// Message is one normalized chat entry as consumed by the session tracker.
// Messages are immutable once built.
type Message struct {
	ID         snowflake.ID `json:"id" db:"source_id"`
	Seq        int          `json:"seq" db:"seq"`
	AuthorID   string       `json:"author_id" db:"author_id"`
	AuthorName string       `json:"author_name" db:"author_name"`
	ChannelID  string       `json:"channel_id" db:"channel_id"`
	ServerID   string       `json:"server_id" db:"server_id"`
	Timestamp  time.Time    `json:"timestamp" db:"timestamp"`
	Body       string       `json:"body" db:"body"`
	Mentions   []string     `json:"mentions,omitempty" db:"mentions"`
	AdminOnly  bool         `json:"admin_only" db:"admin_only"`
	Reactions  []Reaction   `json:"reactions,omitempty" db:"reactions"`
	Roles      []string     `json:"roles,omitempty" db:"-"`
	Filename   string       `json:"filename,omitempty" db:"filename"`
}

// Reaction is an emoji reaction with the users who added it, when known.
type Reaction struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users,omitempty"`
}

// MentionCount returns the number of distinct users mentioned.
func (m *Message) MentionCount() int {
	return len(m.Mentions)
}

// UnknownNamePrefix prefixes the placeholder shown for users whose display
// name was never observed.
const UnknownNamePrefix = "User_"

// PlaceholderName returns the display name used for an unnamed user.
func PlaceholderName(userID string) string {
	return UnknownNamePrefix + userID
}

// UniqueSorted returns the distinct non-empty values of ids in ascending order.
func UniqueSorted(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)

	if len(out) == 0 {
		return nil
	}
	return out
}

// SearchResult represents an archived message matched by full-text search
type SearchResult struct {
	Message
	Rank    float64 `db:"rank"`
	Snippet string  `db:"snippet"`
}

// Window bounds an analysis run, inclusive. A zero From or To leaves that
// side open.
type Window struct {
	From time.Time
	To   time.Time
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	if !w.From.IsZero() && t.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && t.After(w.To) {
		return false
	}
	return true
}

// Run summarizes one analysis run as recorded in the archive.
type Run struct {
	ID          int64          `json:"id" db:"id"`
	StartedAt   time.Time      `json:"started_at" db:"started_at"`
	From        time.Time      `json:"from" db:"window_from"`
	To          time.Time      `json:"to" db:"window_to"`
	Channels    int            `json:"channels" db:"channels"`
	Sessions    int            `json:"sessions" db:"sessions"`
	Answered    int            `json:"answered" db:"answered"`
	Admins      int            `json:"admins" db:"admins"`
	Diagnostics map[string]int `json:"diagnostics" db:"diagnostics"`
}
