package reactions

import (
	"sort"

	"github.com/ahelp-tools/ahelp-stats/pkg/models"
)

// EmojiCount is the number of times one emoji was used.
type EmojiCount struct {
	Emoji string `json:"emoji"`
	Count int    `json:"count"`
}

// UserTally is one reacting user's activity.
type UserTally struct {
	UserID      string       `json:"user_id"`
	DisplayName string       `json:"display_name"`
	Total       int          `json:"total"`
	ByEmoji     []EmojiCount `json:"by_emoji"`
}

// ServerTally summarizes the reactions seen on one server.
type ServerTally struct {
	ServerID string `json:"server_id"`
	// Messages counts messages carrying at least one reaction.
	Messages int          `json:"messages"`
	Total    int          `json:"total"`
	ByEmoji  []EmojiCount `json:"by_emoji"`
	Users    []UserTally  `json:"users"`
}

// NameFunc resolves a user ID to a display name, returning "" when unknown.
type NameFunc func(userID string) string

type serverCounter struct {
	messages int
	emoji    map[string]int
	users    map[string]map[string]int
}

// Counter tallies reactions per server. It is not safe for concurrent use;
// counters built in parallel are combined with Merge.
type Counter struct {
	servers map[string]*serverCounter
}

// NewCounter creates an empty counter.
func NewCounter() *Counter {
	return &Counter{servers: make(map[string]*serverCounter)}
}

func (c *Counter) server(serverID string) *serverCounter {
	sc, ok := c.servers[serverID]
	if !ok {
		sc = &serverCounter{
			emoji: make(map[string]int),
			users: make(map[string]map[string]int),
		}
		c.servers[serverID] = sc
	}
	return sc
}

func (sc *serverCounter) addUser(userID, emoji string, n int) {
	byEmoji, ok := sc.users[userID]
	if !ok {
		byEmoji = make(map[string]int)
		sc.users[userID] = byEmoji
	}
	byEmoji[emoji] += n
}

// Add counts the reactions of msg.
func (c *Counter) Add(serverID string, msg *models.Message) {
	if len(msg.Reactions) == 0 {
		return
	}

	sc := c.server(serverID)
	counted := false
	for _, r := range msg.Reactions {
		if r.Emoji == "" {
			continue
		}
		n := max(r.Count, len(r.Users))
		if n == 0 {
			continue
		}
		counted = true
		sc.emoji[r.Emoji] += n
		for _, userID := range r.Users {
			if userID != "" {
				sc.addUser(userID, r.Emoji, 1)
			}
		}
	}
	if counted {
		sc.messages++
	}
}

// Merge folds other into c.
func (c *Counter) Merge(other *Counter) {
	for serverID, theirs := range other.servers {
		ours := c.server(serverID)
		ours.messages += theirs.messages
		for emoji, n := range theirs.emoji {
			ours.emoji[emoji] += n
		}
		for userID, byEmoji := range theirs.users {
			for emoji, n := range byEmoji {
				ours.addUser(userID, emoji, n)
			}
		}
	}
}

// Tally returns the per-server summaries ordered by server ID. Users and
// emoji are ordered by count, highest first.
func (c *Counter) Tally(names NameFunc) []ServerTally {
	out := make([]ServerTally, 0, len(c.servers))
	for serverID, sc := range c.servers {
		st := ServerTally{
			ServerID: serverID,
			Messages: sc.messages,
			ByEmoji:  sortedCounts(sc.emoji),
		}
		for _, ec := range st.ByEmoji {
			st.Total += ec.Count
		}

		for userID, byEmoji := range sc.users {
			ut := UserTally{
				UserID:      userID,
				DisplayName: displayName(names, userID),
				ByEmoji:     sortedCounts(byEmoji),
			}
			for _, ec := range ut.ByEmoji {
				ut.Total += ec.Count
			}
			st.Users = append(st.Users, ut)
		}
		sort.Slice(st.Users, func(i, j int) bool {
			if st.Users[i].Total != st.Users[j].Total {
				return st.Users[i].Total > st.Users[j].Total
			}
			return st.Users[i].UserID < st.Users[j].UserID
		})

		out = append(out, st)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].ServerID < out[j].ServerID
	})
	return out
}

func displayName(names NameFunc, userID string) string {
	if names != nil {
		if name := names(userID); name != "" {
			return name
		}
	}
	return models.PlaceholderName(userID)
}

func sortedCounts(m map[string]int) []EmojiCount {
	out := make([]EmojiCount, 0, len(m))
	for emoji, n := range m {
		out = append(out, EmojiCount{Emoji: emoji, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Emoji < out[j].Emoji
	})
	return out
}
