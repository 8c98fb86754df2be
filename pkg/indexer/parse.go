package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/marker"
	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"github.com/bytedance/sonic"
)

var (
	ErrMissingID        = errors.New("record has no valid message id")
	ErrInvalidTimestamp = errors.New("record has no usable timestamp")
)

var (
	serverNamePattern = regexp.MustCompile(`ahelp-(.+?)\s*\[`)

	// :outbox_tray: **12:34:56** Role | Name: text
	outboxPattern = regexp.MustCompile(`(?::outbox_tray:|📤)\s*(?:\*\*)?(?:[\d:]{2,8})?\s*(?:\*\*)?\s*(.+?):\s*(.*)`)
	// :inbox_tray: **12:34** Player: text
	inboxPattern = regexp.MustCompile(`(?::inbox_tray:|📥)\s*(?:\*\*)?(?:[\d:]{2,8})?\s*(?:\*\*)?\s*(.+?):\s*(.*)`)

	staffPrefixPattern = regexp.MustCompile(`^\(S\)\s*`)
	mentionPattern     = regexp.MustCompile(`<@!?(\d+)>`)
)

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ServerNameFromFile extracts the server name from a relay log file name
// such as "ahelp-Титан [123].json", falling back to the base name.
func ServerNameFromFile(path string) string {
	base := filepath.Base(path)
	if match := serverNamePattern.FindStringSubmatch(base); match != nil {
		if name := strings.TrimSpace(match[1]); name != "" {
			return name
		}
	}
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ChannelIDFromFile derives a stable channel id for a log file.
func ChannelIDFromFile(serverName, path string) string {
	base := filepath.Base(path)
	return serverName + "/" + strings.TrimSuffix(base, filepath.Ext(base))
}

// DecodeRecords decodes a log file holding a JSON array of records. Records
// that do not decode are skipped and counted.
func DecodeRecords(data []byte) ([]models.RawRecord, int, error) {
	var raw []json.RawMessage
	if err := sonic.Unmarshal(data, &raw); err != nil {
		return nil, 0, fmt.Errorf("failed to parse JSON: %w", err)
	}

	records := make([]models.RawRecord, 0, len(raw))
	malformed := 0
	for _, item := range raw {
		var rec models.RawRecord
		if err := sonic.Unmarshal(item, &rec); err != nil {
			malformed++
			continue
		}
		records = append(records, rec)
	}

	return records, malformed, nil
}

// ParseTimestamp parses a created_at value. Values without a zone are UTC.
func ParseTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, value)
}

// NormalizeName strips the staff marker and bold markup from an admin name or role.
func NormalizeName(s string) string {
	s = staffPrefixPattern.ReplaceAllString(strings.TrimSpace(s), "")
	return strings.TrimSpace(strings.ReplaceAll(s, "**", ""))
}

// AdminInfo is the author part of an outbox relay line.
type AdminInfo struct {
	Name      string
	Role      string
	AdminOnly bool
	Text      string
}

// ParseOutboxLine extracts the admin from an outbox relay line.
func ParseOutboxLine(line string) (AdminInfo, bool) {
	match := outboxPattern.FindStringSubmatch(line)
	if match == nil {
		return AdminInfo{}, false
	}

	info := strings.TrimSpace(match[1])
	result := AdminInfo{
		AdminOnly: staffPrefixPattern.MatchString(info),
		Text:      strings.TrimSpace(match[2]),
	}

	parts := strings.Split(info, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	last := parts[len(parts)-1]
	if staffPrefixPattern.MatchString(strings.TrimPrefix(last, "**")) {
		result.AdminOnly = true
	}
	result.Name = NormalizeName(last)
	if len(parts) > 1 {
		result.Role = NormalizeName(strings.Join(parts[:len(parts)-1], " | "))
	}

	return result, result.Name != ""
}

// ParseInboxLine extracts the player name from an inbox relay line.
func ParseInboxLine(line string) (string, bool) {
	match := inboxPattern.FindStringSubmatch(line)
	if match == nil {
		return "", false
	}
	player := NormalizeName(match[1])
	return player, player != ""
}

// Mentions returns the distinct user ids mentioned in text.
func Mentions(text string) []string {
	var ids []string
	for _, match := range mentionPattern.FindAllStringSubmatch(text, -1) {
		ids = append(ids, match[1])
	}
	return models.UniqueSorted(ids)
}

// Expanded is the result of normalizing one raw record.
type Expanded struct {
	Messages []models.Message
	Roles    []models.AdminRole
}

// Expand turns a raw record into messages. A relay embed yields one message
// per marker line; any other record yields one message for its content.
// Records with empty bodies yield nothing.
func Expand(rec *models.RawRecord, channelID, serverID, filename string) (Expanded, error) {
	var out Expanded

	id, err := rec.ID.Snowflake()
	if err != nil || id == 0 {
		return out, fmt.Errorf("%w: %q", ErrMissingID, rec.ID)
	}

	ts := id.Time().UTC()
	if rec.CreatedAt != "" {
		parsed, err := ParseTimestamp(rec.CreatedAt)
		if err != nil {
			return out, err
		}
		ts = parsed
	}

	newMessage := func(seq int, body string) models.Message {
		return models.Message{
			ID:        id,
			Seq:       seq,
			ChannelID: channelID,
			ServerID:  serverID,
			Timestamp: ts,
			Body:      body,
			Filename:  filename,
		}
	}

	var lines []string
	for _, embed := range rec.Embeds {
		for _, line := range strings.Split(embed.Description, "\n") {
			if marker.IsMarkerLine(line) {
				lines = append(lines, strings.TrimSpace(line))
			}
		}
	}

	if len(lines) == 0 {
		body := strings.TrimSpace(rec.Content)
		if body == "" {
			return out, nil
		}

		msg := newMessage(0, body)
		msg.AuthorID = string(rec.AuthorID)
		msg.AuthorName = rec.AuthorName
		msg.AdminOnly = rec.AdminOnly
		msg.Reactions = convertReactions(rec.Reactions)

		mentions := make([]string, 0, len(rec.Mentions))
		for _, m := range rec.Mentions {
			mentions = append(mentions, string(m))
		}
		msg.Mentions = models.UniqueSorted(append(mentions, Mentions(body)...))

		out.Messages = append(out.Messages, msg)
		return out, nil
	}

	for seq, line := range lines {
		msg := newMessage(seq, line)

		kind := marker.Classify(line)
		switch {
		case kind.Has(marker.Outbox):
			// An unparseable outbox line keeps an empty author and is rejected downstream
			if admin, ok := ParseOutboxLine(line); ok {
				msg.AuthorID = admin.Name
				msg.AuthorName = admin.Name
				msg.AdminOnly = admin.AdminOnly
				msg.Mentions = Mentions(admin.Text)
				if admin.Role != "" {
					msg.Roles = []string{admin.Role}
					out.Roles = append(out.Roles, models.AdminRole{AdminID: admin.Name, ServerID: serverID, Role: admin.Role})
				}
			}
		case kind.Has(marker.Inbox):
			if player, ok := ParseInboxLine(line); ok {
				msg.AuthorID = player
				msg.AuthorName = player
			}
		}

		// Reactions belong to the relay message, counted once
		if seq == 0 {
			msg.Reactions = convertReactions(rec.Reactions)
		}

		out.Messages = append(out.Messages, msg)
	}

	return out, nil
}

func convertReactions(raw []models.RawReaction) []models.Reaction {
	if len(raw) == 0 {
		return nil
	}

	out := make([]models.Reaction, 0, len(raw))
	for _, r := range raw {
		users := make([]string, 0, len(r.Users))
		for _, u := range r.Users {
			if u != "" {
				users = append(users, string(u))
			}
		}
		if len(users) == 0 {
			users = nil
		}
		out = append(out, models.Reaction{Emoji: r.Emoji, Count: r.Count, Users: users})
	}
	return out
}
