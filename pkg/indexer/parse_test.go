package indexer_test

import (
	"testing"
	"time"

	"github.com/ahelp-tools/ahelp-stats/pkg/indexer"
	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerNameFromFile(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path string
		want string
	}{
		{path: "data/ahelp-Титан [1234].json", want: "Титан"},
		{path: "ahelp-Союз-1 [77].json", want: "Союз-1"},
		{path: "/tmp/logs/phobos.json", want: "phobos"},
		{path: "ahelp- [1].json", want: "ahelp- [1]"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.path, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, indexer.ServerNameFromFile(tt.path))
		})
	}
}

func TestParseOutboxLine(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		line   string
		want   indexer.AdminInfo
		wantOK bool
	}{
		{
			name:   "role and name",
			line:   ":outbox_tray: **12:34:56** Модератор | Alice: on my way <@42>",
			want:   indexer.AdminInfo{Name: "Alice", Role: "Модератор", Text: "on my way <@42>"},
			wantOK: true,
		},
		{
			name:   "short time",
			line:   ":outbox_tray: 12:34 Bob: hi",
			want:   indexer.AdminInfo{Name: "Bob", Text: "hi"},
			wantOK: true,
		},
		{
			name:   "staff only",
			line:   ":outbox_tray: **01:02:03** (S) Carol: note",
			want:   indexer.AdminInfo{Name: "Carol", AdminOnly: true, Text: "note"},
			wantOK: true,
		},
		{
			name:   "staff marker on name",
			line:   "📤 Судья | Гейм-мастер | (S) Dave: ok",
			want:   indexer.AdminInfo{Name: "Dave", Role: "Судья | Гейм-мастер", AdminOnly: true, Text: "ok"},
			wantOK: true,
		},
		{
			name: "no author",
			line: ":outbox_tray: nothing here",
		},
		{
			name: "inbox",
			line: ":inbox_tray: Player: help",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, ok := indexer.ParseOutboxLine(tt.line)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestParseInboxLine(t *testing.T) {
	t.Parallel()

	player, ok := indexer.ParseInboxLine(":inbox_tray: **12:00:01** Player_1: my shuttle is stuck")
	require.True(t, ok)
	assert.Equal(t, "Player_1", player)

	_, ok = indexer.ParseInboxLine(":outbox_tray: Alice: hi")
	assert.False(t, ok)
}

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	want := time.Date(2025, 8, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		value string
		want  time.Time
	}{
		{value: "2025-08-01T12:00:00+00:00", want: want},
		{value: "2025-08-01T15:00:00+03:00", want: want},
		{value: "2025-08-01T12:00:00", want: want},
		{value: "2025-08-01 12:00:00.250000+00:00", want: want.Add(250 * time.Millisecond)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.value, func(t *testing.T) {
			t.Parallel()

			got, err := indexer.ParseTimestamp(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := indexer.ParseTimestamp("yesterday")
	require.ErrorIs(t, err, indexer.ErrInvalidTimestamp)
}

func TestMentions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"1", "2"}, indexer.Mentions("<@2> and <@!1> and <@2> and <#3>"))
	assert.Empty(t, indexer.Mentions("nobody"))
}

func TestExpand_Relay(t *testing.T) {
	t.Parallel()

	rec := &models.RawRecord{
		ID:        "1000000000000000000",
		CreatedAt: "2025-08-01T12:00:00+00:00",
		Embeds: []models.RawEmbed{{
			Description: ":inbox_tray: **12:00:00** Player: help\n" +
				"some wrapped text\n" +
				":outbox_tray: **12:00:05** Модератор | Alice: coming <@42>",
		}},
		Reactions: []models.RawReaction{{Emoji: "👍", Users: []models.FlexID{"7", ""}}},
	}

	out, err := indexer.Expand(rec, "titan/ahelp", "titan", "ahelp.json")
	require.NoError(t, err)
	require.Len(t, out.Messages, 2)

	first, second := out.Messages[0], out.Messages[1]
	assert.Equal(t, 0, first.Seq)
	assert.Equal(t, "Player", first.AuthorID)
	assert.Equal(t, []models.Reaction{{Emoji: "👍", Users: []string{"7"}}}, first.Reactions)

	assert.Equal(t, 1, second.Seq)
	assert.Equal(t, "Alice", second.AuthorID)
	assert.Equal(t, []string{"42"}, second.Mentions)
	assert.Equal(t, []string{"Модератор"}, second.Roles)
	assert.Nil(t, second.Reactions)
	assert.Equal(t, first.Timestamp, second.Timestamp)
	assert.Equal(t, snowflake.ID(1000000000000000000), second.ID)

	assert.Equal(t, []models.AdminRole{{AdminID: "Alice", ServerID: "titan", Role: "Модератор"}}, out.Roles)
}

func TestExpand_Plain(t *testing.T) {
	t.Parallel()

	rec := &models.RawRecord{
		ID:         "175928847299117063",
		AuthorID:   "99",
		AuthorName: "Alice#0001",
		Content:    ":outbox_tray: answered <@5>",
		Mentions:   []models.FlexID{"6"},
	}

	out, err := indexer.Expand(rec, "c", "s", "f.json")
	require.NoError(t, err)
	require.Len(t, out.Messages, 1)

	msg := out.Messages[0]
	assert.Equal(t, "99", msg.AuthorID)
	assert.Equal(t, []string{"5", "6"}, msg.Mentions)
	assert.Equal(t, 2016, msg.Timestamp.Year(), "timestamp falls back to the id")
}

func TestExpand_Errors(t *testing.T) {
	t.Parallel()

	_, err := indexer.Expand(&models.RawRecord{Content: "x"}, "c", "s", "f")
	require.ErrorIs(t, err, indexer.ErrMissingID)

	_, err = indexer.Expand(&models.RawRecord{ID: "175928847299117063", CreatedAt: "soon", Content: "x"}, "c", "s", "f")
	require.ErrorIs(t, err, indexer.ErrInvalidTimestamp)

	out, err := indexer.Expand(&models.RawRecord{ID: "175928847299117063"}, "c", "s", "f")
	require.NoError(t, err)
	assert.Empty(t, out.Messages)
}

func TestDecodeRecords(t *testing.T) {
	t.Parallel()

	records, malformed, err := indexer.DecodeRecords([]byte(`[
		{"id": "1", "content": "a"},
		{"id": 1.5},
		"not a record",
		{"id": 2, "content": "b"}
	]`))
	require.NoError(t, err)
	assert.Equal(t, 2, malformed)
	require.Len(t, records, 2)
	assert.Equal(t, models.FlexID("2"), records[1].ID)

	_, _, err = indexer.DecodeRecords([]byte(`{"messages": []}`))
	require.Error(t, err)
}
