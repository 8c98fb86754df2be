package models_test

import (
	"testing"

	"github.com/ahelp-tools/ahelp-stats/pkg/models"
	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexID_Unmarshal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    models.FlexID
		wantErr bool
	}{
		{name: "string", input: `{"id":"1180000000000000000"}`, want: "1180000000000000000"},
		{name: "number", input: `{"id":1180000000000000000}`, want: "1180000000000000000"},
		{name: "null", input: `{"id":null}`, want: ""},
		{name: "missing", input: `{}`, want: ""},
		{name: "float", input: `{"id":1.5}`, wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var rec models.RawRecord
			err := sonic.Unmarshal([]byte(tt.input), &rec)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, rec.ID)
		})
	}
}

func TestFlexID_Snowflake(t *testing.T) {
	t.Parallel()

	id, err := models.FlexID("175928847299117063").Snowflake()
	require.NoError(t, err)
	assert.Equal(t, "175928847299117063", id.String())
	assert.Equal(t, 2016, id.Time().UTC().Year())

	_, err = models.FlexID("nope").Snowflake()
	require.Error(t, err)
}

func TestUniqueSorted(t *testing.T) {
	t.Parallel()

	assert.Nil(t, models.UniqueSorted(nil))
	assert.Nil(t, models.UniqueSorted([]string{"", ""}))
	assert.Equal(t, []string{"a", "b", "c"}, models.UniqueSorted([]string{"c", "a", "", "b", "a"}))
}
