package serialx

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	t.Parallel()

	noon := time.Date(2020, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		in    any
		valid bool
		want  time.Time
	}{
		{"nil", nil, false, time.Time{}},
		{"unix seconds int", noon.Unix(), true, noon},
		{"unix seconds float", float64(noon.Unix()), true, noon},
		{"unix seconds json number", json.Number("1577880000"), true, noon},
		{"unix milliseconds", noon.UnixMilli(), true, noon},
		{"digit string", "1577880000", true, noon},
		{"rfc3339", "2020-01-01T12:00:00Z", true, noon},
		{"sql layout", "2020-01-01 12:00:00", true, noon},
		{"time value", noon, true, noon},
		{"garbage string", "not a date", false, time.Time{}},
		{"empty string", "", false, time.Time{}},
		{"bool", true, false, time.Time{}},
		{"object", map[string]any{"a": 1}, false, time.Time{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ts := ParseTimestamp(tt.in)
			require.Equal(t, tt.valid, ts.Valid)
			if tt.valid {
				require.True(t, tt.want.Equal(ts.Time), "got %s", ts.Time)
			}
		})
	}
}

func TestTimestampJSON(t *testing.T) {
	t.Parallel()

	t.Run("valid encodes unix seconds", func(t *testing.T) {
		b, err := json.Marshal(Unix(1577880000))
		require.NoError(t, err)
		require.Equal(t, "1577880000", string(b))
	})

	t.Run("invalid encodes null", func(t *testing.T) {
		b, err := json.Marshal(Timestamp{})
		require.NoError(t, err)
		require.Equal(t, "null", string(b))
	})

	t.Run("decode never fails", func(t *testing.T) {
		var payload struct {
			A Timestamp `json:"a"`
			B Timestamp `json:"b"`
			C Timestamp `json:"c"`
		}
		err := json.Unmarshal([]byte(`{"a": 1577880000, "b": "garbage", "c": null}`), &payload)
		require.NoError(t, err)
		require.True(t, payload.A.Valid)
		require.Equal(t, int64(1577880000), payload.A.Unix())
		require.False(t, payload.B.Valid)
		require.False(t, payload.C.Valid)
	})

	t.Run("invalid stringer", func(t *testing.T) {
		require.Equal(t, "invalid timestamp", Timestamp{}.String())
		require.True(t, Timestamp{}.IsZero())
	})
}
