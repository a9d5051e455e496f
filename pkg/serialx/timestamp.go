package serialx

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Timestamp is a point in time decoded from a wire payload. A Timestamp that
// could not be parsed, or was never set, has Valid == false.
type Timestamp struct {
	time.Time
	Valid bool
}

// millisThreshold separates unix seconds from unix milliseconds. Second
// values above it would land past the year 5000.
const millisThreshold = 1e11

var layouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.DateOnly,
}

// NewTimestamp wraps t as a valid Timestamp.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t, Valid: true}
}

// Unix builds a valid Timestamp from unix seconds.
func Unix(sec int64) Timestamp {
	return NewTimestamp(time.Unix(sec, 0).UTC())
}

// ParseTimestamp converts a wire value into a Timestamp. It never fails:
// values it cannot interpret produce an invalid Timestamp.
//
// Numbers (and digit-only strings) are unix seconds, or unix milliseconds when
// they are too large to be seconds. Other strings are tried against RFC 3339
// and a few common SQL-style layouts.
func ParseTimestamp(v any) Timestamp {
	switch x := v.(type) {
	case nil:
		return Timestamp{}
	case Timestamp:
		return x
	case *Timestamp:
		if x == nil {
			return Timestamp{}
		}
		return *x
	case time.Time:
		if x.IsZero() {
			return Timestamp{}
		}
		return NewTimestamp(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return fromInt(i)
		}
		if f, err := x.Float64(); err == nil {
			return fromFloat(f)
		}
		return Timestamp{}
	case float64:
		return fromFloat(x)
	case float32:
		return fromFloat(float64(x))
	case int:
		return fromInt(int64(x))
	case int32:
		return fromInt(int64(x))
	case int64:
		return fromInt(x)
	case uint32:
		return fromInt(int64(x))
	case uint64:
		if x > math.MaxInt64 {
			return Timestamp{}
		}
		return fromInt(int64(x))
	case string:
		return parseString(x)
	default:
		return Timestamp{}
	}
}

func fromInt(i int64) Timestamp {
	if i > millisThreshold || i < -millisThreshold {
		return NewTimestamp(time.UnixMilli(i).UTC())
	}
	return Unix(i)
}

func fromFloat(f float64) Timestamp {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return Timestamp{}
	}
	if math.Abs(f) > millisThreshold {
		return NewTimestamp(time.UnixMilli(int64(f)).UTC())
	}
	sec, frac := math.Modf(f)
	return NewTimestamp(time.Unix(int64(sec), int64(frac*1e9)).UTC())
}

func parseString(s string) Timestamp {
	s = strings.TrimSpace(s)
	if s == "" {
		return Timestamp{}
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return fromInt(i)
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return NewTimestamp(t)
		}
	}
	return Timestamp{}
}

// MarshalJSON encodes the timestamp as unix seconds, or null when invalid.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if !t.Valid {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatInt(t.Unix(), 10)), nil
}

// UnmarshalJSON accepts anything ParseTimestamp does. Unparseable input yields
// an invalid Timestamp rather than an error.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		*t = Timestamp{}
		return nil
	}
	*t = ParseTimestamp(v)
	return nil
}

// IsZero reports whether the timestamp is invalid or holds the zero time.
func (t Timestamp) IsZero() bool {
	return !t.Valid || t.Time.IsZero()
}

func (t Timestamp) String() string {
	if !t.Valid {
		return "invalid timestamp"
	}
	return t.Time.Format(time.RFC3339)
}
