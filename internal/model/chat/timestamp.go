package chat

import (
	"bytes"
	"fmt"
	"strconv"
	"time"
)

// zone-less layouts some backends emit for local date-times.
var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// Timestamp is a time.Time that tolerates the formats seen on the wire:
// RFC3339, zone-less ISO date-times (read as UTC) and epoch milliseconds.
type Timestamp struct {
	time.Time
}

// At wraps t as a UTC Timestamp.
func At(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// MarshalJSON encodes as RFC3339Nano in UTC. The zero value encodes as null.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(strconv.Quote(t.UTC().Format(time.RFC3339Nano))), nil
}

// UnmarshalJSON accepts a quoted date-time string, a number of epoch
// milliseconds, or null.
func (t *Timestamp) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	if data[0] != '"' {
		millis, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", data, err)
		}
		t.Time = time.UnixMilli(millis).UTC()
		return nil
	}

	raw, err := strconv.Unquote(string(data))
	if err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	parsed, err := ParseTimestamp(raw)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTimestamp parses the textual forms accepted by UnmarshalJSON.
func ParseTimestamp(raw string) (Timestamp, error) {
	if raw == "" {
		return Timestamp{}, nil
	}
	if parsed, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return At(parsed), nil
	}
	for _, layout := range localLayouts {
		if parsed, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return At(parsed), nil
		}
	}
	return Timestamp{}, fmt.Errorf("unsupported timestamp format %q", raw)
}
