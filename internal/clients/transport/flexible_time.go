package transport

import (
	"bytes"
	"fmt"
	"strings"
	"time"
)

// Vendor timestamps seen in the wild: RFC3339 from Replicate, offset-less
// fractional seconds from Leonardo, and space separated Postgres style.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

// FlexibleTime is a time that decodes from any of timeLayouts. Values
// without an offset are taken as UTC.
type FlexibleTime struct {
	time.Time
}

func (t *FlexibleTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}
	if len(b) < 2 || b[0] != '"' || b[len(b)-1] != '"' {
		return fmt.Errorf("invalid time JSON: %q", string(b))
	}

	s := strings.TrimSpace(string(b[1 : len(b)-1]))
	if s == "" {
		t.Time = time.Time{}
		return nil
	}

	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("invalid time %q", s)
}

func (t FlexibleTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(time.RFC3339Nano) + `"`), nil
}

// Until is the elapsed time from t to end, or zero when either is unset.
func (t FlexibleTime) Until(end FlexibleTime) time.Duration {
	if t.IsZero() || end.IsZero() || end.Before(t.Time) {
		return 0
	}
	return end.Sub(t.Time)
}
