package config

import (
	"fmt"
	"strings"
	"time"
)

// Duration fields in the config file are Go duration strings ("500ms",
// "30s", "5m"). Every such field in pulsemon is a wait (a cadence, a
// timeout, a busy interval), so negative values are always rejected.

// ParseDuration reads an optional duration field. An empty value reports
// ok=false and leaves the decision about a fallback to the caller; a runner
// cadence treats that as "back-to-back", a timeout substitutes its default.
func ParseDuration(field, raw string) (d time.Duration, ok bool, err error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, false, nil
	}
	d, err = time.ParseDuration(s)
	if err != nil {
		return 0, false, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, false, fmt.Errorf("%s: %q is negative, waits must be >= 0", field, raw)
	}
	return d, true, nil
}

// DurationOrDefault resolves an optional duration field against its
// default. Unset and explicit zero both yield the default; a zero wait is
// never a useful timeout here.
func DurationOrDefault(field, raw string, def time.Duration) (time.Duration, error) {
	d, ok, err := ParseDuration(field, raw)
	if err != nil {
		return 0, err
	}
	if !ok || d == 0 {
		return def, nil
	}
	return d, nil
}
