package ratelimit

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Header names carrying the provider's quota window.
const (
	HeaderLimit     = "x-rate-limit-limit"
	HeaderRemaining = "x-rate-limit-remaining"
	HeaderReset     = "x-rate-limit-reset"
)

// Window is the quota snapshot reported by a single response.
type Window struct {
	Limit     int
	Remaining int
	// Reset is the epoch second at which the window refills.
	Reset int64
}

// ResetAt converts Reset into a time.
func (window Window) ResetAt() time.Time {
	return time.Unix(window.Reset, 0).UTC()
}

// Exhausted reports whether no calls remain in the window.
func (window Window) Exhausted() bool {
	return window.Remaining <= 0
}

// ParseWindow extracts the quota window. All three headers must be present and numeric.
func ParseWindow(header http.Header) (*Window, bool) {
	if header == nil {
		return nil, false
	}
	limit, limitOK := parseHeaderInt(header, HeaderLimit)
	remaining, remainingOK := parseHeaderInt(header, HeaderRemaining)
	reset, resetOK := parseHeaderInt(header, HeaderReset)
	if !limitOK || !remainingOK || !resetOK {
		return nil, false
	}
	return &Window{Limit: int(limit), Remaining: int(remaining), Reset: reset}, true
}

func parseHeaderInt(header http.Header, name string) (int64, bool) {
	raw := strings.TrimSpace(header.Get(name))
	if raw == "" {
		return 0, false
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}
