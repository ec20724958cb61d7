package cache

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultTTL is the TTL used when the caller passes none and the response
// carries no expiry headers.
const DefaultTTL = 5 * time.Minute

// NewEntry builds an entry from a response. The expiry is taken from
// Cache-Control max-age, then the Expires header, then defaultTTL.
func NewEntry(statusCode int, header http.Header, body []byte, defaultTTL time.Duration) *Entry {
	now := time.Now()
	return &Entry{
		Data:       body,
		StatusCode: statusCode,
		Expires:    parseExpires(header, now, defaultTTL),
		CachedAt:   now,
	}
}

// Cacheable reports whether a response may be stored. Only successful
// responses without Cache-Control no-store qualify.
func Cacheable(statusCode int, header http.Header) bool {
	if statusCode != http.StatusOK {
		return false
	}
	for _, directive := range cacheControl(header) {
		if directive == "no-store" || directive == "no-cache" {
			return false
		}
	}
	return true
}

// parseExpires returns the expiry time for a response received at now.
func parseExpires(header http.Header, now time.Time, defaultTTL time.Duration) time.Time {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}

	for _, directive := range cacheControl(header) {
		if v, ok := strings.CutPrefix(directive, "max-age="); ok {
			if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
				return now.Add(time.Duration(secs) * time.Second)
			}
		}
	}

	expiresStr := header.Get("Expires")
	if expiresStr == "" {
		return now.Add(defaultTTL)
	}
	expires, err := http.ParseTime(expiresStr)
	if err != nil {
		return now.Add(defaultTTL)
	}
	if expires.Before(now) {
		return now
	}
	return expires
}

func cacheControl(header http.Header) []string {
	raw := header.Get("Cache-Control")
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	for i, p := range parts {
		parts[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return parts
}
