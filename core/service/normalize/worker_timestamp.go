package normalize

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// sourceLayout is the comma-separated layout used by the dashboard tables.
const sourceLayout = "2006-01-02,15:04:05"

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses a source timestamp as UTC. The bool is false when the
// value could not be parsed and now was substituted.
func ParseTimestamp(raw string, now time.Time) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return now.UTC(), false
	}

	if strings.Contains(s, ",") && !strings.Contains(s, "T") {
		if t, err := time.Parse(sourceLayout, s); err == nil {
			return t.UTC(), true
		}
		return now.UTC(), false
	}

	if strings.HasSuffix(s, "Z") {
		s = strings.TrimSuffix(s, "Z") + "+00:00"
	}
	for _, layout := range isoLayouts {
		// time.Parse treats layouts without a zone as UTC
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return now.UTC(), false
}

// SessionID groups one user's interactions of a day.
func SessionID(email, rawTimestamp string) string {
	prefix := rawTimestamp
	if len(prefix) > 10 {
		prefix = prefix[:10]
	}
	sum := md5.Sum([]byte(email + "_" + prefix))
	return hex.EncodeToString(sum[:])[:16]
}

// HashIP returns a short, non-reversible fingerprint of an IP address.
func HashIP(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])[:16]
}
