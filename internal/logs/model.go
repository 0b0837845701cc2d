// internal/logs/model.go
//
// Log record model and input sanitation.
//
// Context
// -------
// Every tenant store has one table, vlogs: an auto-increment id, a
// short type string, an opaque JSON data blob, and a timestamp.
// Records are immutable once written.
//
// All caller-supplied text passes through Sanitize before it reaches
// the database: control characters below 0x20 are stripped (newline,
// carriage return, and tab survive) and each field is truncated to its
// cap rather than rejected.
package logs

import (
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"
)

// Field length caps applied at write time.
const (
	MaxTypeLen     = 100
	MaxMessageLen  = 10000
	MaxNameLen     = 500
	MaxTitleLen    = 500
	MaxIDUniqueLen = 100
)

// dateLayout is the only accepted caller-supplied timestamp shape.
// Only the first 19 characters of the input are considered.
const dateLayout = "2006-01-02 15:04:05"

// Record is a row from a tenant's vlogs table.
type Record struct {
	ID   int64           `db:"id" json:"id"`
	Type string          `db:"type" json:"type"`
	Data json.RawMessage `db:"data" json:"data"`
	Date time.Time       `db:"date" json:"date"`
}

// Payload decodes the record's data blob.  Malformed blobs decode to
// the zero Payload rather than failing a whole page render.
func (r Record) Payload() Payload {
	var p Payload
	_ = json.Unmarshal(r.Data, &p)
	return p
}

// Payload is the structured part of a record's data column.
type Payload struct {
	Message    string `json:"logs_message"`
	Name       string `json:"name"`
	Title      string `json:"logs_title"`
	IDUnique   string `json:"idunique,omitempty"`
	TargetName string `json:"name_cible,omitempty"`
	TargetID   string `json:"idunique_cible,omitempty"`
}

// Entry is the ingestion request body.
type Entry struct {
	Type       string `json:"type"`
	Message    string `json:"message"`
	Name       string `json:"name"`
	Title      string `json:"title"`
	IDUnique   string `json:"idunique"`
	TargetName string `json:"name_cible"`
	TargetID   string `json:"idunique_cible"`
	Date       string `json:"date"`
}

// Sanitize strips disallowed control characters and truncates to max.
func Sanitize(s string, max int) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			continue
		}
		b.WriteRune(r)
	}
	out := b.String()
	if len(out) > max {
		out = out[:max]
		// Do not leave a split rune at the cut point.
		for len(out) > 0 && !utf8.ValidString(out) {
			out = out[:len(out)-1]
		}
	}
	return out
}

// parseDate interprets a caller-supplied timestamp, falling back to
// now when the value does not match the fixed layout.
func parseDate(raw string, now time.Time) time.Time {
	if raw == "" {
		return now
	}
	if len(raw) > len(dateLayout) {
		raw = raw[:len(dateLayout)]
	}
	t, err := time.Parse(dateLayout, raw)
	if err != nil {
		return now
	}
	return t
}
