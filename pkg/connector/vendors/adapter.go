// Package vendors maps each helpdesk vendor's API onto canonical tickets and
// messages.
//
// An Adapter knows one vendor's pagination contract and payload shapes. It
// never talks HTTP directly: every call goes through a Requester (the shared
// connector client), so retries and auth are handled in one place. Adapters
// are created per sync cycle and may keep state across the pages of that
// cycle.
package vendors

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/discordwell/cliaas/pkg/connector/client"
	"github.com/discordwell/cliaas/pkg/errors"
	"github.com/discordwell/cliaas/pkg/json"
	"github.com/discordwell/cliaas/pkg/models"
)

// Requester is the subset of the connector client adapters depend on
type Requester interface {
	RequestInto(ctx context.Context, path string, opts *client.RequestOptions, out interface{}) error
}

// Page is one batch of normalized records
type Page struct {
	Tickets  []models.Ticket
	Messages []models.Message

	// Next is the token for the following page; empty when the stream is done
	Next string

	// Cursor, when non-empty, is a checkpoint that may be persisted once
	// this page has been stored.
	Cursor models.Cursor
}

// Adapter fetches and normalizes pages for one vendor
type Adapter interface {
	// FetchPage returns the page identified by pageToken; the empty token
	// is the first page of records changed since cursor.
	FetchPage(ctx context.Context, r Requester, cursor models.Cursor, pageToken string) (*Page, error)
}

// Factory creates a fresh Adapter for one sync cycle
type Factory func() Adapter

// maxNestedPages bounds the message pages followed for a single ticket
const maxNestedPages = 1000

// followPages walks nested next links starting at path until fetch returns
// an empty link. A repeated link or more than maxNestedPages pages is a data
// error, so a misbehaving vendor cannot keep a cycle busy forever.
func followPages(src, what, path string, fetch func(path string) (next string, err error)) error {
	seen := make(map[string]struct{})
	for pages := 0; path != ""; pages++ {
		if pages >= maxNestedPages {
			return errors.Newf(errors.ErrorTypeData, "%s: %s exceeded %d pages", src, what, maxNestedPages)
		}
		if _, dup := seen[path]; dup {
			return errors.Newf(errors.ErrorTypeData, "%s returned pagination link %q twice for %s", src, path, what)
		}
		seen[path] = struct{}{}

		next, err := fetch(path)
		if err != nil {
			return err
		}
		path = next
	}
	return nil
}

// ID decodes vendor identifiers that may be JSON numbers or strings
type ID string

// UnmarshalJSON accepts 123, "123" and null
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	*id = ID(string(b))
	return nil
}

// String returns the identifier as text
func (id ID) String() string { return string(id) }

// Timestamp decodes RFC3339 strings and unix seconds (integer or fractional)
type Timestamp struct {
	time.Time
}

// UnmarshalJSON accepts "2026-01-02T03:04:05Z", 1767322245 and 1767322245.123
func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		ts.Time = time.Time{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		ts.Time = parseTimeString(s)
		return nil
	}
	f, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return err
	}
	ts.Time = unixFloat(f)
	return nil
}

func parseTimeString(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.000-0700", "2006-01-02T15:04:05-0700", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return unixFloat(f)
	}
	return time.Time{}
}

func unixFloat(f float64) time.Time {
	// Millisecond epochs are far beyond any plausible seconds value
	if f > 1e12 {
		return time.UnixMilli(int64(f)).UTC()
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC()
}

// cursorTime reads a timestamp cursor; the zero cursor means no lower bound
func cursorTime(c models.Cursor) (time.Time, bool) {
	if c.IsZero() {
		return time.Time{}, false
	}
	t := parseTimeString(string(c))
	return t, !t.IsZero()
}

// timeCursor renders a timestamp cursor
func timeCursor(t time.Time) models.Cursor {
	if t.IsZero() {
		return ""
	}
	return models.Cursor(t.UTC().Format(time.RFC3339Nano))
}

// namedTag is the {"name": ...} tag shape several vendors share
type namedTag struct {
	Name string `json:"name"`
}

// highWater tracks the newest update seen during one cycle
type highWater struct {
	max time.Time
}

func (h *highWater) observe(t time.Time) {
	if t.After(h.max) {
		h.max = t
	}
}

// cursor returns the high-water mark, falling back to prev when nothing newer was seen
func (h *highWater) cursor(prev models.Cursor) models.Cursor {
	if h.max.IsZero() {
		return prev
	}
	if pt, ok := cursorTime(prev); ok && !h.max.After(pt) {
		return prev
	}
	return timeCursor(h.max)
}

// changedSince reports whether updated is newer than the cursor
func changedSince(updated time.Time, cursor models.Cursor) bool {
	since, ok := cursorTime(cursor)
	if !ok {
		return true
	}
	return updated.After(since)
}

func raw(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

func itoa(n int) string { return strconv.Itoa(n) }

func itoa64(n int64) string { return strconv.FormatInt(n, 10) }

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return def
	}
	return n
}
