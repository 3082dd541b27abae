package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DefaultLanguage is assumed when a seed or raw row carries no language.
const DefaultLanguage = "en"

// PageChange is the outcome of comparing a fresh snapshot with the current
// dimension row.
type PageChange int

const (
	// PageInserted means no current row existed; a new one was opened.
	PageInserted PageChange = iota + 1
	// PageUnchanged means the title matched; the dimension was not touched.
	PageUnchanged
	// PageRetitled means the current row was closed and a new one opened.
	PageRetitled
)

func (c PageChange) String() string {
	switch c {
	case PageInserted:
		return "inserted"
	case PageUnchanged:
		return "unchanged"
	case PageRetitled:
		return "retitled"
	default:
		return "unknown"
	}
}

// PageOutcome reports what applying one snapshot did to the warehouse.
type PageOutcome struct {
	PageKey          int64
	Change           PageChange
	RevisionInserted bool
}

// pageSummary is the subset of the Wikipedia summary the warehouse reads.
// Revision and namespace arrive in more than one JSON shape.
type pageSummary struct {
	PageID    *int64          `json:"pageid"`
	Title     *string         `json:"title"`
	Revision  json.RawMessage `json:"revision"`
	Timestamp *string         `json:"timestamp"`
	Namespace json.RawMessage `json:"namespace"`
}

// ParsePageSnapshot validates a raw page row and extracts the snapshot the
// type-2 transform needs. A revision timestamp that cannot be parsed falls
// back to the fetch time so reprocessing stays deterministic.
func ParsePageSnapshot(raw RawPage) (PageSnapshot, error) {
	if len(raw.Payload) == 0 {
		return PageSnapshot{}, fmt.Errorf("%w: empty payload for page %q", ErrMalformedPayload, raw.Title)
	}

	var s pageSummary
	if err := json.Unmarshal(raw.Payload, &s); err != nil {
		return PageSnapshot{}, fmt.Errorf("%w: decode page summary %q: %v", ErrMalformedPayload, raw.Title, err)
	}
	if s.PageID == nil || *s.PageID <= 0 {
		return PageSnapshot{}, fmt.Errorf("%w: page %q has no pageid", ErrMalformedPayload, raw.Title)
	}
	if s.Title == nil || strings.TrimSpace(*s.Title) == "" {
		return PageSnapshot{}, fmt.Errorf("%w: page %q has no title", ErrMalformedPayload, raw.Title)
	}
	revision, err := parseRevisionID(s.Revision)
	if err != nil {
		return PageSnapshot{}, fmt.Errorf("%w: page %q: %v", ErrMalformedPayload, raw.Title, err)
	}

	lang := raw.Language
	if lang == "" {
		lang = DefaultLanguage
	}

	revisedAt := raw.FetchedAt.UTC()
	if s.Timestamp != nil {
		if t, err := time.Parse(time.RFC3339, strings.TrimSpace(*s.Timestamp)); err == nil {
			revisedAt = t.UTC()
		}
	}

	return PageSnapshot{
		Key:               PageKey{WikipediaPageID: *s.PageID, Language: lang},
		Title:             strings.TrimSpace(*s.Title),
		Namespace:         parseNamespace(s.Namespace),
		RevisionID:        revision,
		RevisionTimestamp: revisedAt,
		ContentLen:        raw.SizeBytes,
		FetchedAt:         raw.FetchedAt.UTC(),
		RawRef:            LineageRef{RawTable: "wikipedia_pages", RawID: raw.ID, Key: raw.Title},
	}, nil
}

// DecidePageChange applies the type-2 rules to the current row (nil when the
// natural key has never been seen) and the freshly observed title.
func DecidePageChange(current *PageVersion, title string) PageChange {
	switch {
	case current == nil:
		return PageInserted
	case current.Title == title:
		return PageUnchanged
	default:
		return PageRetitled
	}
}

// OpenVersion builds the new current dimension row for a snapshot.
func OpenVersion(snap PageSnapshot, at time.Time) PageVersion {
	return PageVersion{
		Key:       snap.Key,
		Title:     snap.Title,
		Namespace: snap.Namespace,
		ValidFrom: at,
		IsCurrent: true,
	}
}

// CloseVersion returns v closed at the given instant.
func CloseVersion(v PageVersion, at time.Time) PageVersion {
	v.ValidTo = &at
	v.IsCurrent = false
	return v
}

// Revision builds the revision fact for a snapshot attached to pageKey.
func (s PageSnapshot) Revision(pageKey int64) RevisionFact {
	return RevisionFact{
		PageKey:           pageKey,
		RevisionID:        s.RevisionID,
		RevisionTimestamp: s.RevisionTimestamp,
		ContentLen:        s.ContentLen,
		FetchedAt:         s.FetchedAt,
		RawRef:            s.RawRef,
	}
}

func parseRevisionID(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", fmt.Errorf("missing revision")
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if strings.TrimSpace(s) == "" {
			return "", fmt.Errorf("empty revision")
		}
		return strings.TrimSpace(s), nil
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return "", fmt.Errorf("revision is neither string nor number")
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return "", fmt.Errorf("revision %s is not an integer", n)
	}
	return n.String(), nil
}

func parseNamespace(raw json.RawMessage) int {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return 0
	}
	var obj struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.ID
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}
