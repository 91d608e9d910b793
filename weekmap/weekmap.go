// Package weekmap holds the week-reference mapping document: which week
// reference page is which week number, which scorecard week page belongs
// to each week reference, and the date week 1 starts on.
//
// The document is data, not code. It is authored as YAML or as JSONC (JSON
// with comments and trailing commas) and can be reloaded while the server
// runs.
package weekmap

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultDocument []byte

const dateLayout = "2006-01-02"

// MaxWeek is the last week of a program.
const MaxWeek = 12

// Format is the syntax of a mapping document.
type Format string

const (
	FormatYAML  Format = "yaml"
	FormatJSONC Format = "jsonc"
)

// FormatFromPath picks the document format from a file extension. Anything
// that is not .json or .jsonc is treated as YAML.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".jsonc":
		return FormatJSONC
	default:
		return FormatYAML
	}
}

// document is the on-disk shape.
type document struct {
	StartDate      string            `yaml:"start_date" json:"start_date"`
	Weeks          map[string]int    `yaml:"weeks" json:"weeks"`
	ScorecardWeeks map[string]string `yaml:"scorecard_weeks" json:"scorecard_weeks"`
}

// Table is a parsed mapping document. A Table is immutable once built and
// safe for concurrent use.
type Table struct {
	startDate time.Time
	weeks     map[string]int
	scorecard map[string]string
}

// New builds a Table from literal maps. Keys may be given with or without
// dashes.
func New(startDate time.Time, weeks map[string]int, scorecard map[string]string) (*Table, error) {
	t := &Table{
		startDate: truncateDay(startDate),
		weeks:     make(map[string]int, len(weeks)),
		scorecard: make(map[string]string, len(scorecard)),
	}
	for id, n := range weeks {
		if n < 1 || n > MaxWeek {
			return nil, fmt.Errorf("week reference %s: week number %d outside 1-%d", id, n, MaxWeek)
		}
		t.weeks[normalizeID(id)] = n
	}
	for id, scorecardID := range scorecard {
		if scorecardID == "" {
			return nil, fmt.Errorf("week reference %s: empty scorecard week id", id)
		}
		t.scorecard[normalizeID(id)] = scorecardID
	}
	return t, nil
}

// Parse decodes a mapping document.
func Parse(data []byte, format Format) (*Table, error) {
	var doc document
	switch format {
	case FormatJSONC:
		if err := json.Unmarshal(jsonc.ToJSON(data), &doc); err != nil {
			return nil, fmt.Errorf("parse week map: %w", err)
		}
	case FormatYAML, "":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse week map: %w", err)
		}
	default:
		return nil, fmt.Errorf("parse week map: unknown format %q", format)
	}

	if doc.StartDate == "" {
		return nil, fmt.Errorf("parse week map: start_date is required")
	}
	start, err := time.Parse(dateLayout, doc.StartDate)
	if err != nil {
		return nil, fmt.Errorf("parse week map: start_date: %w", err)
	}
	return New(start, doc.Weeks, doc.ScorecardWeeks)
}

// Load reads and parses the mapping document at path.
func Load(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read week map %s: %w", path, err)
	}
	t, err := Parse(data, FormatFromPath(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return t, nil
}

// Default returns the table built from the embedded default document.
func Default() *Table {
	t, err := Parse(defaultDocument, FormatYAML)
	if err != nil {
		panic("weekmap: embedded default document: " + err.Error())
	}
	return t
}

// StartDate is the first day of week 1.
func (t *Table) StartDate() time.Time { return t.startDate }

// Len returns the number of week references with a known week number.
func (t *Table) Len() int { return len(t.weeks) }

// WeekNumber resolves a week reference page ID to its week number.
func (t *Table) WeekNumber(relationID string) (int, bool) {
	if relationID == "" {
		return 0, false
	}
	n, ok := t.weeks[normalizeID(relationID)]
	return n, ok
}

// ScorecardWeek resolves a week reference page ID to the scorecard week
// page that should be linked alongside it.
func (t *Table) ScorecardWeek(weekRefID string) (string, bool) {
	if weekRefID == "" {
		return "", false
	}
	id, ok := t.scorecard[normalizeID(weekRefID)]
	return id, ok
}

// CurrentWeek returns the week number containing now, counting the week
// that starts on StartDate as week 1. Dates before the start are week 0.
func (t *Table) CurrentWeek(now time.Time) int {
	day := truncateDay(now.In(time.UTC))
	if day.Before(t.startDate) {
		return 0
	}
	days := int(day.Sub(t.startDate).Hours() / 24)
	return days/7 + 1
}

// IsCurrentWeek reports whether week number n is the week containing now.
func (t *Table) IsCurrentWeek(n int, now time.Time) bool {
	return n > 0 && n == t.CurrentWeek(now)
}

func truncateDay(ts time.Time) time.Time {
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// normalizeID makes dashed and undashed page IDs compare equal.
func normalizeID(id string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(id), "-", ""))
}

// SameID reports whether two page IDs name the same page, ignoring dashes
// and case. Two empty IDs are not the same page.
func SameID(a, b string) bool {
	na := normalizeID(a)
	return na != "" && na == normalizeID(b)
}
