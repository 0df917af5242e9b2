package corpus

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/radcoach/radcoach/internal/geometry"
)

// LocalizeCase is one localization exercise: ground-truth boxes keyed by
// canonical label. A label present with an empty box list is a presence-only
// finding. Immutable after load.
type LocalizeCase struct {
	ID           string
	Boxes        map[string][]geometry.Box
	Explanations map[string][]string
}

// HasLabel reports whether the ground truth contains the finding at all,
// with or without boxes.
func (c *LocalizeCase) HasLabel(label string) bool {
	_, ok := c.Boxes[label]
	return ok
}

// ReportCase is one report-writing exercise with its reference report.
type ReportCase struct {
	ID          string
	Findings    string
	Impressions string
	Comparison  string
	Indication  string
	Age         int // 0 when unknown
	Images      []string
}

// maxComparisonLen excludes report cases whose comparison-to-prior text is
// long enough to require the prior study.
const maxComparisonLen = 50

func (c *ReportCase) valid() bool {
	return c.Comparison == "" || len(c.Comparison) < maxComparisonLen
}

// Corpus is the read-only case store plus the fixed per-modality orderings.
// Loaded once at startup; safe for concurrent readers.
type Corpus struct {
	tax Taxonomy

	localize      map[string]*LocalizeCase
	localizeOrder []string

	reports     map[string]*ReportCase
	reportOrder []string
}

func (c *Corpus) Taxonomy() Taxonomy { return c.tax }

func (c *Corpus) LocalizeCase(id string) (*LocalizeCase, bool) {
	lc, ok := c.localize[id]
	return lc, ok
}

func (c *Corpus) ReportCase(id string) (*ReportCase, bool) {
	rc, ok := c.reports[id]
	return rc, ok
}

func (c *Corpus) LocalizeCount() int { return len(c.localizeOrder) }
func (c *Corpus) ReportCount() int   { return len(c.reportOrder) }

// LocalizeAt maps a learner's completed count to the case served next.
// Indexes past the end clamp to the last case and report exhausted=true:
// the corpus has no further material, which callers surface explicitly
// instead of treating the repeat as fresh content.
func (c *Corpus) LocalizeAt(index int) (string, bool) {
	return at(c.localizeOrder, index)
}

// ReportAt is LocalizeAt for the report ordering.
func (c *Corpus) ReportAt(index int) (string, bool) {
	return at(c.reportOrder, index)
}

func at(order []string, index int) (string, bool) {
	if len(order) == 0 {
		return "", true
	}
	if index < 0 {
		index = 0
	}
	if index >= len(order) {
		return order[len(order)-1], true
	}
	return order[index], false
}

// New builds a corpus from pre-parsed cases, preserving input order,
// de-duplicating by ID and applying validity filters.
func New(tax Taxonomy, localize []*LocalizeCase, reports []*ReportCase) *Corpus {
	c := &Corpus{
		tax:      tax,
		localize: make(map[string]*LocalizeCase, len(localize)),
		reports:  make(map[string]*ReportCase, len(reports)),
	}
	for _, lc := range localize {
		if lc.ID == "" || len(lc.Boxes) == 0 {
			continue
		}
		if _, dup := c.localize[lc.ID]; dup {
			continue
		}
		c.localize[lc.ID] = lc
		c.localizeOrder = append(c.localizeOrder, lc.ID)
	}
	for _, rc := range reports {
		if rc.ID == "" {
			continue
		}
		if _, dup := c.reports[rc.ID]; dup {
			continue
		}
		c.reports[rc.ID] = rc
		if rc.valid() {
			c.reportOrder = append(c.reportOrder, rc.ID)
		}
	}
	return c
}

// Load reads the localize and report datasets from JSON files.
func Load(tax Taxonomy, localizePath, reportPath string) (*Corpus, error) {
	lf, err := os.Open(localizePath)
	if err != nil {
		return nil, fmt.Errorf("open localize corpus: %w", err)
	}
	defer lf.Close()
	localize, err := parseLocalize(tax, lf)
	if err != nil {
		return nil, fmt.Errorf("parse localize corpus: %w", err)
	}

	rf, err := os.Open(reportPath)
	if err != nil {
		return nil, fmt.Errorf("open report corpus: %w", err)
	}
	defer rf.Close()
	reports, err := parseReports(rf)
	if err != nil {
		return nil, fmt.Errorf("parse report corpus: %w", err)
	}
	return New(tax, localize, reports), nil
}

type localizeFindingJSON struct {
	Labels      []string    `json:"labels"`
	Boxes       [][]float64 `json:"boxes"`
	Explanation string      `json:"medgemma_explanation"`
}

type localizeCaseJSON struct {
	ImageID  string                `json:"ImageID"`
	Findings []localizeFindingJSON `json:"findings"`
}

func parseLocalize(tax Taxonomy, r io.Reader) ([]*LocalizeCase, error) {
	var items []localizeCaseJSON
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, err
	}
	out := make([]*LocalizeCase, 0, len(items))
	for _, item := range items {
		if item.ImageID == "" {
			continue
		}
		lc := &LocalizeCase{
			ID:           item.ImageID,
			Boxes:        map[string][]geometry.Box{},
			Explanations: map[string][]string{},
		}
		for _, fnd := range item.Findings {
			boxes := geometry.Normalize(fnd.Boxes)
			for _, raw := range fnd.Labels {
				lbl, ok := tax.Canonical(raw)
				if !ok {
					continue
				}
				if len(boxes) > 0 {
					lc.Boxes[lbl] = append(lc.Boxes[lbl], boxes...)
				} else if _, exists := lc.Boxes[lbl]; !exists {
					lc.Boxes[lbl] = nil
				}
				if expl := strings.TrimSpace(fnd.Explanation); expl != "" {
					lc.Explanations[lbl] = append(lc.Explanations[lbl], expl)
				}
			}
		}
		out = append(out, lc)
	}
	return out, nil
}

type reportCaseJSON struct {
	Findings    string          `json:"Findings"`
	Impressions string          `json:"Impressions"`
	Comparison  string          `json:"Comparison"`
	Indication  string          `json:"Indication"`
	PatientAge  json.RawMessage `json:"PatientAge"`
	ImagePath   []string        `json:"ImagePath"`
}

func parseReports(r io.Reader) ([]*ReportCase, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	// dataset ships either as a map keyed by case ID or as a plain list
	byID := map[string]reportCaseJSON{}
	var order []string
	if err := json.Unmarshal(raw, &byID); err == nil {
		order = sortedKeys(byID)
	} else {
		var list []reportCaseJSON
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, err
		}
		for i, item := range list {
			id := strconv.Itoa(i)
			byID[id] = item
			order = append(order, id)
		}
	}
	out := make([]*ReportCase, 0, len(order))
	for _, id := range order {
		item := byID[id]
		rc := &ReportCase{
			ID:          id,
			Findings:    item.Findings,
			Impressions: item.Impressions,
			Comparison:  item.Comparison,
			Indication:  item.Indication,
			Age:         parseAge(item.PatientAge),
		}
		for _, p := range item.ImagePath {
			if base := filepath.Base(p); base != "" && base != "." {
				rc.Images = append(rc.Images, base)
			}
		}
		out = append(out, rc)
	}
	return out, nil
}

func sortedKeys(m map[string]reportCaseJSON) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// a JSON object carries no order; sorting keeps the sequence stable
	// across process restarts
	sort.Strings(keys)
	return keys
}

// parseAge accepts numeric ages and strings like "64 years"; 0 means unknown.
func parseAge(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return int(n)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0
	}
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if digits == "" {
		return 0
	}
	v, err := strconv.Atoi(digits)
	if err != nil {
		return 0
	}
	return v
}
