package corpus

import (
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Taxonomy maps raw finding names onto the canonical label set used for
// grading. Names mapped to "OMIT" are excluded entirely. Non-localizable
// labels are graded by presence only, never by box overlap.
type Taxonomy struct {
	Groups         map[string]string `yaml:"groups"`
	Synonyms       map[string]string `yaml:"merge_synonyms"`
	NonLocalizable []string          `yaml:"non_localizable"`

	allowed     map[string]struct{}
	nonLocalSet map[string]struct{}
}

const omitLabel = "OMIT"

// DefaultTaxonomy is the built-in chest X-ray label set.
func DefaultTaxonomy() Taxonomy {
	t := Taxonomy{
		Groups: map[string]string{
			"Atelectasis":                     "Atelectasis/Fibrotic band",
			"Fibrotic band":                   "Atelectasis/Fibrotic band",
			"Cardiomegaly":                    "Cardiomegaly",
			"Consolidation":                   "Consolidation",
			"Edema":                           "Consolidation",
			"Infiltration":                    "Consolidation",
			"Lung Lesion":                     "Nodule/Mass",
			"Lung Opacity":                    "Consolidation",
			"Nodule":                          "Nodule/Mass",
			"Mass":                            "Nodule/Mass",
			"Pleural Effusion":                "Pleural effusion",
			"Pleural Other":                   "Pleural thickening",
			"Pleural Thickening":              "Pleural thickening",
			"Pneumonia":                       "Consolidation",
			"Pneumothorax":                    "Pneumothorax",
			"Support Devices":                 "Device/Foreign body",
			"Fracture":                        "Fracture",
			"Enlarged Cardiomediastinum":      "Cardiomegaly",
			"No Finding":                      omitLabel,
			"Scoliosis":                       "Scoliosis",
			"Hyperinflation":                  "Hyperinflation",
			"Hilar enlargement":               "Hilar enlargement",
			"Device/Foreign body":             "Device/Foreign body",
			"Postoperative change":            "Postoperative change",
			"Increased density":               "Increased density",
			"Hiatal hernia":                   "Hiatal hernia",
			"Interstitial pattern":            "Interstitial pattern",
			"Bone density abnormality/lesion": "Bone density abnormality/lesion",
			"Spinal curvature abnormality":    "Spinal curvature abnormality",
		},
		Synonyms: map[string]string{
			"Infiltration":  "Consolidation",
			"Fibrotic band": "Atelectasis/Fibrotic band",
			"Atelectasis":   "Atelectasis/Fibrotic band",
		},
		NonLocalizable: []string{
			"Pneumothorax",
			"Cardiomegaly",
			"Pleural effusion",
			"Hyperinflation",
			"Scoliosis",
			"Hilar enlargement",
		},
	}
	t.build()
	return t
}

// LoadTaxonomy reads a taxonomy YAML file. Missing file fields fall back to
// nothing; callers wanting the built-in set use DefaultTaxonomy.
func LoadTaxonomy(path string) (Taxonomy, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Taxonomy{}, err
	}
	var t Taxonomy
	if err := yaml.Unmarshal(buf, &t); err != nil {
		return Taxonomy{}, err
	}
	t.build()
	return t, nil
}

func (t *Taxonomy) build() {
	t.allowed = make(map[string]struct{})
	for _, v := range t.Groups {
		if v != omitLabel {
			t.allowed[v] = struct{}{}
		}
	}
	// synonym source names are accepted as submitted labels too
	for k := range t.Synonyms {
		t.allowed[k] = struct{}{}
	}
	t.nonLocalSet = make(map[string]struct{}, len(t.NonLocalizable))
	for _, l := range t.NonLocalizable {
		t.nonLocalSet[l] = struct{}{}
	}
}

// Canonical resolves a raw finding name to its canonical label. The second
// return is false for unknown names and names mapped to OMIT.
func (t Taxonomy) Canonical(name string) (string, bool) {
	if name == "" {
		return "", false
	}
	if m, ok := t.Synonyms[name]; ok {
		name = m
	}
	if g, ok := t.Groups[name]; ok {
		if g == omitLabel {
			return "", false
		}
		return g, true
	}
	if _, ok := t.allowed[name]; ok {
		return name, true
	}
	return "", false
}

func (t Taxonomy) IsNonLocalizable(label string) bool {
	_, ok := t.nonLocalSet[label]
	return ok
}

// Labels returns the full canonical label set, sorted.
func (t Taxonomy) Labels() []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(t.Groups))
	for _, v := range t.Groups {
		if v == omitLabel {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// LocalizableLabels returns canonical labels graded by box overlap, sorted.
func (t Taxonomy) LocalizableLabels() []string {
	var out []string
	for _, l := range t.Labels() {
		if !t.IsNonLocalizable(l) {
			out = append(out, l)
		}
	}
	return out
}

// NonLocalizableLabels returns presence-only labels, sorted.
func (t Taxonomy) NonLocalizableLabels() []string {
	var out []string
	for _, l := range t.Labels() {
		if t.IsNonLocalizable(l) {
			out = append(out, l)
		}
	}
	return out
}
