// Package predicate decides which records become annotation candidates.
package predicate

import (
	"os"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/corpus-cli/internal/model"
)

// DefaultKeywords are the topic patterns for ultrasound neuromodulation and
// sonogenetics literature.
var DefaultKeywords = []string{
	`\bsonogenetic`,
	`\bultrasound neuromod`,
	`\bfocused ultrasound\b`,
	`\bprestin\b`,
	`\bMscL\b`,
	`\bgas vesicle`,
	`\bacoustic reporter gene`,
	`\bmechanical index\b`,
	`\bPRF\b`,
	`\bduty cycle\b`,
}

// Predicate is a pure decision over a single record. Implementations must
// be safe for concurrent use.
type Predicate interface {
	Match(r model.Record) (model.Candidate, bool)
}

// Keywords matches records whose title or body hits any pattern,
// case-insensitively after NFKC normalization.
type Keywords struct {
	patterns []*regexp.Regexp
	sources  []string
	maxRunes int
}

// NewKeywords compiles patterns. maxRunes bounds the payload kept on the
// candidate; zero keeps it all.
func NewKeywords(patterns []string, maxRunes int) (*Keywords, error) {
	if len(patterns) == 0 {
		return nil, eris.New("predicate: no keywords")
	}
	k := &Keywords{maxRunes: maxRunes}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			return nil, eris.Wrapf(err, "predicate: compile %q", p)
		}
		k.patterns = append(k.patterns, re)
		k.sources = append(k.sources, p)
	}
	if len(k.patterns) == 0 {
		return nil, eris.New("predicate: no keywords")
	}
	return k, nil
}

// fold maps compatibility forms (fullwidth letters, ligatures) to their
// canonical equivalents so patterns see plain text.
func fold(s string) string {
	return norm.NFKC.String(s)
}

// Match reports every pattern that hits and, on any hit, the candidate
// built from r. The whole body is searched even though only the leading
// maxRunes are retained.
func (k *Keywords) Match(r model.Record) (model.Candidate, bool) {
	title := fold(r.Title)
	body := fold(r.Body())

	var matched []string
	for i, re := range k.patterns {
		if re.MatchString(title) || re.MatchString(body) {
			matched = append(matched, k.sources[i])
		}
	}
	if len(matched) == 0 {
		return model.Candidate{}, false
	}
	return model.NewCandidate(r, k.maxRunes, matched), true
}

// keywordFile accepts either a bare YAML list or a {keywords: [...]} map.
type keywordFile struct {
	Keywords []string `yaml:"keywords"`
}

// LoadKeywordsFile reads patterns from a YAML file.
func LoadKeywordsFile(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "predicate: read %s", path)
	}
	var list []string
	if err := yaml.Unmarshal(b, &list); err == nil && len(list) > 0 {
		return list, nil
	}
	var kf keywordFile
	if err := yaml.Unmarshal(b, &kf); err != nil {
		return nil, eris.Wrapf(err, "predicate: parse %s", path)
	}
	if len(kf.Keywords) == 0 {
		return nil, eris.Errorf("predicate: %s lists no keywords", path)
	}
	return kf.Keywords, nil
}
