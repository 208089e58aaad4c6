package model

import (
	"bytes"
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// FlexString decodes a JSON string, number, or null into a string. Corpus
// metadata (pmcid, year) is not typed consistently across dumps.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = FlexString(n.String())
	return nil
}

// String returns the trimmed value.
func (f FlexString) String() string {
	return strings.TrimSpace(string(f))
}

// Record is a single unit read from the upstream corpus.
type Record struct {
	Title   string     `json:"title"`
	URL     string     `json:"url"`
	PMCID   FlexString `json:"pmcid"`
	DOI     FlexString `json:"doi"`
	Year    FlexString `json:"year"`
	Text    string     `json:"text"`
	Article string     `json:"article,omitempty"`
}

// Body returns the record payload, preferring text over article.
func (r Record) Body() string {
	if r.Text != "" {
		return r.Text
	}
	return r.Article
}

// Candidate is a record that passed the filter stage. Text is already
// truncated to the retention limit.
type Candidate struct {
	Title   string     `json:"title"`
	URL     string     `json:"url"`
	PMCID   FlexString `json:"pmcid,omitempty"`
	DOI     FlexString `json:"doi,omitempty"`
	Year    FlexString `json:"year,omitempty"`
	Text    string     `json:"text"`
	Matched []string   `json:"matched,omitempty"`
}

// NewCandidate builds a Candidate from r, keeping at most maxRunes of the
// payload. A maxRunes of zero or less keeps the whole payload.
func NewCandidate(r Record, maxRunes int, matched []string) Candidate {
	url := strings.TrimSpace(r.URL)
	if url == "" {
		url = r.PMCID.String()
	}
	return Candidate{
		Title:   r.Title,
		URL:     url,
		PMCID:   r.PMCID,
		DOI:     r.DOI,
		Year:    r.Year,
		Text:    TruncateRunes(r.Body(), maxRunes),
		Matched: matched,
	}
}

// Identity returns the dedup key of the candidate.
func (c Candidate) Identity() Identity {
	return IdentityOf(Subject{
		PrimaryID:   c.PMCID.String(),
		SecondaryID: c.DOI.String(),
		Locator:     c.URL,
		Title:       c.Title,
		Body:        c.Text,
	})
}

// TruncateRunes returns at most n runes of s without splitting a rune.
func TruncateRunes(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
