package model

import (
	"crypto/md5"
	"encoding/hex"
	"strings"
)

// hashPrefixRunes is how much of the payload feeds the content-hash fallback.
const hashPrefixRunes = 500

// IdentityKind names the field an Identity was derived from.
type IdentityKind string

const (
	IdentityPMCID IdentityKind = "pmcid"
	IdentityDOI   IdentityKind = "doi"
	IdentityURL   IdentityKind = "url"
	IdentityTitle IdentityKind = "title"
	IdentityHash  IdentityKind = "md5"
)

// Identity is the deterministic dedup key of a record across runs, encoded
// as "<kind>:<value>".
type Identity string

// Kind returns the field the identity was derived from.
func (id Identity) Kind() IdentityKind {
	kind, _, _ := strings.Cut(string(id), ":")
	return IdentityKind(kind)
}

// Subject carries the identity-bearing fields of a record or candidate.
type Subject struct {
	PrimaryID   string
	SecondaryID string
	Locator     string
	Title       string
	Body        string
}

// IdentityOf derives an Identity from s. It tries the primary ID, the
// secondary ID, the locator and the title in that order, and falls back to
// an MD5 over the leading runes of the body. It never returns an empty value.
func IdentityOf(s Subject) Identity {
	fields := []struct {
		kind  IdentityKind
		value string
	}{
		{IdentityPMCID, s.PrimaryID},
		{IdentityDOI, s.SecondaryID},
		{IdentityURL, s.Locator},
		{IdentityTitle, s.Title},
	}
	for _, f := range fields {
		if v := strings.TrimSpace(f.value); v != "" {
			return Identity(string(f.kind) + ":" + v)
		}
	}
	sum := md5.Sum([]byte(TruncateRunes(s.Body, hashPrefixRunes)))
	return Identity(string(IdentityHash) + ":" + hex.EncodeToString(sum[:]))
}

// Identity returns the dedup key of the record. It matches the identity of
// the candidate built from it as long as the payload is retained beyond the
// hash prefix.
func (r Record) Identity() Identity {
	return IdentityOf(Subject{
		PrimaryID:   r.PMCID.String(),
		SecondaryID: r.DOI.String(),
		Locator:     r.URL,
		Title:       r.Title,
		Body:        r.Body(),
	})
}
