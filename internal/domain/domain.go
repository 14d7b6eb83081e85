package domain

import (
	"strings"
	"time"
)

// Grader is the certification company whose records this service looks up.
const Grader = "PSA"

// CertificationRecord is an immutable snapshot of a grading authority's
// certificate as returned by one fetch.
type CertificationRecord struct {
	CertNumber       string          `json:"certNumber"`
	SpecID           *int64          `json:"specId"`
	Subject          string          `json:"subject"`
	Brand            string          `json:"brand"`
	CardNumber       string          `json:"cardNumber"`
	Grade            string          `json:"grade"`
	GradeDescription string          `json:"gradeDescription,omitempty"`
	Variety          string          `json:"variety,omitempty"`
	Year             string          `json:"year"`
	Category         string          `json:"category"`
	Population       PopulationStats `json:"population"`
	ImageURL         *string         `json:"imageUrl"`
}

type PopulationStats struct {
	Total              int `json:"total"`
	TotalWithQualifier int `json:"totalWithQualifier"`
	Higher             int `json:"higher"`
}

// PopulationReport is the per-spec population breakdown.
type PopulationReport struct {
	SpecID             int64          `json:"specId"`
	Description        string         `json:"description,omitempty"`
	Total              int            `json:"total"`
	TotalWithQualifier int            `json:"totalWithQualifier"`
	Higher             int            `json:"higher"`
	Grades             map[string]int `json:"grades,omitempty"`
}

// CardSignature is the normalized projection of a card used for search
// queries and as a secondary cache key.
type CardSignature struct {
	Name   string `json:"name"`
	Set    string `json:"set"`
	Number string `json:"number"`
	Grade  string `json:"grade"`
}

// NewCardSignature lowercases and trims every field.
func NewCardSignature(name, set, number, grade string) CardSignature {
	return CardSignature{
		Name:   normalizeField(name),
		Set:    normalizeField(set),
		Number: normalizeField(number),
		Grade:  normalizeField(grade),
	}
}

// SignatureFromCert projects a certification record onto a CardSignature.
func SignatureFromCert(cert *CertificationRecord) CardSignature {
	if cert == nil {
		return CardSignature{}
	}
	return NewCardSignature(cert.Subject, cert.Brand, cert.CardNumber, cert.Grade)
}

// Normalized returns a copy with every field lowercased and trimmed.
func (c CardSignature) Normalized() CardSignature {
	return NewCardSignature(c.Name, c.Set, c.Number, c.Grade)
}

// IsZero reports whether every field is empty after normalization.
func (c CardSignature) IsZero() bool {
	n := c.Normalized()
	return n.Name == "" && n.Set == "" && n.Number == "" && n.Grade == ""
}

// String returns the pipe-joined normalized fields. Two signatures are
// equal iff their String values are equal.
func (c CardSignature) String() string {
	n := c.Normalized()
	return strings.Join([]string{n.Name, n.Set, n.Number, n.Grade}, "|")
}

// Equal compares signatures by their normalized form.
func (c CardSignature) Equal(other CardSignature) bool {
	return c.String() == other.String()
}

func normalizeField(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CertValidation is the outcome of a lightweight existence check.
type CertValidation struct {
	CertNumber string `json:"certNumber"`
	Valid      bool   `json:"valid"`
	Exists     bool   `json:"exists"`
}

// PopulationLookup wraps a population report with cache provenance.
type PopulationLookup struct {
	Population *PopulationReport `json:"population"`
	Cached     bool              `json:"cached"`
	FetchedAt  time.Time         `json:"fetchedAt"`
}
