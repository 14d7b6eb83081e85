package scoring

import (
	"math"
	"regexp"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	"slab-scout/internal/domain"
)

// Signal weights. A listing that hits every positive signal scores maxRaw.
const (
	weightNumber         = 3
	weightName           = 2
	weightSetFull        = 2
	weightSetPartial     = 1
	weightGradeExact     = 3
	weightGradeLoose     = 2
	weightAspect         = 2
	penaltyCompetitor    = -3
	penaltyDamage        = -1
	penaltyGradeMismatch = -2

	maxRaw = 12.0
)

var (
	competingGraders = regexp.MustCompile(`\b(bgs|beckett|cgc|sgc|csg|hga|gma)\b`)
	damageKeywords   = regexp.MustCompile(`\b(cracked|damaged|misprint|off[\s-]center|creased?|scratched|dented|miscut|water damage)\b`)
	graderAspectKeys = []string{"grading company", "professional grader", "graded"}
)

// Result is the confidence of one title against a card.
type Result struct {
	Score    float64
	Category domain.ConfidenceCategory
}

// Scorer rates how likely a listing title describes a given graded card.
type Scorer struct {
	grader          string
	gradeAnyPattern *regexp.Regexp

	// exactGrade caches the compiled exact-grade pattern per grade.
	exactGrade sync.Map
}

func NewScorer(grader string) *Scorer {
	grader = strings.ToLower(strings.TrimSpace(grader))
	if grader == "" {
		grader = strings.ToLower(domain.Grader)
	}
	return &Scorer{
		grader:          grader,
		gradeAnyPattern: regexp.MustCompile(regexp.QuoteMeta(grader) + `[\s-]*(?:gem\s*(?:mint|mt)\s*)?(\d+(?:\.\d+)?)`),
	}
}

// ScoreTitle is deterministic: the same inputs always give the same result.
func (s *Scorer) ScoreTitle(title string, card domain.CardSignature, aspects map[string]string) Result {
	text := strings.ToLower(strings.TrimSpace(title))
	card = card.Normalized()

	raw := 0
	if matchesNumber(text, card.Number) {
		raw += weightNumber
	}
	if name := primaryToken(card.Name); name != "" && strings.Contains(text, name) {
		raw += weightName
	}
	raw += setScore(text, card.Set)
	raw += s.gradeScore(text, card.Grade)
	if s.aspectCorroborates(aspects) {
		raw += weightAspect
	}
	if competingGraders.MatchString(text) {
		raw += penaltyCompetitor
	}
	if damageKeywords.MatchString(text) {
		raw += penaltyDamage
	}
	if s.differentGrade(text, card.Grade) {
		raw += penaltyGradeMismatch
	}

	score := math.Round(clamp(float64(raw), 0, maxRaw)/maxRaw*100) / 10
	return Result{Score: score, Category: Categorize(score)}
}

// ScoreListings attaches confidence to each listing in place. A nil slice
// yields an empty one.
func (s *Scorer) ScoreListings(listings []domain.MarketListing, card domain.CardSignature) []domain.MarketListing {
	if listings == nil {
		return []domain.MarketListing{}
	}
	for i := range listings {
		res := s.ScoreTitle(listings[i].Title, card, listings[i].Aspects)
		listings[i].Confidence = res.Score
		listings[i].ConfidenceCategory = res.Category
	}
	return listings
}

func Categorize(score float64) domain.ConfidenceCategory {
	switch {
	case score >= 8:
		return domain.ConfidenceHigh
	case score >= 5:
		return domain.ConfidenceMedium
	default:
		return domain.ConfidenceLow
	}
}

// HighestConfidence scans the lists in order; the first listing seen wins
// ties. It returns nil when every list is empty.
func HighestConfidence(lists ...[]domain.MarketListing) *domain.MarketListing {
	var best *domain.MarketListing
	for _, list := range lists {
		for i := range list {
			if best == nil || list[i].Confidence > best.Confidence {
				best = &list[i]
			}
		}
	}
	return best
}

func (s *Scorer) gradeScore(text, grade string) int {
	if grade == "" {
		return 0
	}
	if s.exactGradePattern(grade).MatchString(text) {
		return weightGradeExact
	}
	if containsToken(text, s.grader) && containsToken(text, grade) {
		return weightGradeLoose
	}
	return 0
}

func (s *Scorer) exactGradePattern(grade string) *regexp.Regexp {
	if re, ok := s.exactGrade.Load(grade); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(regexp.QuoteMeta(s.grader) + `[\s-]*(?:gem\s*(?:mint|mt)\s*)?` + regexp.QuoteMeta(grade) + `(?:[^0-9.]|$)`)
	actual, _ := s.exactGrade.LoadOrStore(grade, re)
	return actual.(*regexp.Regexp)
}

func (s *Scorer) differentGrade(text, grade string) bool {
	if grade == "" {
		return false
	}
	for _, m := range s.gradeAnyPattern.FindAllStringSubmatch(text, -1) {
		if m[1] != grade {
			return true
		}
	}
	return false
}

func (s *Scorer) aspectCorroborates(aspects map[string]string) bool {
	for k, v := range aspects {
		key := strings.ToLower(strings.TrimSpace(k))
		for _, want := range graderAspectKeys {
			if key != want {
				continue
			}
			value := strings.ToLower(strings.TrimSpace(v))
			if value == s.grader || containsToken(value, s.grader) {
				return true
			}
		}
	}
	return false
}

func matchesNumber(text, number string) bool {
	if number == "" {
		return false
	}
	for _, v := range numberVariants(number) {
		if containsToken(text, v) {
			return true
		}
	}
	return false
}

// numberVariants expands "004/102" into the spellings sellers use.
func numberVariants(number string) []string {
	variants := []string{number}
	add := func(v string) {
		if v == "" {
			return
		}
		for _, existing := range variants {
			if existing == v {
				return
			}
		}
		variants = append(variants, v)
	}

	numerator, denominator, hasSlash := strings.Cut(number, "/")
	stripped := trimLeadingZeros(numerator)
	if hasSlash {
		add(stripped + "/" + denominator)
		add(strings.ReplaceAll(number, "/", " "))
		add(stripped + " " + denominator)
	} else {
		add(stripped)
	}
	add("#" + numerator)
	add("#" + stripped)
	return variants
}

func trimLeadingZeros(s string) string {
	t := strings.TrimLeft(s, "0")
	if t == "" && s != "" {
		return "0"
	}
	return t
}

// primaryToken is the first word of the name, ignored when it is two
// runes or shorter.
func primaryToken(name string) string {
	fields := strings.Fields(name)
	if len(fields) == 0 || utf8.RuneCountInString(fields[0]) <= 2 {
		return ""
	}
	return fields[0]
}

func setScore(text, set string) int {
	if set == "" {
		return 0
	}
	if strings.Contains(text, set) {
		return weightSetFull
	}
	for _, word := range strings.Fields(set) {
		if len(word) > 3 && strings.Contains(text, word) {
			return weightSetPartial
		}
	}
	return 0
}

// containsToken reports whether token occurs in text without an
// alphanumeric character on either side.
func containsToken(text, token string) bool {
	if token == "" {
		return false
	}
	for offset := 0; offset < len(text); {
		i := strings.Index(text[offset:], token)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(token)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		offset = start + 1
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isAlnum(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isAlnum(r)
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
