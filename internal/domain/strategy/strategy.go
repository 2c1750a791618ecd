// Package strategy defines Strategy Memory records: patterns of past
// (problem, action type) pairs with their observed success rates.
package strategy

import (
	"errors"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Strob0t/agentmode/internal/domain/action"
)

// DefaultMaxResults bounds query results when the caller does not.
const DefaultMaxResults = 5

const (
	similarityWeight = 70
	actionTypeWeight = 30
	maxKeyTokens     = 24
)

// ErrEmptyProblem is returned when an outcome has no problem description.
var ErrEmptyProblem = errors.New("problem description is required")

// Pattern is a remembered strategy and its track record.
type Pattern struct {
	ID                 string      `json:"id"`
	Key                string      `json:"key"`
	ProblemDescription string      `json:"problemDescription"`
	ActionType         action.Type `json:"actionType"`
	SuccessCount       int         `json:"successCount"`
	FailureCount       int         `json:"failureCount"`
	SuccessRate        float64     `json:"successRate"`
	LastError          string      `json:"lastError,omitempty"`
	LastUsed           time.Time   `json:"lastUsed"`
	CreatedAt          time.Time   `json:"createdAt"`
	Version            int         `json:"version"`
}

// Attempts returns the total number of recorded outcomes.
func (p *Pattern) Attempts() int { return p.SuccessCount + p.FailureCount }

// Query selects patterns relevant to a problem.
type Query struct {
	ProblemDescription string      `json:"problemDescription"`
	ActionType         action.Type `json:"actionType,omitempty"`
	MaxResults         int         `json:"maxResults,omitempty"`
}

// Match is a pattern with its relevance to a query, in [0,100].
type Match struct {
	Pattern   Pattern `json:"pattern"`
	Relevance int     `json:"relevance"`
}

// Outcome is the result of executing one step.
type Outcome struct {
	ProblemDescription string      `json:"problemDescription"`
	ActionType         action.Type `json:"actionType"`
	Success            bool        `json:"success"`
	Error              string      `json:"error,omitempty"`
	At                 time.Time   `json:"at"`
}

// Validate checks an outcome before it is recorded.
func (o Outcome) Validate() error {
	if strings.TrimSpace(o.ProblemDescription) == "" {
		return ErrEmptyProblem
	}
	if !o.ActionType.IsValid() {
		return &action.InvalidActionError{Type: o.ActionType, Err: action.ErrUnknownType}
	}
	return nil
}

// Apply folds an outcome into the pattern's statistics.
func (p *Pattern) Apply(o Outcome) {
	if o.Success {
		p.SuccessCount++
	} else {
		p.FailureCount++
		p.LastError = o.Error
	}
	p.SuccessRate = float64(p.SuccessCount) / float64(p.Attempts())
	p.LastUsed = o.At
}

// Key derives the identity of a pattern: the normalized problem tokens
// joined with the action type. Outcomes with the same key update one pattern.
// Past maxKeyTokens tokens the key keeps a readable prefix and a hash of the
// full token set.
func Key(problem string, t action.Type) string {
	toks := tokens(problem)
	if len(toks) <= maxKeyTokens {
		return string(t) + ":" + strings.Join(toks, " ")
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(strings.Join(toks, " ")))
	return string(t) + ":" + strings.Join(toks[:maxKeyTokens], " ") + "#" + strconv.FormatUint(h.Sum64(), 16)
}

// Relevance scores a pattern against a query: token overlap weighted 70,
// matching action type weighted 30.
func Relevance(q Query, p *Pattern) int {
	sim := jaccard(tokenSet(q.ProblemDescription), tokenSet(p.ProblemDescription))
	score := int(sim*similarityWeight + 0.5)
	if q.ActionType != "" && q.ActionType == p.ActionType {
		score += actionTypeWeight
	}
	return score
}

// Rank scores, filters and orders patterns for a query. Patterns with no
// textual overlap and a different action type are dropped. Ties break on
// success rate, then recency.
func Rank(q Query, patterns []Pattern) []Match {
	limit := q.MaxResults
	if limit <= 0 {
		limit = DefaultMaxResults
	}
	matches := make([]Match, 0, len(patterns))
	for i := range patterns {
		r := Relevance(q, &patterns[i])
		if r == 0 {
			continue
		}
		matches = append(matches, Match{Pattern: patterns[i], Relevance: r})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if a.Pattern.SuccessRate != b.Pattern.SuccessRate {
			return a.Pattern.SuccessRate > b.Pattern.SuccessRate
		}
		return a.Pattern.LastUsed.After(b.Pattern.LastUsed)
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "of": true, "and": true,
	"in": true, "on": true, "for": true, "with": true, "is": true, "it": true,
	"this": true, "that": true, "from": true, "into": true, "by": true,
}

func tokens(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_'
	})
	out := make([]string, 0, len(fields))
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, "._")
		if f == "" || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

func tokenSet(s string) map[string]bool {
	toks := tokens(s)
	set := make(map[string]bool, len(toks))
	for _, t := range toks {
		set[t] = true
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
