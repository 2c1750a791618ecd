package service

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ErrPlanParse is returned when model output contains no decodable JSON object.
var ErrPlanParse = errors.New("could not parse model output")

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\n?(.*?)```")

// jsonCandidates returns the JSON object texts found in s, most specific
// first: fenced code blocks, then objects mentioning one of keys, then the
// outermost balanced braces.
func jsonCandidates(s string, keys ...string) []string {
	var out []string
	seen := make(map[string]bool)
	add := func(c string) {
		c = strings.TrimSpace(c)
		if c != "" && !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}

	for _, m := range fencedBlock.FindAllStringSubmatch(s, -1) {
		body := strings.TrimSpace(m[1])
		if strings.HasPrefix(body, "{") {
			add(body)
		}
	}

	objects := balancedObjects(s)
	for _, obj := range objects {
		for _, k := range keys {
			if strings.Contains(obj, `"`+k+`"`) {
				add(obj)
				break
			}
		}
	}

	if first := strings.IndexByte(s, '{'); first >= 0 {
		if last := strings.LastIndexByte(s, '}'); last > first {
			add(s[first : last+1])
		}
	}
	return out
}

// balancedObjects returns every brace-balanced object in s, outermost
// objects first in textual order, followed by nested ones. Braces inside
// string literals are ignored.
func balancedObjects(s string) []string {
	var (
		out     []string
		starts  []int
		inStr   bool
		escaped bool
		nested  []string
	)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			if len(starts) > 0 {
				inStr = true
			}
		case '{':
			starts = append(starts, i)
		case '}':
			if len(starts) == 0 {
				continue
			}
			start := starts[len(starts)-1]
			starts = starts[:len(starts)-1]
			if len(starts) == 0 {
				out = append(out, s[start:i+1])
			} else {
				nested = append(nested, s[start:i+1])
			}
		}
	}
	return append(out, nested...)
}

// decodeFirst returns the first candidate in s that decodes into a T and
// passes accept, repairing near-JSON (trailing commas, single quotes,
// comments) when a strict decode fails. A nil accept takes any candidate
// that decodes.
func decodeFirst[T any](s string, accept func(*T) bool, keys ...string) (*T, error) {
	for _, c := range jsonCandidates(s, keys...) {
		v, err := decodeCandidate[T](c)
		if err != nil {
			continue
		}
		if accept == nil || accept(v) {
			return v, nil
		}
	}
	return nil, ErrPlanParse
}

func decodeCandidate[T any](c string) (*T, error) {
	var v T
	err := json.Unmarshal([]byte(c), &v)
	if err == nil {
		return &v, nil
	}
	repaired, rerr := jsonrepair.JSONRepair(c)
	if rerr != nil {
		return nil, err
	}
	var r T
	if err := json.Unmarshal([]byte(repaired), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func hasAction(raw json.RawMessage) bool {
	return len(raw) > 0 && string(raw) != "null"
}
