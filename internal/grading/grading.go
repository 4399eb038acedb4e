// Package grading scores attempt responses against a bound question
// snapshot. Grade is a pure function: it never looks at live quiz content
// and identical inputs always produce identical results.
package grading

import (
	"math"
	"strconv"
	"strings"

	"attempt-service/internal/domain"
)

// Result is the outcome of grading one attempt.
type Result struct {
	Score int
	Total int
}

// Grade counts correct responses across the snapshot. Responses are matched
// to questions by index; a missing, nil, or unparseable response is simply
// incorrect, never an error.
func Grade(questions []domain.Question, responses []any) Result {
	res := Result{Total: len(questions)}
	for i, q := range questions {
		if i >= len(responses) {
			continue
		}
		if correct(q, responses[i]) {
			res.Score++
		}
	}
	return res
}

// Percentage derives the 2-decimal score percentage. Callers guarantee
// total > 0; zero-question quizzes are rejected before a session starts.
func Percentage(score, total int) float64 {
	return math.Round(float64(score)/float64(total)*100*100) / 100
}

func correct(q domain.Question, resp any) bool {
	switch q.Kind {
	case domain.KindMCQ:
		idx, ok := asOptionIndex(resp)
		return ok && idx == q.CorrectIndex
	case domain.KindNAT:
		v, ok := asNumber(resp)
		return ok && v == q.Expected
	}
	return false
}

// asOptionIndex accepts an integral number as an option index. JSON decoding
// hands numbers over as float64, so integral floats count; strings do not.
func asOptionIndex(resp any) (int, bool) {
	switch v := resp.(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		if v == math.Trunc(v) {
			return int(v), true
		}
	}
	return 0, false
}

// asNumber normalizes a numeric response: 42, "42" and 42.0 are equivalent.
func asNumber(resp any) (float64, bool) {
	switch v := resp.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}
