package eval

import (
	"strings"

	"github.com/hirohiro424/sparkling/internal/models"
)

// conciseWordLimit is the word count a concise output must not exceed; score
// criteria decay past it.
const conciseWordLimit = 300

type CriterionResult struct {
	Passed      bool    `json:"pass"`
	Score       float64 `json:"score"`
	Weight      float64 `json:"weight"`
	Description string  `json:"desc"`
}

type CriteriaResult struct {
	Total   float64                    `json:"total"`
	Details map[string]CriterionResult `json:"details"`
}

// ScoreCriteria applies each criterion's keyword rule to output and returns
// the weighted mean of the scores, 0 when the weights sum to zero.
//
// Boolean rules: a description mentioning "bullet" needs a list marker, one
// mentioning "concise" needs at most 300 words, anything else needs
// non-blank output. Score criteria get min(1, 300/words) and pass at 0.6.
func ScoreCriteria(output string, criteria []models.Criterion) CriteriaResult {
	words := len(strings.Fields(output))
	res := CriteriaResult{Details: make(map[string]CriterionResult, len(criteria))}

	var total, weights float64
	for _, c := range criteria {
		r := CriterionResult{Weight: c.Weight, Description: c.Description}
		if c.Type == models.CriterionBoolean {
			desc := strings.ToLower(c.Description)
			switch {
			case strings.Contains(desc, "bullet"):
				r.Passed = containsAny(output, "- ", "•", "1.")
			case strings.Contains(desc, "concise"):
				r.Passed = words <= conciseWordLimit
			default:
				r.Passed = strings.TrimSpace(output) != ""
			}
			if r.Passed {
				r.Score = 1
			}
		} else {
			r.Score = min(1, max(0, float64(conciseWordLimit)/float64(max(1, words))))
			r.Passed = r.Score >= 0.6
		}
		res.Details[c.Key] = r
		total += r.Score * c.Weight
		weights += c.Weight
	}
	if weights > 0 {
		res.Total = total / weights
	}
	return res
}
