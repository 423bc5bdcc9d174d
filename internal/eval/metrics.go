package eval

import (
	"math"

	"github.com/hirohiro424/sparkling/pkg/tokenizer"
)

const bleuMaxOrder = 4

// BLEU returns the sentence BLEU score of hyp against ref on a 0 to 100
// scale, with up to 4-grams, brevity penalty and exponential smoothing of
// zero n-gram matches.
func BLEU(hyp, ref string) float64 {
	sys := tokenizer.Words(hyp)
	refs := tokenizer.Words(ref)

	var correct, total [bleuMaxOrder]int
	anyCorrect := false
	for n := 1; n <= bleuMaxOrder; n++ {
		refCounts := counts(tokenizer.NGrams(refs, n))
		sysGrams := tokenizer.NGrams(sys, n)
		total[n-1] = len(sysGrams)
		for gram, c := range counts(sysGrams) {
			m := min(c, refCounts[gram])
			correct[n-1] += m
			if m > 0 {
				anyCorrect = true
			}
		}
	}
	if !anyCorrect {
		return 0
	}

	bp := 1.0
	if len(sys) < len(refs) {
		bp = math.Exp(1 - float64(len(refs))/float64(len(sys)))
	}

	var precisions [bleuMaxOrder]float64
	smooth := 1.0
	for n := 0; n < bleuMaxOrder; n++ {
		if total[n] == 0 {
			break
		}
		if correct[n] == 0 {
			smooth *= 2
			precisions[n] = 100 / (smooth * float64(total[n]))
		} else {
			precisions[n] = 100 * float64(correct[n]) / float64(total[n])
		}
	}

	var logSum float64
	for _, p := range precisions {
		if p == 0 {
			return 0
		}
		logSum += math.Log(p)
	}
	return bp * math.Exp(logSum/bleuMaxOrder)
}

// F1 is the token-set F1 of hyp against ref over lower-cased whitespace
// tokens.
func F1(hyp, ref string) float64 {
	h := set(tokenizer.Fields(hyp))
	r := set(tokenizer.Fields(ref))
	if len(h) == 0 || len(r) == 0 {
		return 0
	}
	tp := 0
	for tok := range h {
		if _, ok := r[tok]; ok {
			tp++
		}
	}
	if tp == 0 {
		return 0
	}
	precision := float64(tp) / float64(len(h))
	recall := float64(tp) / float64(len(r))
	return 2 * precision * recall / (precision + recall)
}

// Distinct is the ratio of unique to total n-grams of text, 0 for text
// shorter than n tokens.
func Distinct(text string, n int) float64 {
	grams := tokenizer.NGrams(tokenizer.Fields(text), n)
	if len(grams) == 0 {
		return 0
	}
	return float64(len(set(grams))) / float64(len(grams))
}

type MetricsResult struct {
	BLEU      *float64 `json:"bleu,omitempty"`
	F1        *float64 `json:"f1,omitempty"`
	Distinct1 float64  `json:"distinct_1"`
	Distinct2 float64  `json:"distinct_2"`
}

// Metrics scores hyp against ref. Without a reference only the distinct
// ratios are computed.
func Metrics(hyp, ref string) MetricsResult {
	res := MetricsResult{
		Distinct1: Distinct(hyp, 1),
		Distinct2: Distinct(hyp, 2),
	}
	if ref != "" {
		bleu, f1 := BLEU(hyp, ref), F1(hyp, ref)
		res.BLEU, res.F1 = &bleu, &f1
	}
	return res
}

func counts(grams []string) map[string]int {
	m := make(map[string]int, len(grams))
	for _, g := range grams {
		m[g]++
	}
	return m
}

func set(items []string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}
