package layerstack

import (
	"sort"
	"strings"

	"github.com/noema-systems/noema/internal/tokens"
)

// paragraphs splits text on blank lines, dropping empty fragments.
func paragraphs(text string) []string {
	raw := strings.Split(text, "\n\n")
	var out []string
	for _, p := range raw {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// entropyScore scores a paragraph at position index of count by information
// density (fraction of unique significant tokens) plus a recency bias
// favoring later paragraphs: 0.7·unique/total + 0.3·(index+1)/count.
func entropyScore(paragraph string, index, count int) float64 {
	terms := tokenPattern.FindAllString(paragraph, -1)
	if len(terms) == 0 {
		return 0.3 * float64(index+1) / float64(count)
	}

	unique := make(map[string]bool, len(terms))
	for _, t := range terms {
		unique[strings.ToLower(t)] = true
	}

	density := float64(len(unique)) / float64(len(terms))
	recency := float64(index+1) / float64(count)
	return 0.7*density + 0.3*recency
}

// SelectSeed picks the highest-scoring paragraphs from text under the
// entropy law, greedily filling up to 1.1×budget tokens, then re-sorts the
// selection by original paragraph order so the seed reads coherently. The
// top-scoring paragraph is always taken, even when it alone exceeds
// 1.1×budget, so non-blank text never yields an empty seed.
func SelectSeed(text string, budget int) string {
	paras := paragraphs(text)
	if len(paras) == 0 {
		return ""
	}

	type scored struct {
		index int
		text  string
		score float64
		tok   int
	}

	candidates := make([]scored, len(paras))
	for i, p := range paras {
		candidates[i] = scored{index: i, text: p, score: entropyScore(p, i, len(paras)), tok: tokens.EstimateString(p)}
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	limit := int(1.1 * float64(budget))
	var picked []scored
	total := 0
	for _, c := range candidates {
		if total+c.tok > limit && len(picked) > 0 {
			continue
		}
		picked = append(picked, c)
		total += c.tok
		if total >= limit {
			break
		}
	}

	sort.SliceStable(picked, func(i, j int) bool { return picked[i].index < picked[j].index })

	parts := make([]string, len(picked))
	for i, c := range picked {
		parts[i] = c.text
	}
	return strings.Join(parts, "\n\n")
}
