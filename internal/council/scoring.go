package council

import (
	"math"
	"strings"
)

// ScoringStrategy rates how coherent a deliberation was. Implementations
// must be deterministic for identical input; the coordinator clamps the
// result to [0,100].
type ScoringStrategy interface {
	Score(topic string, perspectives []Perspective) float64
}

// ScoringFunc adapts a function to ScoringStrategy.
type ScoringFunc func(topic string, perspectives []Perspective) float64

// Score implements ScoringStrategy.
func (f ScoringFunc) Score(topic string, perspectives []Perspective) float64 {
	return f(topic, perspectives)
}

// HarmonicScoring is the default placeholder formula. It blends pairwise
// resonance (word overlap and harmony compatibility), harmony diversity and
// a keyword-based synergy factor. The weights carry no validated meaning.
type HarmonicScoring struct {
	// Compatibility between harmonies; missing pairs score 0.5.
	Compatibility map[string]map[string]float64
	// HarmonyCount is the size of the full harmony set used for diversity.
	HarmonyCount int
}

// NewHarmonicScoring returns the strategy with the built-in matrix.
func NewHarmonicScoring() HarmonicScoring {
	return HarmonicScoring{
		Compatibility: CompatibilityMatrix(),
		HarmonyCount:  len(Harmonies()),
	}
}

// CompatibilityMatrix returns the harmony compatibility table.
func CompatibilityMatrix() map[string]map[string]float64 {
	return map[string]map[string]float64{
		HarmonyTransparency: {HarmonyCoherence: 0.9, HarmonyResonance: 0.8, HarmonyAgency: 0.7, HarmonyVitality: 0.6, HarmonyMutuality: 0.8, HarmonyNovelty: 0.7},
		HarmonyCoherence:    {HarmonyTransparency: 0.9, HarmonyResonance: 0.8, HarmonyAgency: 0.7, HarmonyVitality: 0.7, HarmonyMutuality: 0.9, HarmonyNovelty: 0.6},
		HarmonyResonance:    {HarmonyTransparency: 0.8, HarmonyCoherence: 0.8, HarmonyAgency: 0.6, HarmonyVitality: 0.9, HarmonyMutuality: 0.9, HarmonyNovelty: 0.7},
		HarmonyAgency:       {HarmonyTransparency: 0.7, HarmonyCoherence: 0.7, HarmonyResonance: 0.6, HarmonyVitality: 0.8, HarmonyMutuality: 0.7, HarmonyNovelty: 0.9},
		HarmonyVitality:     {HarmonyTransparency: 0.6, HarmonyCoherence: 0.7, HarmonyResonance: 0.9, HarmonyAgency: 0.8, HarmonyMutuality: 0.8, HarmonyNovelty: 0.8},
		HarmonyMutuality:    {HarmonyTransparency: 0.8, HarmonyCoherence: 0.9, HarmonyResonance: 0.9, HarmonyAgency: 0.7, HarmonyVitality: 0.8, HarmonyNovelty: 0.7},
		HarmonyNovelty:      {HarmonyTransparency: 0.7, HarmonyCoherence: 0.6, HarmonyResonance: 0.7, HarmonyAgency: 0.9, HarmonyVitality: 0.8, HarmonyMutuality: 0.7},
	}
}

var synergyWords = []string{"harmony", "unity", "integration", "wholeness", "love"}

// Score implements ScoringStrategy.
func (h HarmonicScoring) Score(_ string, perspectives []Perspective) float64 {
	if len(perspectives) == 0 {
		return 0
	}
	overall := 0.4*h.resonance(perspectives) + 0.3*h.diversity(perspectives) + 0.3*synergy(perspectives)
	return ClampScore(overall)
}

func (h HarmonicScoring) resonance(ps []Perspective) float64 {
	var total float64
	var pairs int
	for i := range ps {
		for j := range ps {
			if i == j {
				continue
			}
			total += 0.6*wordOverlap(ps[i].Text, ps[j].Text) + 0.4*h.compatibility(ps[i].Harmony, ps[j].Harmony)
			pairs++
		}
	}
	if pairs == 0 {
		return 50
	}
	return total / float64(pairs) * 100
}

func (h HarmonicScoring) compatibility(a, b string) float64 {
	if v, ok := h.Compatibility[a][b]; ok {
		return v
	}
	return 0.5
}

func (h HarmonicScoring) diversity(ps []Perspective) float64 {
	n := h.HarmonyCount
	if n <= 0 {
		n = len(Harmonies())
	}
	unique := make(map[string]struct{}, len(ps))
	for _, p := range ps {
		unique[p.Harmony] = struct{}{}
	}
	return math.Min(1, float64(len(unique))/float64(n)) * 100
}

// synergy counts perspectives carrying at least three synergy words.
func synergy(ps []Perspective) float64 {
	var score float64
	for _, p := range ps {
		lower := strings.ToLower(p.Text)
		hits := 0
		for _, w := range synergyWords {
			if strings.Contains(lower, w) {
				hits++
			}
		}
		if 50+hits*10 > 70 {
			score += 0.2
		}
	}
	return math.Min(score*100, 100)
}

// wordOverlap is |A ∩ B| / max(|A|, |B|) over lowercase whitespace tokens.
func wordOverlap(a, b string) float64 {
	wa := wordSet(a)
	wb := wordSet(b)
	denom := math.Max(float64(len(wa)), float64(len(wb)))
	if denom == 0 {
		return 0
	}
	var shared int
	for w := range wa {
		if _, ok := wb[w]; ok {
			shared++
		}
	}
	return float64(shared) / denom
}

func wordSet(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// ClampScore bounds a score to [0,100]; NaN becomes 0.
func ClampScore(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
