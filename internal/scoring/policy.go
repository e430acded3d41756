package scoring

import (
	"strings"

	"jlpt-exam-service/internal/domain"
)

// LevelPolicy weights the sections of one level and sets its pass mark.
// Both are fractions of the test's total score, so tests with different
// totals stay comparable.
type LevelPolicy struct {
	PassRatio float64
	Weights   map[domain.Section]float64
}

// MaxScore is the ceiling of section s for a test worth total points.
func (p LevelPolicy) MaxScore(s domain.Section, total float64) float64 {
	return p.Weights[s] * total
}

// PassScore is the pass mark for a test worth total points.
func (p LevelPolicy) PassScore(total float64) float64 {
	return p.PassRatio * total
}

func equalWeights() map[domain.Section]float64 {
	return map[domain.Section]float64{
		domain.SectionGrammarVocab: 1.0 / 3,
		domain.SectionReading:      1.0 / 3,
		domain.SectionListening:    1.0 / 3,
	}
}

func elementaryWeights() map[domain.Section]float64 {
	return map[domain.Section]float64{
		domain.SectionGrammarVocab: 80.0 / 180,
		domain.SectionReading:      40.0 / 180,
		domain.SectionListening:    60.0 / 180,
	}
}

// FallbackPolicy applies to levels without a configured policy.
var FallbackPolicy = LevelPolicy{PassRatio: 100.0 / 180, Weights: equalWeights()}

// DefaultLevels returns the pass marks expressed over a 180 point scale.
// N5 uses 100/180 like the fallback; the other levels carry the JLPT marks.
func DefaultLevels() map[string]LevelPolicy {
	return map[string]LevelPolicy{
		"N1": {PassRatio: 100.0 / 180, Weights: equalWeights()},
		"N2": {PassRatio: 90.0 / 180, Weights: equalWeights()},
		"N3": {PassRatio: 95.0 / 180, Weights: equalWeights()},
		"N4": {PassRatio: 90.0 / 180, Weights: elementaryWeights()},
		"N5": {PassRatio: 100.0 / 180, Weights: elementaryWeights()},
	}
}

// Policy resolves the LevelPolicy for a test level.
type Policy struct {
	levels map[string]LevelPolicy
}

// NewPolicy starts from DefaultLevels and applies overrides. An override
// without weights keeps the default weights of that level.
func NewPolicy(overrides map[string]LevelPolicy) Policy {
	levels := DefaultLevels()
	for name, o := range overrides {
		key := normalizeLevel(name)
		base, ok := levels[key]
		if !ok {
			base = FallbackPolicy
		}
		if o.PassRatio > 0 {
			base.PassRatio = o.PassRatio
		}
		if len(o.Weights) > 0 {
			base.Weights = o.Weights
		}
		levels[key] = base
	}
	return Policy{levels: levels}
}

// ForLevel returns the policy of level, falling back to FallbackPolicy.
func (p Policy) ForLevel(level string) LevelPolicy {
	if lp, ok := p.levels[normalizeLevel(level)]; ok {
		return lp
	}
	return FallbackPolicy
}

func normalizeLevel(level string) string {
	return strings.ToUpper(strings.TrimSpace(level))
}
