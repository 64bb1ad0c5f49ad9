package buildgen

import (
	"math"
	"strings"
	"unicode"
)

type ComplexityLevel string

const (
	ComplexitySmall    ComplexityLevel = "small"
	ComplexityMedium   ComplexityLevel = "medium"
	ComplexityLarge    ComplexityLevel = "large"
	ComplexityTooLarge ComplexityLevel = "too_large"
)

// PhaseComplexity is derived from a Phase on demand and never persisted.
type PhaseComplexity struct {
	Level               ComplexityLevel `json:"level"`
	EstimatedTokens     int             `json:"estimated_tokens"`
	ShouldSplit         bool            `json:"should_split"`
	ComplexFeatureCount int             `json:"complex_feature_count"`
	Reasons             []string        `json:"reasons,omitempty"`
}

const (
	phaseOverheadTokens   = 2000
	featureBaseTokens     = 1500
	complexFeatureFactor  = 3
	smallTokenCeiling     = 6000
	mediumTokenCeiling    = 12000
	largeTokenCeiling     = 20000
	tooLargeFeatureCount  = 9
	splitFeatureCount     = 5
	splitComplexFeatures  = 1
	coreSimpleFeatures    = 3
	splitNameWords        = 4
	maxSiblingOffsetTotal = 0.9
	phaseNumberDecimals   = 6
)

// complexFeatureHints are matched case-insensitively as substrings of a feature description.
var complexFeatureHints = []string{
	"auth",
	"login",
	"sign up",
	"signup",
	"oauth",
	"payment",
	"checkout",
	"subscription",
	"billing",
	"real-time",
	"realtime",
	"websocket",
	"socket",
	"live update",
	"upload",
	"search",
	"filter",
	"pagination",
	"multi-step",
	"wizard",
	"drag and drop",
	"drag-and-drop",
	"notification",
	"calendar",
	"chart",
	"analytics",
}

// IsComplexFeature reports whether a feature matches the complex keyword vocabulary.
func IsComplexFeature(feature string) bool {
	text := strings.ToLower(strings.TrimSpace(feature))
	if text == "" {
		return false
	}
	for _, hint := range complexFeatureHints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}

// EstimateComplexity scores the expected generation cost of a phase.
func EstimateComplexity(phase Phase) PhaseComplexity {
	score := phaseOverheadTokens
	complexCount := 0
	features := 0
	for _, f := range phase.Features {
		if strings.TrimSpace(f) == "" {
			continue
		}
		features++
		if IsComplexFeature(f) {
			complexCount++
			score += featureBaseTokens * complexFeatureFactor
			continue
		}
		score += featureBaseTokens
	}

	out := PhaseComplexity{EstimatedTokens: score, ComplexFeatureCount: complexCount}
	switch {
	case score > largeTokenCeiling || features >= tooLargeFeatureCount:
		out.Level = ComplexityTooLarge
	case score > mediumTokenCeiling:
		out.Level = ComplexityLarge
	case score > smallTokenCeiling:
		out.Level = ComplexityMedium
	default:
		out.Level = ComplexitySmall
	}

	if out.Level == ComplexityTooLarge {
		out.Reasons = append(out.Reasons, "too_large")
	}
	if complexCount > splitComplexFeatures {
		out.Reasons = append(out.Reasons, "multiple_complex_features")
	}
	if features > splitFeatureCount {
		out.Reasons = append(out.Reasons, "many_features")
	}
	out.ShouldSplit = len(out.Reasons) > 0
	return out
}

// Split decomposes a phase that is too large into an ordered list of smaller phases.
//
// Phases that do not need splitting, or were themselves produced by Split, are returned unchanged as a
// single-element list. Children are numbered below the next number at the parent's precision, so the
// children of 2 stay below 3 and the children of 2.5 stay below 2.6.
func Split(phase Phase) []Phase {
	return SplitBelow(phase, 0)
}

// SplitBelow is Split with an explicit upper bound: children are numbered strictly below next.
// A next that is not above the parent's number is ignored.
func SplitBelow(phase Phase, next float64) []Phase {
	if phase.SplitFrom != nil || !EstimateComplexity(phase).ShouldSplit {
		return []Phase{phase.clone()}
	}

	simple := make([]string, 0, len(phase.Features))
	complexFeatures := make([]string, 0, len(phase.Features))
	for _, f := range phase.Features {
		if IsComplexFeature(f) {
			complexFeatures = append(complexFeatures, f)
		} else {
			simple = append(simple, f)
		}
	}

	children := make([]Phase, 0, 2+len(complexFeatures))
	if len(simple) > 0 {
		n := min(len(simple), coreSimpleFeatures)
		children = append(children, Phase{
			Name:        strings.TrimSpace(phase.Name) + " (Core)",
			Description: "Core features of " + strings.TrimSpace(phase.Name),
			Features:    append([]string(nil), simple[:n]...),
		})
		if len(simple) > coreSimpleFeatures {
			children = append(children, Phase{
				Name:        strings.TrimSpace(phase.Name) + " (Extended)",
				Description: "Remaining features of " + strings.TrimSpace(phase.Name),
				Features:    append([]string(nil), simple[coreSimpleFeatures:]...),
			})
		}
	}
	for _, f := range complexFeatures {
		children = append(children, Phase{
			Name:        leadingWords(f, splitNameWords),
			Description: strings.TrimSpace(f),
			Features:    []string{f},
		})
	}

	parent := phase.Number
	span := phaseNumberUnit(parent)
	if next > parent && next-parent < span {
		span = next - parent
	}
	step := span / 10
	if len(children) > 10 {
		step = span * maxSiblingOffsetTotal / float64(len(children)-1)
	}
	for i := range children {
		children[i].Number = roundPhaseNumber(parent + float64(i)*step)
		children[i].Status = PhaseStatusPending
		children[i].SplitFrom = &parent
	}
	return children
}

// phaseNumberUnit is the place value of the last decimal digit of n: 1 for 2, 0.1 for 2.5, 0.01 for 2.55.
func phaseNumberUnit(n float64) float64 {
	unit := 1.0
	for i := 0; i < phaseNumberDecimals-1; i++ {
		if math.Abs(n/unit-math.Round(n/unit)) < 1e-9 {
			break
		}
		unit /= 10
	}
	return unit
}

func roundPhaseNumber(v float64) float64 {
	const scale = 1e6
	return math.Round(v*scale) / scale
}

func leadingWords(text string, n int) string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == ',' || r == ';' || r == ':' || r == '.' || r == '(' || r == ')'
	})
	if len(words) > n {
		words = words[:n]
	}
	name := strings.Join(words, " ")
	if name == "" {
		return "Feature"
	}
	r := []rune(name)
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}
