// Package intent implements the rule-based intent classifier that turns a
// free-text chat message into a scored intent, extracted parameters, and a
// proposed workflow.
package intent

import (
	"regexp"
	"strings"

	"github.com/tableflow/tableflow/pkg/models"
)

// minConfidence is the score below which a message classifies as unknown.
const minConfidence = 0.3

// IntentUnknown is returned when no rule scores above the threshold.
const IntentUnknown = "unknown"

// Classification is the result of classifying one message. The same input
// always yields the same classification.
type Classification struct {
	Intent       string
	Confidence   float64
	Params       map[string]any
	RequiresFile bool
	Response     string
	Steps        []models.ProposedStep
}

// pattern is one weighted keyword signal within a rule.
type pattern struct {
	re     *regexp.Regexp
	weight float64
}

// extractor pulls a named parameter out of the message text via the
// pattern's first capture group.
type extractor struct {
	param string
	re    *regexp.Regexp
	list  bool // split captured text on commas
}

// rule scores one intent kind and, on match, builds its workflow proposal.
type rule struct {
	intent       string
	patterns     []pattern
	extractors   []extractor
	requiresFile bool
	// buildSteps maps extracted params to proposed operations. Called only
	// when the rule wins classification.
	buildSteps func(params map[string]any) []models.ProposedStep
	// response renders the human-readable proposal text.
	response func(params map[string]any) string
}

// Classifier evaluates the fixed rule set against incoming messages.
type Classifier struct {
	rules []rule
}

// NewClassifier builds a classifier with the builtin rule set.
func NewClassifier() *Classifier {
	return &Classifier{rules: builtinRules()}
}

// Classify scores every rule against the message and returns the best match,
// or an unknown classification when nothing clears the threshold. Rules are
// evaluated in fixed order; on a score tie the earlier rule wins.
func (c *Classifier) Classify(text string) *Classification {
	normalized := strings.ToLower(strings.TrimSpace(text))

	var best *rule
	bestScore := 0.0
	for i := range c.rules {
		r := &c.rules[i]
		score := r.score(normalized)
		if score > bestScore {
			best = r
			bestScore = score
		}
	}

	if best == nil || bestScore < minConfidence {
		return &Classification{
			Intent:     IntentUnknown,
			Confidence: bestScore,
			Params:     map[string]any{},
			Response:   unknownResponse,
		}
	}

	params := best.extract(text)
	return &Classification{
		Intent:       best.intent,
		Confidence:   bestScore,
		Params:       params,
		RequiresFile: best.requiresFile,
		Response:     best.response(params),
		Steps:        best.buildSteps(params),
	}
}

// score sums matched pattern weights, capped at 1.0.
func (r *rule) score(normalized string) float64 {
	score := 0.0
	for _, p := range r.patterns {
		if p.re.MatchString(normalized) {
			score += p.weight
		}
	}
	if score > 1.0 {
		score = 1.0
	}
	return score
}

// extract runs the rule's extractors against the original (case-preserved)
// text so parameter values keep their casing.
func (r *rule) extract(text string) map[string]any {
	params := map[string]any{}
	for _, ex := range r.extractors {
		m := ex.re.FindStringSubmatch(text)
		if len(m) < 2 || m[1] == "" {
			continue
		}
		captured := strings.TrimSpace(m[1])
		if ex.list {
			parts := strings.Split(captured, ",")
			list := make([]string, 0, len(parts))
			for _, p := range parts {
				if p = strings.TrimSpace(p); p != "" {
					list = append(list, p)
				}
			}
			if len(list) > 0 {
				params[ex.param] = list
			}
			continue
		}
		params[ex.param] = captured
	}
	return params
}

func joinList(params map[string]any, key string) string {
	if list, ok := params[key].([]string); ok {
		return strings.Join(list, ", ")
	}
	return ""
}

func stringParam(params map[string]any, key, fallback string) string {
	if s, ok := params[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
