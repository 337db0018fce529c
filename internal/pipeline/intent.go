package pipeline

import (
	"strings"

	"github.com/parleyhq/parley/internal/tools"
)

// Intent is the classifier's decision tier.
type Intent string

const (
	// IntentNone offers no tools: pure conversation.
	IntentNone Intent = "none"

	// IntentComputational offers computational tools only.
	IntentComputational Intent = "computational"

	// IntentVisualization offers the full tool set including
	// presentation tools. Wins whenever both keyword sets match.
	IntentVisualization Intent = "visualization"
)

// IntentConfig holds the keyword tables. The exact lists are a
// configuration concern; defaults cover the built-in tools.
type IntentConfig struct {
	VisualizationKeywords []string
	ComputationalKeywords []string
}

func (c *IntentConfig) applyDefaults() {
	if len(c.VisualizationKeywords) == 0 {
		c.VisualizationKeywords = []string{
			"chart", "graph", "plot", "visualize", "visualise", "diagram", "draw",
		}
	}
	if len(c.ComputationalKeywords) == 0 {
		c.ComputationalKeywords = []string{
			"weather", "forecast", "temperature",
			"search", "look up", "google", "find out",
			"trivia", "quiz", "question me",
			"stats", "statistics", "leaderboard", "score", "rank",
			"latest", "current", "news", "today",
		}
	}
}

// IntentClassifier narrows the tool set before the first model call so
// irrelevant or costly tools are never offered.
type IntentClassifier struct {
	config IntentConfig
}

// NewIntentClassifier creates a classifier with the given keyword
// tables, falling back to built-in defaults.
func NewIntentClassifier(config IntentConfig) *IntentClassifier {
	config.applyDefaults()
	return &IntentClassifier{config: config}
}

// Classify is a pure function over the message text.
func (ic *IntentClassifier) Classify(text string) Intent {
	lower := strings.ToLower(text)
	if matchAny(lower, ic.config.VisualizationKeywords) {
		return IntentVisualization
	}
	if matchAny(lower, ic.config.ComputationalKeywords) {
		return IntentComputational
	}
	return IntentNone
}

// SelectTools maps the message to the tool descriptors offered to the
// model. None → empty set; visualization → full set; computational →
// presentation tools excluded.
func (ic *IntentClassifier) SelectTools(text string, registry *tools.Registry) (Intent, []tools.Descriptor) {
	intent := ic.Classify(text)
	switch intent {
	case IntentVisualization:
		return intent, registry.Descriptors(nil)
	case IntentComputational:
		return intent, registry.Descriptors(func(d tools.Descriptor) bool {
			return d.Category != tools.CategoryPresentation
		})
	default:
		return intent, nil
	}
}

func matchAny(lower string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
