package research

import (
	"fmt"
	"time"
)

// Config holds the knobs the research loop consumes.
type Config struct {
	MaxQueries           int           `json:"max_queries"`
	MaxIterations        int           `json:"max_iterations"`
	ConfidenceThreshold  int           `json:"confidence_threshold"`
	SearchMaxResults     int           `json:"search_max_results"`
	SearchDepth          string        `json:"search_depth"`
	MaxEvaluatorFailures int           `json:"max_evaluator_failures"`
	Concurrency          int           `json:"concurrency"`
	SearchTimeout        time.Duration `json:"search_timeout"`
	SynthesisTimeout     time.Duration `json:"synthesis_timeout"`
	Temperature          float64       `json:"temperature"`
	MaxTokens            int           `json:"max_tokens"`
}

// DefaultConfig returns the settings used when nothing is overridden.
func DefaultConfig() Config {
	return Config{
		MaxQueries:           5,
		MaxIterations:        10,
		ConfidenceThreshold:  8,
		SearchMaxResults:     5,
		SearchDepth:          "advanced",
		MaxEvaluatorFailures: 2,
		Concurrency:          4,
		SearchTimeout:        30 * time.Second,
		SynthesisTimeout:     2 * time.Minute,
		Temperature:          0.7,
		MaxTokens:            4096,
	}
}

// Validate checks that the config can drive a research request.
func (c Config) Validate() error {
	if c.MaxQueries < 1 {
		return fmt.Errorf("max queries must be at least 1, got %d", c.MaxQueries)
	}
	if c.MaxIterations < 1 {
		return fmt.Errorf("max iterations must be at least 1, got %d", c.MaxIterations)
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 10 {
		return fmt.Errorf("confidence threshold must be within [0,10], got %d", c.ConfidenceThreshold)
	}
	if c.SearchMaxResults < 1 {
		return fmt.Errorf("search max results must be at least 1, got %d", c.SearchMaxResults)
	}
	switch c.SearchDepth {
	case "basic", "advanced":
	default:
		return fmt.Errorf("search depth must be basic or advanced, got %q", c.SearchDepth)
	}
	if c.MaxEvaluatorFailures < 1 {
		return fmt.Errorf("max evaluator failures must be at least 1, got %d", c.MaxEvaluatorFailures)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	// Every search needs a deadline for the retrieval join to complete.
	if c.SearchTimeout <= 0 {
		return fmt.Errorf("search timeout must be positive, got %s", c.SearchTimeout)
	}
	return nil
}

// RetrievedItem is one search hit.
type RetrievedItem struct {
	URL     string  `json:"url"`
	Title   string  `json:"title"`
	Content string  `json:"content"`
	Score   float64 `json:"score,omitempty"`
}

// Source identifies a cited document. Sources are deduplicated by URL.
type Source struct {
	URL   string `json:"url"`
	Title string `json:"title"`
}

// SummaryRecord is the condensed result of one query.
type SummaryRecord struct {
	Query     string   `json:"query"`
	Text      string   `json:"text"`
	Sources   []Source `json:"sources"`
	NoResults bool     `json:"no_results,omitempty"`
}

// Phase is a state of the research state machine.
type Phase string

const (
	PhasePlanning     Phase = "PLANNING"
	PhaseRetrieving   Phase = "RETRIEVING"
	PhaseSummarizing  Phase = "SUMMARIZING"
	PhaseReflecting   Phase = "REFLECTING"
	PhaseSynthesizing Phase = "SYNTHESIZING"
	PhaseDone         Phase = "DONE"
)

// Termination records why the loop stopped.
type Termination string

const (
	TerminationNone              Termination = ""
	TerminationThreshold         Termination = "threshold"
	TerminationMaxIterations     Termination = "max_iterations"
	TerminationEvaluatorFailures Termination = "evaluator_failures"
	TerminationCancelled         Termination = "cancelled"
	TerminationPlanningFailed    Termination = "planning_failed"
)

// SoftFailure is an absorbed per-query or per-round error.
type SoftFailure struct {
	Iteration int    `json:"iteration"`
	Phase     Phase  `json:"phase"`
	Query     string `json:"query,omitempty"`
	Reason    string `json:"reason"`
}

// Result is what a research request hands back to its caller.
type Result struct {
	Report          string   `json:"report"`
	ConfidenceScore int      `json:"confidence_score"`
	Sources         []Source `json:"sources"`
	Iterations      int      `json:"iterations"`
}
