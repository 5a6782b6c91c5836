package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ReflectInput is the cumulative view the evaluator scores.
type ReflectInput struct {
	Topic         string
	Summaries     []SummaryRecord
	Iteration     int
	MaxIterations int
	Threshold     int
}

// Assessment is the evaluator's verdict on the research so far.
type Assessment struct {
	Score       int      `json:"score"`
	Feedback    string   `json:"feedback"`
	NextQueries []string `json:"next_queries,omitempty"`
}

// Complete reports whether the score reaches the threshold.
func (a Assessment) Complete(threshold int) bool {
	return a.Score >= threshold
}

// Evaluator scores research completeness over every summary collected so
// far, not only the latest round.
type Evaluator struct {
	gen *generator
}

// Evaluate returns ErrReflection when no score could be produced.
func (e *Evaluator) Evaluate(ctx context.Context, in ReflectInput) (Assessment, error) {
	e.gen.logger.Info("Starting reflection phase", "iteration", in.Iteration, "summaries", len(in.Summaries))

	var assessment Assessment
	// Temperature 0 keeps the score a function of the input state.
	out := e.gen.complete(ctx,
		evaluatorSystemPrompt+"\n\n# Response Format:\n"+assessmentSchema,
		buildReflectInput(in),
		0, true,
		func(content string) error {
			a, err := parseAssessment(content)
			if err != nil {
				return err
			}
			assessment = a
			return nil
		})
	if !out.OK() {
		return Assessment{}, fmt.Errorf("%w: %v", ErrReflection, out.Err)
	}

	if assessment.Complete(in.Threshold) {
		// Suggestions only matter when another round may follow.
		assessment.NextQueries = nil
	}
	e.gen.logger.Info("Reflection complete", "score", assessment.Score, "threshold", in.Threshold)
	return assessment, nil
}

func parseAssessment(content string) (Assessment, error) {
	var raw struct {
		Score       *float64 `json:"score"`
		Feedback    string   `json:"feedback"`
		NextQueries []string `json:"next_queries"`
		NextActions []string `json:"next_actions"`
	}
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return Assessment{}, fmt.Errorf("json parse error: %w", err)
	}
	if raw.Score == nil {
		return Assessment{}, errors.New("missing score")
	}
	if math.IsNaN(*raw.Score) {
		return Assessment{}, errors.New("score is not a number")
	}

	score := int(math.Round(*raw.Score))
	score = max(0, min(10, score))

	next := raw.NextQueries
	if len(next) == 0 {
		next = raw.NextActions
	}
	var cleaned []string
	for _, q := range next {
		if q = strings.TrimSpace(q); q != "" {
			cleaned = append(cleaned, q)
		}
	}

	return Assessment{
		Score:       score,
		Feedback:    strings.TrimSpace(raw.Feedback),
		NextQueries: cleaned,
	}, nil
}

func buildReflectInput(in ReflectInput) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research Topic: %s\n", in.Topic)
	fmt.Fprintf(&sb, "Iteration: %d/%d\n", in.Iteration, in.MaxIterations)
	fmt.Fprintf(&sb, "Completion threshold: %d\n\n", in.Threshold)
	fmt.Fprintf(&sb, "Accumulated findings (%d summaries):\n", len(in.Summaries))
	for i, s := range in.Summaries {
		status := ""
		if s.NoResults {
			status = " (no results)"
		}
		fmt.Fprintf(&sb, "\n%d. Query: %s%s\n%s\n", i+1, s.Query, status, s.Text)
		if len(s.Sources) > 0 {
			fmt.Fprintf(&sb, "Sources: %d\n", len(s.Sources))
		}
	}
	return sb.String()
}
