package research

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PlanInput is the read-only view the planner works from.
type PlanInput struct {
	Topic     string
	Feedback  string
	Suggested []string
	Issued    []string
	Iteration int
}

// Planner turns a topic, plus feedback from a previous round, into search
// queries.
type Planner struct {
	gen         *generator
	maxQueries  int
	temperature float64
}

// Plan returns between 1 and maxQueries distinct queries, or ErrPlanning.
func (p *Planner) Plan(ctx context.Context, in PlanInput) ([]string, error) {
	p.gen.logger.Info("Starting planning phase", "iteration", in.Iteration, "has_feedback", in.Feedback != "")

	var queries []string
	out := p.gen.complete(ctx,
		plannerSystemPrompt+"\n\n# Response Format:\n"+CreateSearchQueriesSchema(p.maxQueries),
		buildPlannerInput(in, p.maxQueries),
		p.temperature, true,
		func(content string) error {
			var resp struct {
				Queries []string `json:"queries"`
			}
			if err := json.Unmarshal([]byte(content), &resp); err != nil {
				return fmt.Errorf("json parse error: %w (content: %s)", err, content)
			}
			queries = p.selectQueries(resp.Queries, in)
			if len(queries) == 0 {
				return errors.New("no usable queries")
			}
			return nil
		})

	if !out.OK() {
		// Suggestions from the evaluator are still usable targets.
		if fallback := p.selectQueries(in.Suggested, in); len(fallback) > 0 {
			p.gen.logger.Warn("Planner failed, using evaluator suggestions", "error", out.Err, "queries", fallback)
			return fallback, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrPlanning, out.Err)
	}

	p.gen.logger.Info("Generated queries", "queries", queries)
	return queries, nil
}

// selectQueries normalizes candidates: trims, drops duplicates, prefers
// queries that were not issued before, and caps the count.
func (p *Planner) selectQueries(candidates []string, in PlanInput) []string {
	var fresh, repeated []string
	for _, q := range candidates {
		q = strings.Join(strings.Fields(q), " ")
		if q == "" || containsFold(fresh, q) || containsFold(repeated, q) {
			continue
		}
		if containsFold(in.Issued, q) {
			repeated = append(repeated, q)
			continue
		}
		fresh = append(fresh, q)
	}

	selected := fresh
	if len(selected) == 0 {
		selected = repeated
	}
	if len(selected) > p.maxQueries {
		selected = selected[:p.maxQueries]
	}
	return selected
}

func buildPlannerInput(in PlanInput, maxQueries int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Topic: %s\n", in.Topic)
	fmt.Fprintf(&sb, "Current Iteration: %d\n", in.Iteration)
	fmt.Fprintf(&sb, "Generate between 1 and %d queries.\n", maxQueries)
	if in.Feedback != "" {
		fmt.Fprintf(&sb, "\nFeedback from the previous round:\n%s\n", in.Feedback)
	}
	if len(in.Suggested) > 0 {
		sb.WriteString("\nSuggested angles:\n")
		for _, q := range in.Suggested {
			fmt.Fprintf(&sb, "- %s\n", q)
		}
	}
	if len(in.Issued) > 0 {
		sb.WriteString("\nAlready issued queries (do not repeat):\n")
		for _, q := range in.Issued {
			fmt.Fprintf(&sb, "- %s\n", q)
		}
	}
	return sb.String()
}
