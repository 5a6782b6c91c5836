package research

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectQueries(t *testing.T) {
	p := &Planner{maxQueries: 3}

	tests := []struct {
		name       string
		candidates []string
		issued     []string
		want       []string
	}{
		{
			name:       "trims and collapses whitespace",
			candidates: []string{"  solar   panels ", "wind"},
			want:       []string{"solar panels", "wind"},
		},
		{
			name:       "drops case-insensitive duplicates",
			candidates: []string{"Solar Panels", "solar panels", "SOLAR PANELS"},
			want:       []string{"Solar Panels"},
		},
		{
			name:       "prefers fresh queries",
			candidates: []string{"old one", "new one"},
			issued:     []string{"Old One"},
			want:       []string{"new one"},
		},
		{
			name:       "falls back to repeated queries",
			candidates: []string{"old one", "old two"},
			issued:     []string{"old one", "old two"},
			want:       []string{"old one", "old two"},
		},
		{
			name:       "caps at max queries",
			candidates: []string{"a", "b", "c", "d", "e"},
			want:       []string{"a", "b", "c"},
		},
		{
			name:       "skips blanks",
			candidates: []string{"", "   "},
			want:       nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := p.selectQueries(tt.candidates, PlanInput{Issued: tt.issued})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPlanRetriesOnceOnInvalidJSON(t *testing.T) {
	llm := newStubLLM()
	llm.plan = func(n int, _ string) (string, error) {
		if n == 1 {
			return "here are some queries", nil
		}
		return "```json\n{\"queries\": [\"lithium recycling\"]}\n```", nil
	}
	p := &Planner{gen: newTestGenerator(llm), maxQueries: 3}

	queries, err := p.Plan(context.Background(), PlanInput{Topic: "batteries", Iteration: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"lithium recycling"}, queries)
	assert.Equal(t, 2, llm.count(stagePlan))
}

func TestPlanFallsBackToSuggestions(t *testing.T) {
	llm := newStubLLM()
	llm.plan = func(int, string) (string, error) {
		return "", errors.New("rate limited")
	}
	p := &Planner{gen: newTestGenerator(llm), maxQueries: 2}

	queries, err := p.Plan(context.Background(), PlanInput{
		Topic:     "batteries",
		Suggested: []string{"sodium ion cells", "solid state electrolytes", "battery recycling"},
		Iteration: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"sodium ion cells", "solid state electrolytes"}, queries)
}

func TestPlanFailsWithoutFallback(t *testing.T) {
	llm := newStubLLM()
	llm.plan = func(int, string) (string, error) {
		return `{"queries": ["  "]}`, nil
	}
	p := &Planner{gen: newTestGenerator(llm), maxQueries: 3}

	_, err := p.Plan(context.Background(), PlanInput{Topic: "batteries", Iteration: 1})
	assert.ErrorIs(t, err, ErrPlanning)
}

func TestBuildPlannerInput(t *testing.T) {
	input := buildPlannerInput(PlanInput{
		Topic:     "batteries",
		Feedback:  "needs cost data",
		Suggested: []string{"cost per kWh"},
		Issued:    []string{"battery basics"},
		Iteration: 2,
	}, 4)

	assert.Contains(t, input, "Topic: batteries")
	assert.Contains(t, input, "between 1 and 4 queries")
	assert.Contains(t, input, "needs cost data")
	assert.Contains(t, input, "- cost per kWh")
	assert.Contains(t, input, "- battery basics")
}
