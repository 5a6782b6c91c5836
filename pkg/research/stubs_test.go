package research

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tmc/langchaingo/llms"
)

type stage string

const (
	stagePlan       stage = "plan"
	stageSummarize  stage = "summarize"
	stageEvaluate   stage = "evaluate"
	stageSynthesize stage = "synthesize"
)

// stubLLM routes calls by system prompt. Handlers get the 1-based call number
// for their stage and the human message.
type stubLLM struct {
	mu    sync.Mutex
	calls map[stage]int

	plan       func(n int, input string) (string, error)
	summarize  func(n int, input string) (string, error)
	evaluate   func(n int, input string) (string, error)
	synthesize func(ctx context.Context, n int, input string) (string, error)
}

func newStubLLM() *stubLLM {
	return &stubLLM{
		calls: make(map[stage]int),
		plan: func(n int, input string) (string, error) {
			return fmt.Sprintf(`{"queries": ["r%[1]d q1", "r%[1]d q2", "r%[1]d q3"]}`, n), nil
		},
		summarize: func(_ int, input string) (string, error) {
			return fmt.Sprintf(`{"summary": "Findings for %s", "citations": [1]}`, queryLine(input)), nil
		},
		evaluate: func(int, string) (string, error) {
			return `{"score": 10, "feedback": "complete"}`, nil
		},
		synthesize: func(_ context.Context, _ int, input string) (string, error) {
			return "# Report\n\n" + input, nil
		},
	}
}

func (s *stubLLM) count(st stage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[st]
}

func (s *stubLLM) GenerateContent(ctx context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	if len(messages) < 2 {
		return nil, errors.New("expected system and human messages")
	}
	system, input := textOf(messages[0]), textOf(messages[1])

	var st stage
	switch {
	case strings.HasPrefix(system, plannerSystemPrompt):
		st = stagePlan
	case strings.HasPrefix(system, summarizerSystemPrompt):
		st = stageSummarize
	case strings.HasPrefix(system, evaluatorSystemPrompt):
		st = stageEvaluate
	case strings.HasPrefix(system, synthesizerSystemPrompt):
		st = stageSynthesize
	default:
		return nil, errors.New("unknown system prompt")
	}

	s.mu.Lock()
	s.calls[st]++
	n := s.calls[st]
	s.mu.Unlock()

	var (
		text string
		err  error
	)
	switch st {
	case stagePlan:
		text, err = s.plan(n, input)
	case stageSummarize:
		text, err = s.summarize(n, input)
	case stageEvaluate:
		text, err = s.evaluate(n, input)
	case stageSynthesize:
		text, err = s.synthesize(ctx, n, input)
	}
	if err != nil {
		return nil, err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: text}}}, nil
}

func (s *stubLLM) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, s, prompt, options...)
}

func textOf(m llms.MessageContent) string {
	var sb strings.Builder
	for _, p := range m.Parts {
		if tc, ok := p.(llms.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// queryLine extracts the query from a summarizer input.
func queryLine(input string) string {
	first, _, _ := strings.Cut(input, "\n")
	return strings.TrimPrefix(first, "Query: ")
}

// scores returns an evaluator handler that replays the given scores and
// then repeats the last one.
func scores(values ...int) func(int, string) (string, error) {
	return func(n int, _ string) (string, error) {
		v := values[min(n, len(values))-1]
		return fmt.Sprintf(`{"score": %d, "feedback": "needs more depth"}`, v), nil
	}
}

// fakeSearcher returns five items per query unless told to fail it.
type fakeSearcher struct {
	mu      sync.Mutex
	calls   []string
	fail    func(query string) bool
	items   int
	onQuery func(ctx context.Context, query string) error
}

func (f *fakeSearcher) Search(ctx context.Context, query string, opts SearchOptions) ([]RetrievedItem, error) {
	f.mu.Lock()
	f.calls = append(f.calls, query)
	f.mu.Unlock()

	if f.onQuery != nil {
		if err := f.onQuery(ctx, query); err != nil {
			return nil, err
		}
	}
	if f.fail != nil && f.fail(query) {
		return nil, fmt.Errorf("provider error for %q", query)
	}

	n := f.items
	if n == 0 {
		n = 5
	}
	slug := strings.ReplaceAll(query, " ", "-")
	out := make([]RetrievedItem, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, RetrievedItem{
			URL:     fmt.Sprintf("https://example.com/%s/%d", slug, i),
			Title:   fmt.Sprintf("%s result %d", query, i),
			Content: fmt.Sprintf("content about %s number %d", query, i),
		})
	}
	return out, nil
}

func (f *fakeSearcher) searched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.MaxQueries = 3
	cfg.MaxIterations = 3
	cfg.ConfidenceThreshold = 7
	cfg.SearchTimeout = time.Second
	cfg.SynthesisTimeout = 5 * time.Second
	return cfg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(cfg Config, llm llms.Model, s Searcher) *ResearchEngine {
	e := NewEngine(cfg, llm, s)
	e.Logger = discardLogger()
	e.retryDelay = 0
	return e
}

func newTestGenerator(llm llms.Model) *generator {
	g := newGenerator(llm, 0, discardLogger())
	g.retryDelay = 0
	return g
}

// stateRecorder collects every published snapshot.
type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, s)
}

func (r *stateRecorder) last() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.states[len(r.states)-1]
}

func (r *stateRecorder) phaseCount(p Phase) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, s := range r.states {
		if s.Phase == p {
			n++
		}
	}
	return n
}
