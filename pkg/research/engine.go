package research

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"

	"github.com/mikeboe/research-agent/pkg/metrics"
)

// ResearchEngine drives one research request through the
// PLANNING → RETRIEVING → SUMMARIZING → REFLECTING loop and the final
// SYNTHESIZING step. It is the only writer of the research state.
type ResearchEngine struct {
	Config   Config
	LLM      llms.Model
	Searcher Searcher
	// FastLLM, when set, serves the per-query summaries.
	FastLLM       llms.Model
	Logger        *slog.Logger
	OnStateUpdate func(state State)

	retryDelay time.Duration
}

func NewEngine(cfg Config, llm llms.Model, searcher Searcher) *ResearchEngine {
	return &ResearchEngine{
		Config:     cfg,
		LLM:        llm,
		Searcher:   searcher,
		Logger:     slog.Default(),
		retryDelay: time.Second,
	}
}

type stages struct {
	planner     *Planner
	fanout      *FanOut
	summarizer  *Summarizer
	evaluator   *Evaluator
	synthesizer *Synthesizer
}

func (e *ResearchEngine) buildStages() stages {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gen := newGenerator(e.LLM, e.Config.MaxTokens, logger)
	gen.retryDelay = e.retryDelay

	fast := gen
	if e.FastLLM != nil {
		fast = newGenerator(e.FastLLM, e.Config.MaxTokens, logger)
		fast.retryDelay = e.retryDelay
	}

	return stages{
		planner:     &Planner{gen: gen, maxQueries: e.Config.MaxQueries, temperature: e.Config.Temperature},
		summarizer:  &Summarizer{gen: fast, concurrency: e.Config.Concurrency, temperature: e.Config.Temperature},
		evaluator:   &Evaluator{gen: gen},
		synthesizer: &Synthesizer{gen: gen, temperature: e.Config.Temperature},
		fanout: &FanOut{
			searcher:    e.Searcher,
			opts:        SearchOptions{MaxResults: e.Config.SearchMaxResults, Depth: e.Config.SearchDepth},
			concurrency: e.Config.Concurrency,
			timeout:     e.Config.SearchTimeout,
			retryDelay:  e.retryDelay,
			logger:      logger,
		},
	}
}

// Run researches topic until the evaluator is confident enough, the
// iteration ceiling is hit, the evaluator keeps failing, or ctx is done, and
// then synthesizes the report. Cancellation still yields a report built from
// the rounds completed so far. Fatal failures are returned as *RequestError.
func (e *ResearchEngine) Run(ctx context.Context, topic string) (Result, error) {
	if err := e.Config.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid research config: %w", err)
	}
	if e.LLM == nil || e.Searcher == nil {
		return Result{}, errors.New("research engine needs an LLM and a searcher")
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Result{}, errors.New("topic cannot be empty")
	}

	start := time.Now()
	st := e.buildStages()
	state := NewState(topic)
	e.logger().Info("Starting research loop", "topic", topic, "max_iterations", e.Config.MaxIterations, "threshold", e.Config.ConfidenceThreshold)
	e.publish(state)

	for {
		next, err := e.round(ctx, st, state)
		if err != nil {
			next.Phase = PhaseDone
			e.publish(next)
			e.finish(next, start)
			res := next.result()
			return res, &RequestError{Err: err, Partial: res}
		}
		state = next
		if state.Termination != TerminationNone {
			break
		}
	}

	return e.synthesize(ctx, st, state, start)
}

// round runs one full pass and decides whether to loop back. On cancellation
// it returns the last committed state, dropping the in-flight round.
func (e *ResearchEngine) round(ctx context.Context, st stages, committed State) (State, error) {
	cancelled := func() State {
		e.logger().Warn("Research cancelled, discarding in-flight round", "iteration", committed.Iteration+1)
		s := committed.clone()
		s.Termination = TerminationCancelled
		return s
	}
	if ctx.Err() != nil {
		return cancelled(), nil
	}

	iteration := committed.Iteration + 1
	e.logger().Info("Starting iteration", "iteration", iteration, "max", e.Config.MaxIterations)

	// PLANNING
	cur := committed.withPhase(PhasePlanning)
	e.publish(cur)
	queries, err := st.planner.Plan(ctx, PlanInput{
		Topic:     cur.Topic,
		Feedback:  cur.Feedback,
		Suggested: cur.SuggestedQueries,
		Issued:    cur.IssuedQueries,
		Iteration: iteration,
	})
	if err != nil {
		if ctx.Err() != nil {
			return cancelled(), nil
		}
		if len(committed.Queries) == 0 {
			e.logger().Error("Planning failed on the first round", "error", err)
			failed := committed.withSoftFailures(SoftFailure{Iteration: iteration, Phase: PhasePlanning, Reason: err.Error()})
			failed.Termination = TerminationPlanningFailed
			return failed, err
		}
		e.logger().Warn("Planning failed, reusing previous queries", "error", err, "queries", committed.Queries)
		queries = committed.Queries
		cur = cur.withSoftFailures(SoftFailure{Iteration: iteration, Phase: PhasePlanning, Reason: err.Error()})
	}
	cur = cur.withQueries(queries)

	// RETRIEVING
	cur = cur.withPhase(PhaseRetrieving)
	e.publish(cur)
	batch, err := st.fanout.Retrieve(ctx, queries)
	if ctx.Err() != nil {
		return cancelled(), nil
	}
	allFailed := errors.Is(err, ErrRetrieval)
	for _, q := range queries {
		if ferr, ok := batch.Failures[q]; ok {
			cur = cur.withSoftFailures(SoftFailure{Iteration: iteration, Phase: PhaseRetrieving, Query: q, Reason: ferr.Error()})
		}
	}
	cur = cur.withResults(batch.Results)

	// SUMMARIZING
	cur = cur.withPhase(PhaseSummarizing)
	e.publish(cur)
	if !allFailed {
		records, failures, err := st.summarizer.SummarizeAll(ctx, queries, batch.Results)
		if err != nil {
			return cancelled(), nil
		}
		for _, q := range queries {
			if ferr, ok := failures[q]; ok {
				metrics.SummarizationFailures.Inc()
				cur = cur.withSoftFailures(SoftFailure{Iteration: iteration, Phase: PhaseSummarizing, Query: q, Reason: ferr.Error()})
			}
		}
		cur = cur.withSummaries(records)
	}

	// REFLECTING
	cur = cur.withPhase(PhaseReflecting)
	e.publish(cur)
	if allFailed {
		// Nothing new was learned, so the score stays where it was.
		e.logger().Warn("Every query failed this round", "iteration", iteration)
		cur = cur.withSoftFailures(SoftFailure{Iteration: iteration, Phase: PhaseRetrieving, Reason: ErrRetrieval.Error()})
	} else {
		assessment, err := st.evaluator.Evaluate(ctx, ReflectInput{
			Topic:         cur.Topic,
			Summaries:     cur.Summaries,
			Iteration:     iteration,
			MaxIterations: e.Config.MaxIterations,
			Threshold:     e.Config.ConfidenceThreshold,
		})
		if err != nil {
			if ctx.Err() != nil {
				return cancelled(), nil
			}
			metrics.EvaluatorFailures.Inc()
			cur = cur.withSoftFailures(SoftFailure{Iteration: iteration, Phase: PhaseReflecting, Reason: err.Error()})
			cur.EvaluatorFailures++
			e.logger().Warn("Reflection failed, keeping previous score", "score", cur.ConfidenceScore, "consecutive_failures", cur.EvaluatorFailures)
		} else {
			cur = cur.withAssessment(assessment)
			metrics.ConfidenceScore.Observe(float64(assessment.Score))
		}
	}

	cur.Iteration = iteration
	metrics.RoundsTotal.Inc()

	switch {
	case cur.Scored && cur.ConfidenceScore >= e.Config.ConfidenceThreshold:
		e.logger().Info("Research complete!", "score", cur.ConfidenceScore)
		cur.Termination = TerminationThreshold
	case cur.EvaluatorFailures >= e.Config.MaxEvaluatorFailures:
		e.logger().Warn("Evaluator failure ceiling reached", "failures", cur.EvaluatorFailures)
		cur.Termination = TerminationEvaluatorFailures
	case cur.Iteration >= e.Config.MaxIterations:
		e.logger().Info("Iteration ceiling reached", "iterations", cur.Iteration)
		cur.Termination = TerminationMaxIterations
	default:
		if cur.Feedback != "" {
			e.logger().Info("Adjusting focus", "feedback", cur.Feedback)
		}
	}
	return cur, nil
}

func (e *ResearchEngine) synthesize(ctx context.Context, st stages, state State, start time.Time) (Result, error) {
	state = state.withPhase(PhaseSynthesizing)
	e.publish(state)

	// Synthesis runs once even after cancellation so the caller gets a report.
	synthCtx := ctx
	if ctx.Err() != nil {
		synthCtx = context.WithoutCancel(ctx)
	}
	if e.Config.SynthesisTimeout > 0 {
		var cancel context.CancelFunc
		synthCtx, cancel = context.WithTimeout(synthCtx, e.Config.SynthesisTimeout)
		defer cancel()
	}

	report, err := st.synthesizer.Synthesize(synthCtx, SynthesisInput{
		Topic:     state.Topic,
		Summaries: state.Summaries,
		Sources:   state.Sources,
	})

	state = state.withPhase(PhaseDone)
	if err != nil {
		e.logger().Error("Synthesis failed", "error", err)
		e.publish(state)
		e.finish(state, start)
		res := state.result()
		return res, &RequestError{Err: err, Partial: res}
	}

	state.ReportDraft = report.Draft
	e.publish(state)
	e.finish(state, start)
	e.logger().Info("Research finished", "iterations", state.Iteration, "score", state.ConfidenceScore, "termination", state.Termination, "sources", len(state.Sources))
	return state.result(), nil
}

func (e *ResearchEngine) finish(state State, start time.Time) {
	metrics.Terminations.WithLabelValues(string(state.Termination)).Inc()
	metrics.RequestDuration.Observe(time.Since(start).Seconds())
}

func (e *ResearchEngine) publish(state State) {
	if e.OnStateUpdate != nil {
		e.OnStateUpdate(state.clone())
	}
}

func (e *ResearchEngine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
