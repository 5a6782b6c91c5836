package research

import "strings"

// State is a snapshot of a research request. The engine never mutates a
// snapshot it has handed out; each transition produces a new one.
type State struct {
	Topic             string                     `json:"topic"`
	Iteration         int                        `json:"iteration"`
	Phase             Phase                      `json:"phase"`
	Queries           []string                   `json:"queries"`
	IssuedQueries     []string                   `json:"issued_queries"`
	SearchResults     map[string][]RetrievedItem `json:"search_results"`
	Summaries         []SummaryRecord            `json:"section_summaries"`
	ConfidenceScore   int                        `json:"confidence_score"`
	Scored            bool                       `json:"scored"`
	Feedback          string                     `json:"feedback,omitempty"`
	SuggestedQueries  []string                   `json:"suggested_queries,omitempty"`
	ReportDraft       string                     `json:"report_draft,omitempty"`
	Sources           []Source                   `json:"sources"`
	EvaluatorFailures int                        `json:"evaluator_failures"`
	SoftFailures      []SoftFailure              `json:"soft_failures,omitempty"`
	Termination       Termination                `json:"termination,omitempty"`
}

// NewState starts a request at PLANNING with iteration 0.
func NewState(topic string) State {
	return State{
		Topic:         topic,
		Phase:         PhasePlanning,
		SearchResults: make(map[string][]RetrievedItem),
	}
}

// clone deep-copies the containers so the copy can be merged into freely.
func (s State) clone() State {
	next := s
	next.Queries = append([]string(nil), s.Queries...)
	next.IssuedQueries = append([]string(nil), s.IssuedQueries...)
	next.SuggestedQueries = append([]string(nil), s.SuggestedQueries...)
	next.Summaries = append([]SummaryRecord(nil), s.Summaries...)
	next.Sources = append([]Source(nil), s.Sources...)
	next.SoftFailures = append([]SoftFailure(nil), s.SoftFailures...)
	next.SearchResults = make(map[string][]RetrievedItem, len(s.SearchResults))
	for q, items := range s.SearchResults {
		next.SearchResults[q] = items
	}
	return next
}

// withQueries starts a new round with the given queries.
func (s State) withQueries(queries []string) State {
	next := s.clone()
	next.Queries = append([]string(nil), queries...)
	for _, q := range queries {
		if !containsFold(next.IssuedQueries, q) {
			next.IssuedQueries = append(next.IssuedQueries, q)
		}
	}
	return next
}

// withResults merges a round's retrieval batch. A repeated query replaces
// its previous entry; sources accumulate, deduplicated by URL.
func (s State) withResults(results map[string][]RetrievedItem) State {
	next := s.clone()
	for _, q := range s.Queries {
		items, ok := results[q]
		if !ok {
			continue
		}
		next.SearchResults[q] = items
		next.Sources = mergeSources(next.Sources, items)
	}
	return next
}

func (s State) withSummaries(records []SummaryRecord) State {
	next := s.clone()
	next.Summaries = append(next.Summaries, records...)
	return next
}

func (s State) withSoftFailures(failures ...SoftFailure) State {
	next := s.clone()
	next.SoftFailures = append(next.SoftFailures, failures...)
	return next
}

func (s State) withAssessment(a Assessment) State {
	next := s.clone()
	next.ConfidenceScore = a.Score
	next.Scored = true
	next.Feedback = a.Feedback
	next.SuggestedQueries = append([]string(nil), a.NextQueries...)
	next.EvaluatorFailures = 0
	return next
}

func (s State) withPhase(p Phase) State {
	next := s.clone()
	next.Phase = p
	return next
}

// result projects the snapshot onto the caller-facing contract.
func (s State) result() Result {
	return Result{
		Report:          s.ReportDraft,
		ConfidenceScore: s.ConfidenceScore,
		Sources:         append([]Source(nil), s.Sources...),
		Iterations:      s.Iteration,
	}
}

func mergeSources(existing []Source, items []RetrievedItem) []Source {
	seen := make(map[string]bool, len(existing))
	for _, src := range existing {
		seen[src.URL] = true
	}
	for _, item := range items {
		url := strings.TrimSpace(item.URL)
		if url == "" || seen[url] {
			continue
		}
		seen[url] = true
		existing = append(existing, Source{URL: url, Title: item.Title})
	}
	return existing
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(s)) {
			return true
		}
	}
	return false
}
