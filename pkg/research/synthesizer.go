package research

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var citationPattern = regexp.MustCompile(`\[(\d+)\]`)

// SynthesisInput is what the report is composed from.
type SynthesisInput struct {
	Topic     string
	Summaries []SummaryRecord
	Sources   []Source
}

// Report is the synthesized document and the sources it cites, numbered by
// their position in SynthesisInput.Sources.
type Report struct {
	Draft string
	Cited []Source
}

// Synthesizer composes the final report.
type Synthesizer struct {
	gen         *generator
	temperature float64
}

// Synthesize fails with ErrSynthesis only when there is nothing to compose.
// If the model cannot write the report, one is compiled from the summaries.
func (s *Synthesizer) Synthesize(ctx context.Context, in SynthesisInput) (Report, error) {
	s.gen.logger.Info("Compiling final report", "summaries", len(in.Summaries), "sources", len(in.Sources))

	summaries := dedupeSummaries(in.Summaries)
	if len(summaries) == 0 {
		return Report{}, fmt.Errorf("%w: no summaries to compose", ErrSynthesis)
	}

	numbers := make(map[string]int, len(in.Sources))
	for i, src := range in.Sources {
		numbers[src.URL] = i + 1
	}

	findings := buildFindings(summaries, numbers)
	var body string
	out := s.gen.complete(ctx, synthesizerSystemPrompt, buildSynthesisInput(in, findings), s.temperature, false, nil)
	if out.OK() {
		body = out.Value
	} else {
		s.gen.logger.Warn("Report generation failed, compiling summaries", "error", out.Err)
		body = fmt.Sprintf("# Research Report: %s\n\n%s", in.Topic, findings)
	}

	body, used := scrubCitations(body, len(in.Sources))
	for _, sum := range summaries {
		for _, src := range sum.Sources {
			if n, ok := numbers[src.URL]; ok {
				used[n] = true
			}
		}
	}

	cited := make([]int, 0, len(used))
	for n := range used {
		cited = append(cited, n)
	}
	sort.Ints(cited)

	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(body))
	report := Report{}
	if len(cited) > 0 {
		sb.WriteString("\n\n## Sources\n\n")
		for _, n := range cited {
			src := in.Sources[n-1]
			title := src.Title
			if strings.TrimSpace(title) == "" {
				title = "Untitled"
			}
			fmt.Fprintf(&sb, "[%d] [%s](%s)\n", n, title, src.URL)
			report.Cited = append(report.Cited, src)
		}
	}
	report.Draft = sb.String()

	s.gen.logger.Info("Final report generated", "length", len(report.Draft), "cited", len(report.Cited))
	return report, nil
}

// dedupeSummaries drops records that repeat an earlier query and text.
func dedupeSummaries(in []SummaryRecord) []SummaryRecord {
	seen := make(map[string]bool, len(in))
	out := make([]SummaryRecord, 0, len(in))
	for _, s := range in {
		key := s.Query + "\x00" + s.Text
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}

// scrubCitations removes bracketed numbers that do not name a source and
// returns the set of numbers that remain.
func scrubCitations(body string, sourceCount int) (string, map[int]bool) {
	used := make(map[int]bool)
	body = citationPattern.ReplaceAllStringFunc(body, func(m string) string {
		n, err := strconv.Atoi(m[1 : len(m)-1])
		if err != nil || n < 1 || n > sourceCount {
			return ""
		}
		used[n] = true
		return m
	})
	return body, used
}

func buildFindings(summaries []SummaryRecord, numbers map[string]int) string {
	var sb strings.Builder
	for _, s := range summaries {
		fmt.Fprintf(&sb, "## %s\n\n%s", s.Query, s.Text)
		var refs []string
		for _, src := range s.Sources {
			if n, ok := numbers[src.URL]; ok {
				refs = append(refs, fmt.Sprintf("[%d]", n))
			}
		}
		if len(refs) > 0 {
			sb.WriteString(" " + strings.Join(refs, ""))
		}
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

func buildSynthesisInput(in SynthesisInput, findings string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research Topic: %s\n\nResearch Findings:\n\n%s\n\nSource list:\n", in.Topic, findings)
	for i, src := range in.Sources {
		fmt.Fprintf(&sb, "[%d] %s (%s)\n", i+1, src.Title, src.URL)
	}
	return sb.String()
}
