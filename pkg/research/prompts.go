package research

import "strconv"

const plannerSystemPrompt = `You are a research planner.
Break the research topic down into specific, focused web search queries.
Each query must be searchable on its own and cover a different angle of the topic.
When feedback from a previous round is given, target the gaps it describes and do not repeat queries that were already issued.`

const summarizerSystemPrompt = `You are a research assistant that summarizes search results.
Summarize the key findings of the numbered search results for the given query in 2-4 sentences.
Only use the numbered results you are given and list the numbers of the results you relied on.`

const evaluatorSystemPrompt = `You are a research quality evaluator.
Rate the completeness of the accumulated research for the topic on a scale of 0-10,
where 10 means the findings are sufficient to write a comprehensive report.
If the research is incomplete, describe what is missing and suggest new search queries.`

const synthesizerSystemPrompt = `You are a professional research report writer.
Write a well-structured markdown report from the research findings.
Include an executive summary, a section per topic area, and key insights and conclusions.
Cite sources inline with their bracketed numbers, for example [3]. Only cite numbers from the source list.
Do not write a sources or references section; it is appended separately.`

// CreateSearchQueriesSchema describes the planner's JSON answer.
func CreateSearchQueriesSchema(maxQueries int) string {
	return `Return the JSON object directly without any formatting or additional text. The JSON object should have the following structure:
{
  "type": "object",
  "properties": {
    "queries": {
      "type": "array",
      "items": {"type": "string"},
      "maxItems": ` + strconv.Itoa(maxQueries) + `
    }
  },
  "required": ["queries"]
}`
}

const summarySchema = `Return the JSON object directly without any formatting or additional text:
{
  "type": "object",
  "properties": {
    "summary": {"type": "string"},
    "citations": {"type": "array", "items": {"type": "integer"}, "description": "Numbers of the results used"}
  },
  "required": ["summary", "citations"]
}`

const assessmentSchema = `Return the JSON object directly without any formatting or additional text:
{
  "type": "object",
  "properties": {
    "score": {"type": "integer", "minimum": 0, "maximum": 10},
    "feedback": {"type": "string", "description": "What is missing or needs improvement"},
    "next_queries": {"type": "array", "items": {"type": "string"}, "description": "Search queries for the next round"}
  },
  "required": ["score", "feedback"]
}`
