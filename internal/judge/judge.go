// Package judge scores a candidate model's answer to a text problem by
// asking the configured judge model for a strict verdict: a fixed system
// prompt, a templated user prompt carrying the task and the candidate's
// answer, and a strict-JSON parse of the response with a textual fallback
// when the model doesn't comply.
package judge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/benchlab/run-engine/internal/adapter"
	"github.com/benchlab/run-engine/internal/models"
)

var tracer = otel.Tracer("run-engine/judge")

var (
	judgeCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "bench",
		Subsystem: "judge",
		Name:      "calls_total",
		Help:      "Judge invocations, partitioned by outcome",
	}, []string{"outcome"})

	judgeScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "bench",
		Subsystem: "judge",
		Name:      "score",
		Help:      "Distribution of judge scores on a 0-100 scale",
		Buckets:   []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
	})
)

const systemPrompt = `You are an exacting grader for a model benchmark. You will be given a task prompt, an expected answer (or a notice that none was provided), and a candidate model's response. Judge strictly whether the candidate response correctly and completely solves the task.

Respond with ONLY a JSON object of this exact shape, no surrounding prose:
{"verdict": "PASS" or "FAIL", "score": integer 0-100, "reasoning": "one or two sentences"}`

// Verdict is the parsed outcome of a judged candidate answer.
type Verdict struct {
	Pass      bool
	Score     int
	Reasoning string
	Raw       string
}

// Judge scores RunResult candidate outputs using a configured judge model.
type Judge struct {
	client adapter.Client
	logger zerolog.Logger
}

// New constructs a Judge that issues completions through client.
func New(client adapter.Client, logger zerolog.Logger) *Judge {
	return &Judge{client: client, logger: logger.With().Str("component", "judge").Logger()}
}

// Evaluate asks the judge model to score candidateOutput against problem,
// returning a parsed Verdict. problem.Kind must be ProblemKindText; callers
// are responsible for routing html problems to manual review instead.
func (j *Judge) Evaluate(ctx context.Context, cfg adapter.ProviderConfig, judgeModelID string, problem models.Problem, candidateOutput string) (Verdict, error) {
	ctx, span := tracer.Start(ctx, "judge.Evaluate", trace.WithAttributes(
		attribute.String("problem_id", problem.ID),
	))
	defer span.End()

	if j.client == nil {
		judgeCalls.WithLabelValues("error").Inc()
		return Verdict{}, fmt.Errorf("judge: no adapter resolved for judge model %q", judgeModelID)
	}

	messages := []adapter.Message{
		{Role: adapter.RoleSystem, Content: systemPrompt},
		{Role: adapter.RoleUser, Content: buildUserPrompt(problem, candidateOutput)},
	}

	raw, err := j.client.Complete(ctx, cfg, judgeModelID, messages, adapter.Params{})
	if err != nil {
		judgeCalls.WithLabelValues("error").Inc()
		return Verdict{}, fmt.Errorf("judge: completion failed: %w", err)
	}

	verdict := parseVerdict(raw)
	judgeScore.Observe(float64(verdict.Score))
	judgeCalls.WithLabelValues("ok").Inc()

	return verdict, nil
}

func buildUserPrompt(problem models.Problem, candidateOutput string) string {
	var b strings.Builder
	b.WriteString("Task prompt:\n")
	b.WriteString(problem.Prompt)
	b.WriteString("\n\n")

	b.WriteString("Expected answer:\n")
	if problem.ExpectedAnswer != nil && *problem.ExpectedAnswer != "" {
		b.WriteString(*problem.ExpectedAnswer)
	} else {
		b.WriteString("(none provided)")
	}
	b.WriteString("\n\n")

	b.WriteString("Candidate response:\n")
	b.WriteString(candidateOutput)
	return b.String()
}

// rawVerdict is the strict JSON shape requested of the judge model. Score is
// a pointer so a missing field can be told apart from an explicit zero.
type rawVerdict struct {
	Verdict   string `json:"verdict"`
	Score     *int   `json:"score"`
	Reasoning string `json:"reasoning"`
}

// parseVerdict attempts a strict JSON parse of raw first, reading verdict,
// score, and reasoning. A missing score defaults to 100 on pass, 0 on fail.
// If the judge model did not comply, it falls back to a textual rule: pass
// when the response contains the word PASS or starts with YES, and does not
// contain the word FAIL.
func parseVerdict(raw string) Verdict {
	trimmed := strings.TrimSpace(raw)
	if start := strings.Index(trimmed, "{"); start >= 0 {
		if end := strings.LastIndex(trimmed, "}"); end > start {
			var parsed rawVerdict
			if err := json.Unmarshal([]byte(trimmed[start:end+1]), &parsed); err == nil {
				pass := strings.EqualFold(parsed.Verdict, "PASS")
				score := 0
				if pass {
					score = 100
				}
				if parsed.Score != nil {
					score = clampScore(*parsed.Score)
				}
				return Verdict{Pass: pass, Score: score, Reasoning: parsed.Reasoning, Raw: raw}
			}
		}
	}

	pass := textualFallbackPass(trimmed)
	score := 0
	if pass {
		score = 100
	}

	snippet := trimmed
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	verdictWord := "FAIL"
	if pass {
		verdictWord = "PASS"
	}

	return Verdict{
		Pass:      pass,
		Score:     score,
		Reasoning: fmt.Sprintf("Simple verdict: %s. Full response: %s", verdictWord, snippet),
		Raw:       raw,
	}
}

func textualFallbackPass(text string) bool {
	upper := strings.ToUpper(text)
	pass := containsWord(upper, "PASS") || strings.HasPrefix(upper, "YES")
	return pass && !containsWord(upper, "FAIL")
}

func containsWord(haystack, word string) bool {
	for _, field := range strings.FieldsFunc(haystack, func(r rune) bool {
		return !('A' <= r && r <= 'Z') && !('0' <= r && r <= '9')
	}) {
		if field == word {
			return true
		}
	}
	return false
}

func clampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
