package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/benchlab/run-engine/internal/adapter"
	"github.com/benchlab/run-engine/internal/cancel"
	"github.com/benchlab/run-engine/internal/database"
	"github.com/benchlab/run-engine/internal/eventbus"
	"github.com/benchlab/run-engine/internal/models"
	"github.com/benchlab/run-engine/internal/store"
)

// chatRequest is the slice of the openai-compat request body the fake
// provider cares about.
type chatRequest struct {
	Model    string `json:"model"`
	Stream   bool   `json:"stream"`
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeProvider serves an openai-compat /chat/completions endpoint. Candidate
// answers come from the answers map keyed by vendor model id; judge requests
// (recognized by the grader system prompt) get a strict verdict comparing
// the embedded candidate response against "4".
type fakeProvider struct {
	answers map[string]string
	// judgeResponse overrides the computed verdict when non-empty.
	judgeResponse string
	// blockStreamOn stalls a streaming response after one token when the
	// user prompt contains this substring, until the request is cancelled.
	blockStreamOn string
	blocked       chan struct{}
}

func (f *fakeProvider) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if f.isJudgeRequest(req) {
			f.serveJudge(w, req)
			return
		}

		answer := f.answers[req.Model]
		if req.Stream {
			f.serveStream(w, r, req, answer)
			return
		}
		writeChatCompletion(w, answer)
	}
}

func (f *fakeProvider) isJudgeRequest(req chatRequest) bool {
	for _, m := range req.Messages {
		if strings.Contains(m.Content, "exacting grader") {
			return true
		}
	}
	return false
}

func (f *fakeProvider) serveJudge(w http.ResponseWriter, req chatRequest) {
	if f.judgeResponse != "" {
		writeChatCompletion(w, f.judgeResponse)
		return
	}

	candidate := ""
	for _, m := range req.Messages {
		if idx := strings.Index(m.Content, "Candidate response:\n"); idx >= 0 {
			candidate = strings.TrimSpace(m.Content[idx+len("Candidate response:\n"):])
		}
	}

	verdict := `{"verdict":"FAIL","reasoning":"wrong","score":0}`
	if candidate == "4" {
		verdict = `{"verdict":"PASS","reasoning":"correct","score":100}`
	}
	writeChatCompletion(w, verdict)
}

func (f *fakeProvider) serveStream(w http.ResponseWriter, r *http.Request, req chatRequest, answer string) {
	w.Header().Set("Content-Type", "text/event-stream")
	flusher := w.(http.Flusher)

	block := false
	if f.blockStreamOn != "" {
		for _, m := range req.Messages {
			if strings.Contains(m.Content, f.blockStreamOn) {
				block = true
			}
		}
	}

	if block {
		writeStreamDelta(w, answer)
		flusher.Flush()
		if f.blocked != nil {
			f.blocked <- struct{}{}
		}
		<-r.Context().Done()
		return
	}

	for _, delta := range splitTokens(answer) {
		writeStreamDelta(w, delta)
		flusher.Flush()
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeChatCompletion(w http.ResponseWriter, content string) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"message": map[string]string{"role": "assistant", "content": content}},
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeStreamDelta(w http.ResponseWriter, delta string) {
	chunk := map[string]interface{}{
		"choices": []map[string]interface{}{
			{"delta": map[string]string{"content": delta}},
		},
	}
	payload, _ := json.Marshal(chunk)
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

// splitTokens chops an answer into two deltas so streaming paths see more
// than one token.
func splitTokens(answer string) []string {
	if len(answer) < 2 {
		return []string{answer}
	}
	mid := len(answer) / 2
	return []string{answer[:mid], answer[mid:]}
}

type fixture struct {
	store   *store.Store
	cancels *cancel.Registry
	bus     *eventbus.Bus
	sched   *Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := database.ConnectSQLite(filepath.Join(t.TempDir(), "data.sqlite"))
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))

	st := store.New(db, zerolog.Nop())
	cancels := cancel.NewRegistry()
	bus := eventbus.New(zerolog.Nop())
	sched := New(st, adapter.NewRegistry(), cancels, bus, zerolog.Nop())

	return &fixture{store: st, cancels: cancels, bus: bus, sched: sched}
}

type seedOpts struct {
	baseURL  string
	models   []string // vendor model ids; labels mirror them
	problems []models.Problem
	stream   bool
}

func (f *fixture) seed(t *testing.T, opts seedOpts) (models.Run, []models.Model, []models.Problem) {
	t.Helper()
	ctx := context.Background()

	provider := &models.Provider{Name: "fake", AdapterKind: models.AdapterOpenAICompat, BaseURL: opts.baseURL}
	require.NoError(t, f.store.CreateProvider(ctx, provider))

	var candidates []models.Model
	for _, vendorID := range opts.models {
		m := &models.Model{ProviderID: provider.ID, Label: vendorID, VendorModelID: vendorID}
		require.NoError(t, f.store.CreateModel(ctx, m))
		candidates = append(candidates, *m)
	}

	judge := &models.Model{ProviderID: provider.ID, Label: "judge", VendorModelID: "judge-vendor"}
	require.NoError(t, f.store.CreateModel(ctx, judge))

	set := &models.ProblemSet{Name: "set"}
	require.NoError(t, f.store.CreateProblemSet(ctx, set))

	base := time.Now().UTC().Add(-time.Hour)
	var problems []models.Problem
	for i := range opts.problems {
		p := opts.problems[i]
		p.ProblemSetID = set.ID
		p.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, f.store.CreateProblem(ctx, &p))
		problems = append(problems, p)
	}

	modelIDs := make(models.StringList, 0, len(candidates))
	for _, m := range candidates {
		modelIDs = append(modelIDs, m.ID)
	}

	run := &models.Run{ProblemSetID: set.ID, ModelIDs: modelIDs, JudgeModelID: judge.ID, StreamEnabled: opts.stream}
	require.NoError(t, f.store.CreateRun(ctx, run))

	return *run, candidates, problems
}

// collectUntilTerminal drains the subscription until a terminal run_status
// event arrives, returning every event seen (the synthetic echo included).
func collectUntilTerminal(t *testing.T, sub *eventbus.Subscription, timeout time.Duration) []eventbus.Event {
	t.Helper()

	deadline := time.After(timeout)
	var events []eventbus.Event
	first := true
	for {
		select {
		case event := <-sub.Events():
			if first {
				first = false
				continue // synthetic status echo
			}
			events = append(events, event)
			if event.Event == eventbus.EventRunStatus && event.Status != string(models.RunStatusRunning) {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for terminal run status; saw %d events", len(events))
		}
	}
}

func waitForEvent(t *testing.T, sub *eventbus.Subscription, timeout time.Duration, match func(eventbus.Event) bool) []eventbus.Event {
	t.Helper()

	deadline := time.After(timeout)
	var events []eventbus.Event
	for {
		select {
		case event := <-sub.Events():
			events = append(events, event)
			if match(event) {
				return events
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event; saw %d events", len(events))
		}
	}
}

func textProblem(prompt, expected string) models.Problem {
	return models.Problem{Kind: models.ProblemKindText, Prompt: prompt, ExpectedAnswer: &expected}
}

func TestExecuteTwoModelsOneTextProblem(t *testing.T) {
	provider := &fakeProvider{answers: map[string]string{
		"model-a": "4",
		"model-b": "five",
	}}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	f := newFixture(t)
	run, candidates, _ := f.seed(t, seedOpts{
		baseURL:  server.URL,
		models:   []string{"model-a", "model-b"},
		problems: []models.Problem{textProblem("2+2?", "4")},
	})

	sub := f.bus.Subscribe(run.ID)
	defer sub.Close()

	require.NoError(t, f.sched.Execute(context.Background(), run.ID))
	events := collectUntilTerminal(t, sub, 10*time.Second)

	final := events[len(events)-1]
	require.Equal(t, string(models.RunStatusCompleted), final.Status)

	got, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusCompleted, got.Status)

	results, err := f.store.ListRunResults(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, results, 2)

	byModel := map[string]store.RunResultView{}
	for _, r := range results {
		byModel[r.ModelID] = r
	}

	resultA := byModel[candidates[0].ID]
	require.Equal(t, models.ResultStatusCompleted, resultA.Status)
	require.NotNil(t, resultA.Score)
	require.Equal(t, 100, *resultA.Score)
	require.Equal(t, "4", *resultA.Output)
	require.Equal(t, run.JudgeModelID, *resultA.JudgedBy)
	require.True(t, resultA.Passed())

	resultB := byModel[candidates[1].ID]
	require.Equal(t, models.ResultStatusCompleted, resultB.Status)
	require.NotNil(t, resultB.Score)
	require.Equal(t, 0, *resultB.Score)
	require.Equal(t, "five", *resultB.Output)
	require.False(t, resultB.Passed())

	// per-model ordering: model_started, candidate_token(s), candidate_done, judge_done
	for _, model := range candidates {
		var sequence []eventbus.EventKind
		var verdicts []string
		for _, event := range events {
			if event.ModelID != model.ID {
				continue
			}
			sequence = append(sequence, event.Event)
			if event.Event == eventbus.EventJudgeDone {
				verdicts = append(verdicts, event.Verdict)
			}
		}
		require.Equal(t, []eventbus.EventKind{
			eventbus.EventModelStarted,
			eventbus.EventCandidateToken,
			eventbus.EventCandidateDone,
			eventbus.EventJudgeDone,
		}, sequence, "model %s", model.Label)
		require.Len(t, verdicts, 1)
	}
}

func TestExecuteHTMLProblemStaysManual(t *testing.T) {
	html := `<button style="color:red">Hi</button>`
	provider := &fakeProvider{answers: map[string]string{"model-a": html}}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	f := newFixture(t)
	run, candidates, _ := f.seed(t, seedOpts{
		baseURL:  server.URL,
		models:   []string{"model-a"},
		problems: []models.Problem{{Kind: models.ProblemKindHTML, Prompt: "write a red button"}},
		stream:   true,
	})

	sub := f.bus.Subscribe(run.ID)
	defer sub.Close()

	require.NoError(t, f.sched.Execute(context.Background(), run.ID))
	events := collectUntilTerminal(t, sub, 10*time.Second)

	var kinds []eventbus.EventKind
	var doneHTML string
	for _, event := range events {
		if event.ModelID != candidates[0].ID {
			continue
		}
		kinds = append(kinds, event.Event)
		if event.Event == eventbus.EventHTMLCandidateDone {
			doneHTML = event.HTML
		}
		require.NotEqual(t, eventbus.EventJudgeDone, event.Event, "html problems are never judged")
		if event.Event == eventbus.EventCandidateToken {
			require.Equal(t, eventbus.ContentHTML, event.Kind)
		}
	}
	require.Contains(t, kinds, eventbus.EventHTMLCandidateDone)
	require.Contains(t, doneHTML, "button")

	results, err := f.store.ListRunResults(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, models.ResultStatusManual, results[0].Status)
	require.Nil(t, results[0].Score)
	require.NotNil(t, results[0].Output)

	got, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusCompleted, got.Status)
}

func TestCancelRunMidStream(t *testing.T) {
	provider := &fakeProvider{
		answers:       map[string]string{"model-a": "tok"},
		blockStreamOn: "problem two",
		blocked:       make(chan struct{}, 1),
	}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	f := newFixture(t)
	run, _, problems := f.seed(t, seedOpts{
		baseURL: server.URL,
		models:  []string{"model-a"},
		problems: []models.Problem{
			textProblem("problem one: 2+2?", "4"),
			textProblem("problem two: 3+3?", "6"),
			textProblem("problem three: 4+4?", "8"),
		},
		stream: true,
	})

	sub := f.bus.Subscribe(run.ID)
	defer sub.Close()

	require.NoError(t, f.sched.Execute(context.Background(), run.ID))

	// the worker is now inside problem two's stream, wedged on the server
	select {
	case <-provider.blocked:
	case <-time.After(10 * time.Second):
		t.Fatal("worker never reached the blocking stream")
	}

	cancelled, err := f.sched.CancelRun(context.Background(), run.ID, "user")
	require.NoError(t, err)
	require.True(t, cancelled)

	events := waitForEvent(t, sub, 10*time.Second, func(event eventbus.Event) bool {
		return event.Event == eventbus.EventRunStatus && event.Status == string(models.RunStatusCancelled)
	})

	// run_status=cancelled is the last event; model_cancelled precedes it
	var sawModelCancelled, sawRunCancelled bool
	for _, event := range events {
		switch event.Event {
		case eventbus.EventModelCancelled:
			sawModelCancelled = true
		case eventbus.EventRunCancelled:
			sawRunCancelled = true
			require.Equal(t, "user", event.CancelledBy)
		}
	}
	require.True(t, sawModelCancelled)
	require.True(t, sawRunCancelled)

	got, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusCancelled, got.Status)
	require.NotNil(t, got.CancelledBy)
	require.Equal(t, "user", *got.CancelledBy)
	require.NotNil(t, got.CancelledAt)

	results, err := f.store.ListRunResults(context.Background(), run.ID)
	require.NoError(t, err)

	byProblem := map[string]store.RunResultView{}
	for _, r := range results {
		byProblem[r.ProblemID] = r
	}

	// problem one finished before the cancel
	require.Equal(t, models.ResultStatusCompleted, byProblem[problems[0].ID].Status)

	// problem two was mid-stream: cancelled with a timestamp
	current := byProblem[problems[1].ID]
	require.Equal(t, models.ResultStatusCancelled, current.Status)
	require.NotNil(t, current.CancelledAt)
	require.Nil(t, current.Score)

	// problem three was never touched: no row at all
	_, touched := byProblem[problems[2].ID]
	require.False(t, touched)
}

func TestCancelSingleModelLeavesSiblingRunning(t *testing.T) {
	provider := &fakeProvider{
		answers:       map[string]string{"model-a": "4", "model-b": "4"},
		blockStreamOn: "slow marker",
		blocked:       make(chan struct{}, 1),
	}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	f := newFixture(t)

	// The only problem carries the slow marker, so both models wedge on it.
	// model-a is cancelled while wedged; model-b stays wedged until the run
	// itself is cancelled at the end of the test.
	run, candidates, _ := f.seed(t, seedOpts{
		baseURL:  server.URL,
		models:   []string{"model-a", "model-b"},
		problems: []models.Problem{textProblem("slow marker: 2+2?", "4")},
		stream:   true,
	})

	sub := f.bus.Subscribe(run.ID)
	defer sub.Close()

	require.NoError(t, f.sched.Execute(context.Background(), run.ID))

	// both workers wedge on the only problem
	<-provider.blocked

	cancelled, err := f.sched.CancelModel(context.Background(), run.ID, candidates[0].ID)
	require.NoError(t, err)
	require.True(t, cancelled)

	waitForEvent(t, sub, 10*time.Second, func(event eventbus.Event) bool {
		return event.Event == eventbus.EventModelCancelled && event.ModelID == candidates[0].ID
	})

	// the run is still running: model-b is wedged, not cancelled
	got, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusRunning, got.Status)

	// release model-b by cancelling the run
	_, err = f.sched.CancelRun(context.Background(), run.ID, "user")
	require.NoError(t, err)

	waitForEvent(t, sub, 10*time.Second, func(event eventbus.Event) bool {
		return event.Event == eventbus.EventRunStatus && event.Status == string(models.RunStatusCancelled)
	})
}

func TestNonRetriableUpstreamFailureRunStillCompletes(t *testing.T) {
	okProvider := &fakeProvider{answers: map[string]string{"model-b": "4"}}

	var badCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req chatRequest
		require.NoError(t, json.Unmarshal(raw, &req))

		if req.Model == "model-a" {
			badCalls++
			http.Error(w, `{"error":{"message":"invalid key"}}`, http.StatusUnauthorized)
			return
		}
		// the delegate decodes the body itself, so hand it a fresh copy
		r.Body = io.NopCloser(bytes.NewReader(raw))
		okProvider.handler(t)(w, r)
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	f := newFixture(t)
	run, candidates, _ := f.seed(t, seedOpts{
		baseURL:  server.URL,
		models:   []string{"model-a", "model-b"},
		problems: []models.Problem{textProblem("2+2?", "4")},
	})

	sub := f.bus.Subscribe(run.ID)
	defer sub.Close()

	require.NoError(t, f.sched.Execute(context.Background(), run.ID))
	events := collectUntilTerminal(t, sub, 10*time.Second)

	// 401 is non-retriable: exactly one attempt
	require.Equal(t, 1, badCalls)

	var sawModelError bool
	for _, event := range events {
		if event.Event == eventbus.EventModelError && event.ModelID == candidates[0].ID {
			sawModelError = true
			require.Contains(t, event.Error, "401")
		}
	}
	require.True(t, sawModelError)

	got, err := f.store.GetRun(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusCompleted, got.Status, "errored workers do not make the run itself error")

	results, err := f.store.ListRunResults(context.Background(), run.ID)
	require.NoError(t, err)
	byModel := map[string]store.RunResultView{}
	for _, r := range results {
		byModel[r.ModelID] = r
	}
	require.Equal(t, models.ResultStatusError, byModel[candidates[0].ID].Status)
	require.Nil(t, byModel[candidates[0].ID].Score)
	require.Equal(t, models.ResultStatusCompleted, byModel[candidates[1].ID].Status)
}

func TestExecutePreconditions(t *testing.T) {
	provider := &fakeProvider{
		answers:       map[string]string{"model-a": "tok"},
		blockStreamOn: "wedge",
		blocked:       make(chan struct{}, 1),
	}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	f := newFixture(t)
	ctx := context.Background()

	require.ErrorIs(t, f.sched.Execute(ctx, "ghost"), store.ErrNotFound)

	run, _, _ := f.seed(t, seedOpts{
		baseURL:  server.URL,
		models:   []string{"model-a"},
		problems: []models.Problem{textProblem("wedge: 2+2?", "4")},
		stream:   true,
	})

	require.NoError(t, f.sched.Execute(ctx, run.ID))
	<-provider.blocked

	require.ErrorIs(t, f.sched.Execute(ctx, run.ID), ErrAlreadyRunning)

	_, err := f.sched.CancelRun(ctx, run.ID, "user")
	require.NoError(t, err)
}

func TestExecuteMissingJudgeModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, _, _ := f.seed(t, seedOpts{
		baseURL:  "http://localhost:1",
		models:   []string{"model-a"},
		problems: []models.Problem{textProblem("2+2?", "4")},
	})

	broken := &models.Run{ProblemSetID: run.ProblemSetID, ModelIDs: run.ModelIDs, JudgeModelID: "ghost-judge"}
	require.NoError(t, f.store.CreateRun(ctx, broken))

	require.ErrorIs(t, f.sched.Execute(ctx, broken.ID), ErrJudgeModelMissing)

	got, err := f.store.GetRun(ctx, broken.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusQueued, got.Status, "failed preconditions leave state unchanged")
}

func TestJudgeFallbackOnMalformedVerdict(t *testing.T) {
	provider := &fakeProvider{
		answers:       map[string]string{"model-a": "4"},
		judgeResponse: "PASS — looks fine",
	}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	f := newFixture(t)
	run, _, _ := f.seed(t, seedOpts{
		baseURL:  server.URL,
		models:   []string{"model-a"},
		problems: []models.Problem{textProblem("2+2?", "4")},
	})

	sub := f.bus.Subscribe(run.ID)
	defer sub.Close()

	require.NoError(t, f.sched.Execute(context.Background(), run.ID))
	events := collectUntilTerminal(t, sub, 10*time.Second)

	var judged *eventbus.Event
	for i := range events {
		if events[i].Event == eventbus.EventJudgeDone {
			judged = &events[i]
		}
	}
	require.NotNil(t, judged)
	require.Equal(t, "PASS", judged.Verdict)
	require.NotNil(t, judged.Score)
	require.Equal(t, 100, *judged.Score)
	require.True(t, strings.HasPrefix(judged.Reasoning, "Simple verdict: PASS"))

	results, err := f.store.ListRunResults(context.Background(), run.ID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, models.ResultStatusCompleted, results[0].Status)
	require.Equal(t, 100, *results[0].Score)
}

func TestReExecuteErroredRun(t *testing.T) {
	provider := &fakeProvider{answers: map[string]string{"model-a": "4"}}
	server := httptest.NewServer(provider.handler(t))
	defer server.Close()

	f := newFixture(t)
	ctx := context.Background()
	run, _, _ := f.seed(t, seedOpts{
		baseURL:  server.URL,
		models:   []string{"model-a"},
		problems: []models.Problem{textProblem("2+2?", "4")},
	})

	// simulate a previous fatal run
	require.NoError(t, f.store.TransitionRunStatus(ctx, run.ID, []models.RunStatus{models.RunStatusQueued}, models.RunStatusRunning))
	require.NoError(t, f.store.TransitionRunStatus(ctx, run.ID, []models.RunStatus{models.RunStatusRunning}, models.RunStatusError))

	sub := f.bus.Subscribe(run.ID)
	defer sub.Close()

	require.NoError(t, f.sched.Execute(ctx, run.ID))
	collectUntilTerminal(t, sub, 10*time.Second)

	got, err := f.store.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, models.RunStatusCompleted, got.Status)
}
