// Package scheduler orchestrates run execution: it walks a Run's candidate
// models concurrently, each iterating its problem set in order, invoking the
// adapter through the retry policy, streaming progress onto the event bus,
// and handing text answers to the judge.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/benchlab/run-engine/internal/adapter"
	"github.com/benchlab/run-engine/internal/cancel"
	"github.com/benchlab/run-engine/internal/eventbus"
	"github.com/benchlab/run-engine/internal/judge"
	"github.com/benchlab/run-engine/internal/models"
	"github.com/benchlab/run-engine/internal/retry"
	"github.com/benchlab/run-engine/internal/store"
)

var tracer = otel.Tracer("run-engine/scheduler")

var (
	// ErrAlreadyRunning is returned by Execute when the run is already in progress.
	ErrAlreadyRunning = errors.New("scheduler: run already running")
	// ErrJudgeModelMissing is returned when a run's judge_model_id does not resolve.
	ErrJudgeModelMissing = errors.New("scheduler: judge model does not exist")
)

const (
	textSystemPrompt = "You are a helpful assistant."
	htmlSystemPrompt = "You are a helpful assistant that returns HTML/CSS/JS when asked. Keep responses concise."
)

// htmlSanitizer strips any candidate-supplied markup that could execute in a
// reviewer's browser before an html RunResult is persisted or broadcast. It is
// UGCPolicy plus the <button> element; scripts, style attributes and other
// elements outside that set are removed.
var htmlSanitizer = bluemonday.UGCPolicy().AllowElements("button")

var workerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "bench",
	Subsystem: "scheduler",
	Name:      "worker_results_total",
	Help:      "Per-model worker results, partitioned by outcome",
}, []string{"outcome"})

// Scheduler dispatches and tracks run execution.
type Scheduler struct {
	store    *store.Store
	adapters *adapter.Registry
	cancels  *cancel.Registry
	bus      *eventbus.Bus
	logger   zerolog.Logger
}

// New constructs a Scheduler wired to its collaborators.
func New(st *store.Store, adapters *adapter.Registry, cancels *cancel.Registry, bus *eventbus.Bus, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		store:    st,
		adapters: adapters,
		cancels:  cancels,
		bus:      bus,
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Execute validates preconditions, transitions the run to running, and
// acknowledges the caller. The actual dispatch proceeds on a detached
// context after Execute returns; the caller only waits for the transition.
func (s *Scheduler) Execute(ctx context.Context, runID string) error {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	if run.Status == models.RunStatusRunning {
		return ErrAlreadyRunning
	}

	if _, err := s.store.GetModel(ctx, run.JudgeModelID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrJudgeModelMissing
		}
		return err
	}

	candidateModels := make([]models.Model, 0, len(run.ModelIDs))
	for _, modelID := range run.ModelIDs {
		m, err := s.store.GetModel(ctx, modelID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				s.logger.Warn().Str("run_id", runID).Str("model_id", modelID).Msg("candidate model no longer exists, skipping")
				continue
			}
			return err
		}
		candidateModels = append(candidateModels, m)
	}

	problems, err := s.store.ListProblemsInOrder(ctx, run.ProblemSetID)
	if err != nil {
		return err
	}

	if err := s.store.TransitionRunStatus(ctx, runID, []models.RunStatus{models.RunStatusQueued, models.RunStatusError}, models.RunStatusRunning); err != nil {
		return err
	}
	s.bus.Publish(eventbus.Event{Event: eventbus.EventRunStatus, RunID: runID, Status: string(models.RunStatusRunning)})

	runCtx := s.cancels.NewRunToken(context.Background(), runID)

	go s.run(runCtx, run, candidateModels, problems)

	return nil
}

// run is the asynchronous body of execute(run_id): one worker per candidate
// model, each iterating problems in order, followed by the terminal
// transition.
func (s *Scheduler) run(runCtx context.Context, run models.Run, candidateModels []models.Model, problems []models.Problem) {
	defer s.cancels.Cleanup(run.ID)

	ctx, span := tracer.Start(runCtx, "scheduler.run", trace.WithAttributes(attribute.String("run_id", run.ID)))
	defer span.End()

	var wg sync.WaitGroup
	for _, model := range candidateModels {
		model := model
		modelCtx := s.cancels.NewModelToken(ctx, run.ID, model.ID)

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.runModelWorker(modelCtx, run, model, problems)
		}()
	}
	wg.Wait()

	finalStatus := models.RunStatusCompleted
	if s.cancels.RunCancelled(run.ID) {
		finalStatus = models.RunStatusCancelled
	}

	storeCtx := context.Background()
	if finalStatus == models.RunStatusCancelled {
		if err := s.store.TransitionRunStatus(storeCtx, run.ID, []models.RunStatus{models.RunStatusRunning}, models.RunStatusCancelled); err != nil && !errors.Is(err, store.ErrInvalidTransition) {
			s.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to persist cancelled run status")
		}
	} else {
		if err := s.store.TransitionRunStatus(storeCtx, run.ID, []models.RunStatus{models.RunStatusRunning}, models.RunStatusCompleted); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				// cancel_run won the race after the last worker drained
				finalStatus = models.RunStatusCancelled
			} else {
				s.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to persist completed run status")
				finalStatus = models.RunStatusError
			}
		}
	}

	s.bus.Publish(eventbus.Event{Event: eventbus.EventRunStatus, RunID: run.ID, Status: string(finalStatus)})
	s.bus.CleanupRun(run.ID)
}

// runModelWorker iterates problems in order for one candidate model,
// stopping cooperatively on cancellation.
func (s *Scheduler) runModelWorker(ctx context.Context, run models.Run, model models.Model, problems []models.Problem) {
	resolvedModel, provider, err := s.store.ResolveModelProvider(context.Background(), model.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Str("model_id", model.ID).Msg("failed to resolve candidate model's provider")
		return
	}
	model = resolvedModel

	client, err := s.adapters.For(provider.AdapterKind)
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Str("model_id", model.ID).Msg("no adapter for provider kind")
		return
	}

	cfg := adapter.ProviderConfig{BaseURL: provider.BaseURL, Credential: provider.Credential}
	params := adapter.ParseParams(model.Parameters)

	judgeModel, judgeProvider, err := s.store.ResolveModelProvider(context.Background(), run.JudgeModelID)
	var judgeClient adapter.Client
	var judgeCfg adapter.ProviderConfig
	if err == nil {
		judgeClient, err = s.adapters.For(judgeProvider.AdapterKind)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("failed to resolve judge model")
	} else {
		judgeCfg = adapter.ProviderConfig{BaseURL: judgeProvider.BaseURL, Credential: judgeProvider.Credential}
	}
	j := judge.New(judgeClient, s.logger)

	for _, problem := range problems {
		if ctx.Err() != nil || s.cancels.RunCancelled(run.ID) {
			return
		}

		s.runProblem(ctx, run, model, problem, client, cfg, params, j, judgeModel, judgeCfg)
	}
}

func (s *Scheduler) runProblem(ctx context.Context, run models.Run, model models.Model, problem models.Problem, client adapter.Client, cfg adapter.ProviderConfig, params adapter.Params, j *judge.Judge, judgeModel models.Model, judgeCfg adapter.ProviderConfig) {
	initialStatus := models.ResultStatusPending
	if problem.Kind == models.ProblemKindHTML {
		initialStatus = models.ResultStatusManual
	}

	result := &models.RunResult{
		RunID:     run.ID,
		ProblemID: problem.ID,
		ModelID:   model.ID,
		Status:    initialStatus,
	}
	if err := s.store.CreateRunResult(context.Background(), result); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Str("problem_id", problem.ID).Msg("failed to create run result")
		return
	}

	contentKind := eventbus.ContentText
	systemPrompt := textSystemPrompt
	if problem.Kind == models.ProblemKindHTML {
		contentKind = eventbus.ContentHTML
		systemPrompt = htmlSystemPrompt
	}

	s.bus.Publish(eventbus.Event{Event: eventbus.EventModelStarted, RunID: run.ID, ProblemID: problem.ID, ModelID: model.ID, ModelName: model.Label, Attempt: 1, Streaming: run.StreamEnabled})
	if run.StreamEnabled {
		s.bus.Publish(eventbus.Event{Event: eventbus.EventModelStreamingStarted, RunID: run.ID, ProblemID: problem.ID, ModelID: model.ID, ModelName: model.Label, Streaming: true})
	}

	messages := []adapter.Message{
		{Role: adapter.RoleSystem, Content: systemPrompt},
		{Role: adapter.RoleUser, Content: problem.Prompt},
	}

	// html deltas are never streamed raw: the whole document must pass through
	// the sanitizer before it is persisted or broadcast, so a streaming html
	// call is still buffered internally and only emitted once, sanitized.
	streamTokens := run.StreamEnabled && problem.Kind != models.ProblemKindHTML

	modelLabel := fmt.Sprintf("%s/%s", model.ID, model.VendorModelID)
	output, err := retry.Do(ctx, s.logger, modelLabel, func(callCtx context.Context) (string, error) {
		if run.StreamEnabled {
			return client.Stream(callCtx, cfg, model.VendorModelID, messages, params, func(delta string) {
				if streamTokens {
					s.bus.Publish(eventbus.Event{Event: eventbus.EventCandidateToken, RunID: run.ID, ProblemID: problem.ID, ModelID: model.ID, ModelName: model.Label, Kind: contentKind, Delta: delta})
				}
			})
		}
		return client.Complete(callCtx, cfg, model.VendorModelID, messages, params)
	})

	if err != nil {
		s.handleCallFailure(ctx, run, model, problem, result, err)
		return
	}

	if problem.Kind == models.ProblemKindHTML {
		output = htmlSanitizer.Sanitize(output)
	}

	if !streamTokens {
		s.bus.Publish(eventbus.Event{Event: eventbus.EventCandidateToken, RunID: run.ID, ProblemID: problem.ID, ModelID: model.ID, ModelName: model.Label, Kind: contentKind, Delta: output})
	}

	done := eventbus.Event{Event: eventbus.EventCandidateDone, RunID: run.ID, ProblemID: problem.ID, ModelID: model.ID, ModelName: model.Label, Kind: contentKind, Text: output}
	if problem.Kind == models.ProblemKindHTML {
		done = eventbus.Event{Event: eventbus.EventHTMLCandidateDone, RunID: run.ID, ProblemID: problem.ID, ModelID: model.ID, ModelName: model.Label, Kind: contentKind, HTML: output}
	}
	s.bus.Publish(done)

	outputCopy := output
	if err := s.store.MarkResult(context.Background(), result.ID, store.ResultPatch{Output: &outputCopy}); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Str("result_id", result.ID).Msg("failed to persist candidate output")
	}

	if problem.Kind == models.ProblemKindHTML {
		workerRuns.WithLabelValues("manual").Inc()
		return
	}

	s.judgeResult(ctx, run, model, problem, result, j, judgeModel, judgeCfg, output)
}

func (s *Scheduler) judgeResult(ctx context.Context, run models.Run, model models.Model, problem models.Problem, result *models.RunResult, j *judge.Judge, judgeModel models.Model, judgeCfg adapter.ProviderConfig, output string) {
	// the vendor model id goes on the wire; judged_by records the model row id
	verdict, err := j.Evaluate(ctx, judgeCfg, judgeModel.VendorModelID, problem, output)
	if err != nil {
		s.handleCallFailure(ctx, run, model, problem, result, err)
		return
	}

	score := verdict.Score
	status := models.ResultStatusCompleted
	judgedBy := judgeModel.ID
	reasoning := verdict.Reasoning

	if err := s.store.MarkResult(context.Background(), result.ID, store.ResultPatch{
		Score:          &score,
		Status:         &status,
		JudgedBy:       &judgedBy,
		JudgeReasoning: &reasoning,
	}); err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Str("result_id", result.ID).Msg("failed to persist judge verdict")
	}

	workerRuns.WithLabelValues("judged").Inc()

	// The stored score is the single authoritative pass signal; the verdict
	// string the judge model returned is not used here and not stored as a field.
	verdictWord := "FAIL"
	if score >= models.PassThreshold {
		verdictWord = "PASS"
	}
	scorePtr := score
	s.bus.Publish(eventbus.Event{
		Event:     eventbus.EventJudgeDone,
		RunID:     run.ID,
		ProblemID: problem.ID,
		ModelID:   model.ID,
		ModelName: model.Label,
		Verdict:   verdictWord,
		Reasoning: reasoning,
		Score:     &scorePtr,
	})
}

func (s *Scheduler) handleCallFailure(ctx context.Context, run models.Run, model models.Model, problem models.Problem, result *models.RunResult, err error) {
	now := time.Now().UTC()

	if ctx.Err() != nil || s.cancels.ModelCancelled(run.ID, model.ID) {
		status := models.ResultStatusCancelled
		if patchErr := s.store.MarkResult(context.Background(), result.ID, store.ResultPatch{Status: &status, CancelledAt: &now}); patchErr != nil {
			s.logger.Error().Err(patchErr).Str("run_id", run.ID).Str("result_id", result.ID).Msg("failed to persist cancelled result")
		}
		workerRuns.WithLabelValues("cancelled").Inc()
		s.bus.Publish(eventbus.Event{Event: eventbus.EventModelCancelled, RunID: run.ID, ProblemID: problem.ID, ModelID: model.ID, ModelName: model.Label})
		return
	}

	status := models.ResultStatusError
	if patchErr := s.store.MarkResult(context.Background(), result.ID, store.ResultPatch{Status: &status}); patchErr != nil {
		s.logger.Error().Err(patchErr).Str("run_id", run.ID).Str("result_id", result.ID).Msg("failed to persist errored result")
	}
	workerRuns.WithLabelValues("error").Inc()
	s.bus.Publish(eventbus.Event{Event: eventbus.EventModelError, RunID: run.ID, ProblemID: problem.ID, ModelID: model.ID, ModelName: model.Label, Error: err.Error(), Streaming: run.StreamEnabled})
}

// CancelRun triggers the run-level cancel token and stamps the Run row, used
// by cancel_run(run_id).
func (s *Scheduler) CancelRun(ctx context.Context, runID string, cancelledBy string) (bool, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	if run.Status != models.RunStatusRunning && run.Status != models.RunStatusQueued {
		return false, store.ErrInvalidTransition
	}

	if err := s.store.MarkRunCancelled(ctx, runID, cancelledBy); err != nil {
		return false, err
	}
	s.bus.Publish(eventbus.Event{Event: eventbus.EventRunCancelled, RunID: runID, CancelledBy: cancelledBy})

	return s.cancels.CancelRun(runID), nil
}

// CancelModel triggers only the (run, model) cancel token, used by
// cancel_model(run_id, model_id).
func (s *Scheduler) CancelModel(ctx context.Context, runID, modelID string) (bool, error) {
	run, err := s.store.GetRun(ctx, runID)
	if err != nil {
		return false, err
	}
	if run.Status != models.RunStatusRunning {
		return false, store.ErrInvalidTransition
	}

	found := false
	for _, id := range run.ModelIDs {
		if id == modelID {
			found = true
			break
		}
	}
	if !found {
		return false, store.ErrInvalidTransition
	}

	return s.cancels.CancelModel(runID, modelID), nil
}
