// Package service is the request facade over the engine: it wires the
// store backend, embedding engine, LLM gateway, memory core, controller,
// judge, and backup manager, and exposes the operation surface the CLI and
// tool adapters call.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"remem/internal/backup"
	"remem/internal/budget"
	"remem/internal/config"
	"remem/internal/embedding"
	"remem/internal/judge"
	"remem/internal/llm"
	"remem/internal/logging"
	"remem/internal/memory"
	"remem/internal/reason"
	"remem/internal/store"
	"remem/internal/types"
	"remem/internal/workspace"
)

// Engine owns every subsystem for the lifetime of the process.
type Engine struct {
	cfg        *config.Config
	backend    store.Backend
	embedder   embedding.Engine
	client     *llm.Client
	core       *memory.Core
	controller *reason.Controller
	judge      *judge.Judge
	backups    *backup.Manager
}

// New builds the engine from config. Fails fast on a missing API
// credential so requests never get halfway before discovering it.
func New(ctx context.Context, cfg *config.Config) (*Engine, error) {
	if cfg.LLM.APIKey == "" {
		return nil, types.NewError(types.KindApiKey,
			"no API key configured; set llm.api_key or REMEM_API_KEY")
	}

	embedder, err := embedding.NewEngine(embedding.Config{
		Provider:       cfg.Embedding.Provider,
		OllamaEndpoint: cfg.Embedding.OllamaEndpoint,
		OllamaModel:    cfg.Embedding.OllamaModel,
		GenAIAPIKey:    cfg.Embedding.GenAIAPIKey,
		GenAIModel:     cfg.Embedding.GenAIModel,
		TaskType:       cfg.Embedding.TaskType,
	})
	if err != nil {
		return nil, err
	}

	// Startup probe. An embedding outage later only degrades retrieval, so
	// an unreachable backend is logged, not fatal.
	if hc, ok := embedder.(embedding.HealthChecker); ok {
		probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := hc.HealthCheck(probeCtx); err != nil {
			logging.Get(logging.CategoryBoot).Warn("Embedding backend unreachable: %v", err)
		}
		cancel()
	}

	var backend store.Backend
	switch cfg.Memory.Backend {
	case "vector_cloud":
		backend, err = store.NewQdrantStore(ctx, cfg.Memory.QdrantHost, cfg.Memory.QdrantPort,
			cfg.Memory.QdrantCollection, embedder.Dimensions())
	default:
		backend, err = store.NewLocalStore(cfg.Memory.DatabasePath)
	}
	if err != nil {
		return nil, err
	}

	client := llm.NewClient(cfg.LLM, cfg.Cache)
	core := memory.NewCore(backend, embedder, cfg.Memory)

	logging.Boot("Engine ready: backend=%s embedder=%s model=%s",
		cfg.Memory.Backend, embedder.Name(), cfg.LLM.Model)

	return &Engine{
		cfg:        cfg,
		backend:    backend,
		embedder:   embedder,
		client:     client,
		core:       core,
		controller: reason.NewController(client, cfg.Reason),
		judge:      judge.New(client),
		backups:    backup.NewManager(core),
	}, nil
}

// Close releases backend and transport resources.
func (e *Engine) Close() error {
	e.client.Close()
	return e.backend.Close()
}

// Core exposes the memory core for peripheral tooling.
func (e *Engine) Core() *memory.Core { return e.core }

// SolveOptions tune one solve request.
type SolveOptions struct {
	UseMemory        bool
	EnableMatts      bool
	MattsK           int
	MattsMode        string
	RefineBest       bool
	StoreResult      bool
	MaxIterations    int
	SuccessThreshold float64
	Model            string
	ReasoningEffort  string
}

// DefaultSolveOptions mirror the request schema defaults.
func DefaultSolveOptions() SolveOptions {
	return SolveOptions{
		UseMemory:   true,
		StoreResult: true,
		MattsMode:   "parallel",
	}
}

// Solve runs the full pipeline: retrieve, reason (optionally MaTTS fanned
// out), judge, persist. A blown token budget returns the partial result
// alongside the error.
func (e *Engine) Solve(ctx context.Context, task, workspaceID string, opts SolveOptions) (*types.SolveResult, error) {
	timer := logging.StartTimer(logging.CategoryReason, "Solve")
	defer timer.Stop()

	if strings.TrimSpace(task) == "" {
		return nil, types.NewError(types.KindInvalidTask, "task must not be empty")
	}
	if !workspace.ValidID(workspaceID) {
		return nil, types.NewError(types.KindInvalidTask, "invalid workspace id %q", workspaceID)
	}
	if opts.EnableMatts && (opts.MattsK < 2 || opts.MattsK > 10) {
		return nil, types.NewError(types.KindInvalidTask,
			"matts_k must be in [2,10], got %d", opts.MattsK)
	}

	acct := budget.NewAccounter(e.cfg.Reason.RequestTokenBudget)

	// Retrieval failures degrade to a memoryless attempt rather than
	// failing the request.
	var scored []types.ScoredMemory
	if opts.UseMemory {
		var err error
		scored, err = e.core.Retrieve(ctx, task, workspaceID,
			e.cfg.Reason.RetrieveTopN, types.DefaultRetrieveOptions())
		if err != nil {
			if types.IsKind(err, types.KindEmbedding) {
				logging.Reason("Retrieval embedding failed, continuing without memories: %v", err)
			} else {
				return nil, err
			}
		}
	}
	memoryBlock := memory.Render(scored)

	run := reason.RunOptions{
		MaxIterations:    opts.MaxIterations,
		SuccessThreshold: opts.SuccessThreshold,
		Model:            opts.Model,
		ReasoningEffort:  opts.ReasoningEffort,
		CandidateID:      -1,
	}

	var attempt *reason.Attempt
	var trajectory []types.TrajectoryStep
	degraded := false
	var runErr error

	if opts.EnableMatts {
		res, err := e.controller.Orchestrate(ctx, task, memoryBlock, acct, reason.MattsOptions{
			K:          opts.MattsK,
			Mode:       opts.MattsMode,
			RefineBest: opts.RefineBest,
			Run:        run,
		})
		runErr = err
		if res != nil {
			trajectory = res.Trajectory
			degraded = res.Degraded
			if res.Best != nil {
				attempt = res.Best
			}
		}
	} else {
		attempt, runErr = e.controller.Run(ctx, task, memoryBlock, acct, run)
		if attempt != nil {
			trajectory = attempt.Trajectory
		}
	}

	if runErr != nil {
		if types.IsKind(runErr, types.KindTokenBudgetExceeded) && attempt != nil {
			return e.partialResult(attempt, trajectory, len(scored), acct), runErr
		}
		return nil, runErr
	}

	verdict, err := e.judge.Judge(ctx, task, attempt.Solution, attempt.Score)
	if err != nil {
		return nil, err
	}
	if err := acct.Charge(verdict.Tokens); err != nil {
		logging.Reason("Judge spend crossed the request token budget: %v", err)
	}
	trajectory = append(trajectory, types.TrajectoryStep{
		Iteration:   attempt.Iterations,
		Kind:        types.StepJudge,
		Content:     verdict.Reasoning,
		Score:       verdict.Score,
		Timestamp:   time.Now().UTC(),
		Tokens:      verdict.Tokens,
		CandidateID: -1,
	})

	result := &types.SolveResult{
		Solution:           attempt.Solution,
		Score:              verdict.Score,
		Verdict:            verdict.Verdict,
		Iterations:         attempt.Iterations,
		EarlyTermination:   attempt.EarlyTermination,
		LoopDetected:       attempt.LoopDetected,
		MemoriesUsed:       len(scored),
		TotalTokens:        acct.Spent(),
		JudgeReasoning:     verdict.Reasoning,
		LearningsExtracted: len(verdict.Learnings),
		Degraded:           degraded,
	}

	persist := opts.StoreResult &&
		(verdict.Verdict != types.OutcomeFailure || e.cfg.Memory.PersistFailuresEnabled())
	if persist {
		trace := &types.Trace{
			TraceID:     uuid.NewString(),
			WorkspaceID: workspaceID,
			Task:        task,
			Trajectory:  trajectory,
			Outcome:     verdict.Verdict,
			FinalScore:  verdict.Score,
			Metadata: types.TraceMetadata{
				Model:            e.modelName(opts.Model),
				ReasoningEffort:  opts.ReasoningEffort,
				MattsEnabled:     opts.EnableMatts,
				MattsK:           opts.MattsK,
				MattsMode:        opts.MattsMode,
				Iterations:       attempt.Iterations,
				CumulativeTokens: acct.Spent(),
				SuccessThreshold: run.SuccessThreshold,
			},
			CreatedAt:   time.Now().UTC(),
			MemoryItems: verdict.Learnings,
		}
		traceID, err := e.core.Store(ctx, trace)
		if err != nil {
			return nil, err
		}
		result.TraceID = traceID
	}

	return result, nil
}

func (e *Engine) modelName(override string) string {
	if override != "" {
		return override
	}
	return e.cfg.LLM.Model
}

func (e *Engine) partialResult(att *reason.Attempt, trajectory []types.TrajectoryStep, memoriesUsed int, acct *budget.Accounter) *types.SolveResult {
	return &types.SolveResult{
		Solution:         att.Solution,
		Score:            att.Score,
		Verdict:          types.OutcomePartial,
		Iterations:       att.Iterations,
		EarlyTermination: att.EarlyTermination,
		LoopDetected:     att.LoopDetected,
		MemoriesUsed:     memoriesUsed,
		TotalTokens:      acct.Spent(),
	}
}

// Retrieve returns the top n composite-scored memories for a query.
func (e *Engine) Retrieve(ctx context.Context, query, workspaceID string, n int, opts types.RetrieveOptions) ([]types.ScoredMemory, error) {
	return e.core.Retrieve(ctx, query, workspaceID, n, opts)
}

// Genealogy traverses the ancestry DAG for one memory.
func (e *Engine) Genealogy(ctx context.Context, memoryID, workspaceID string) (*types.Genealogy, error) {
	return e.core.Genealogy(ctx, memoryID, workspaceID)
}

// Statistics aggregates store, cache, and API counters.
type Statistics struct {
	Traces      int     `json:"traces"`
	Memories    int     `json:"memories"`
	SuccessRate float64 `json:"success_rate"`

	Cache struct {
		Hits      int64   `json:"hits"`
		Misses    int64   `json:"misses"`
		Bypassed  int64   `json:"bypassed"`
		Evictions int64   `json:"evictions"`
		HitRate   float64 `json:"hit_rate"`
	} `json:"cache"`

	API struct {
		Calls        int64   `json:"calls"`
		AvgLatencyMs int64   `json:"avg_latency_ms"`
		ErrorRate    float64 `json:"error_rate"`
	} `json:"api"`
}

// Stats returns the aggregate statistics for one workspace (or all when
// workspaceID is empty).
func (e *Engine) Stats(ctx context.Context, workspaceID string) (*Statistics, error) {
	ws, err := e.core.Statistics(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	out := &Statistics{
		Traces:      ws.Traces,
		Memories:    ws.Memories,
		SuccessRate: ws.SuccessRate,
	}

	cs := e.client.CacheStats()
	out.Cache.Hits = cs.Hits
	out.Cache.Misses = cs.Misses
	out.Cache.Bypassed = cs.Bypassed
	out.Cache.Evictions = cs.Evictions
	if total := cs.Hits + cs.Misses; total > 0 {
		out.Cache.HitRate = float64(cs.Hits) / float64(total)
	}

	as := e.client.Stats()
	out.API.Calls = as.Calls
	out.API.AvgLatencyMs = as.AvgLatencyMs()
	if as.Calls > 0 {
		out.API.ErrorRate = float64(as.Errors) / float64(as.Calls)
	}
	return out, nil
}

// Cleanup deletes records older than the retention horizon.
func (e *Engine) Cleanup(ctx context.Context, retentionDays int, workspaceID string) (memory.CleanupResult, error) {
	return e.core.Cleanup(ctx, retentionDays, workspaceID)
}

// DeleteWorkspace removes a workspace; refuses without confirm.
func (e *Engine) DeleteWorkspace(ctx context.Context, workspaceID string, confirm bool) (int, error) {
	return e.core.DeleteWorkspace(ctx, workspaceID, confirm)
}

// Backup archives a workspace to path.
func (e *Engine) Backup(ctx context.Context, path, workspaceID string, incremental bool) (*backup.Metadata, error) {
	return e.backups.Backup(ctx, path, workspaceID, incremental)
}

// Restore imports an archive.
func (e *Engine) Restore(ctx context.Context, path, targetWorkspace string, overwrite bool) (*backup.RestoreResult, error) {
	return e.backups.Restore(ctx, path, targetWorkspace, overwrite)
}

// ValidateBackup checks archive integrity without importing.
func (e *Engine) ValidateBackup(path string) (*backup.Metadata, error) {
	return e.backups.Validate(path)
}
