// Package pipeline drives the task state machine: it validates inputs,
// resolves the ordered agent list, reserves billing up front, executes each
// agent in order with chaining and isolated failure handling, and produces
// one aggregate result per run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/probelab/dataprobe/internal/agent"
	"github.com/probelab/dataprobe/internal/billing"
	"github.com/probelab/dataprobe/internal/cache"
	"github.com/probelab/dataprobe/internal/catalog"
	"github.com/probelab/dataprobe/internal/objectstore"
	"github.com/probelab/dataprobe/internal/store"
	"github.com/probelab/dataprobe/pkg/models"
)

// Sentinel errors surfaced to the API boundary.
var (
	ErrMissingInputs = errors.New("required input artifacts missing")
	ErrTaskLocked    = errors.New("task is being processed by another writer")
)

// Machine-readable codes recorded in a failed task's error field.
const (
	CodeMissingInputs       = "MISSING_INPUTS"
	CodeInsufficientCredits = "INSUFFICIENT_CREDITS"
	CodeUnknownAgentCost    = "UNKNOWN_AGENT_COST"
	CodeStorageFailure      = "STORAGE_FAILURE"
	CodePolicyNotMet        = "SUCCESS_POLICY_NOT_MET"
)

// Progress is a linear function of position in the agent list. Processing
// starts at progressBase; the run owns progressRange points; terminal states
// land on 100.
const (
	progressBase  = 5
	progressRange = 90

	lockTTL = 30 * time.Minute
)

// Dispatcher hands a queued task to whatever executes it: inline in the
// triggering request, or a queue consumer. The orchestration contract is
// identical either way; this is a call-site concern.
type Dispatcher interface {
	Dispatch(ctx context.Context, taskID, userID uuid.UUID) error
}

// Orchestrator owns the task lifecycle from trigger to terminal state. It
// holds no per-task state of its own: everything a run needs is rebuilt from
// the task store and object store each invocation.
type Orchestrator struct {
	store       store.Store
	objects     objectstore.Store
	ledger      billing.Ledger
	catalog     *catalog.Registry
	agents      *agent.Registry
	cache       cache.Cache
	downloadTTL time.Duration
	dispatcher  Dispatcher
}

// New creates an Orchestrator. The dispatcher defaults to inline execution;
// use SetDispatcher to route queued tasks elsewhere.
func New(s store.Store, objects objectstore.Store, ledger billing.Ledger,
	reg *catalog.Registry, agents *agent.Registry, c cache.Cache, downloadTTL time.Duration) *Orchestrator {
	o := &Orchestrator{
		store:       s,
		objects:     objects,
		ledger:      ledger,
		catalog:     reg,
		agents:      agents,
		cache:       c,
		downloadTTL: downloadTTL,
	}
	o.dispatcher = inlineDispatcher{o}
	return o
}

// SetDispatcher replaces the dispatch strategy for queued tasks.
func (o *Orchestrator) SetDispatcher(d Dispatcher) {
	o.dispatcher = d
}

type inlineDispatcher struct {
	o *Orchestrator
}

func (d inlineDispatcher) Dispatch(ctx context.Context, taskID, userID uuid.UUID) error {
	return d.o.Process(ctx, taskID, userID)
}

// CreateTask validates the tool and optional explicit agent list and writes
// the task in state created.
func (o *Orchestrator) CreateTask(ctx context.Context, userID uuid.UUID, toolID string, agentIDs []string) (*models.Task, error) {
	tool, err := o.catalog.Tool(toolID)
	if err != nil {
		return nil, err
	}

	agents := agentIDs
	if len(agents) == 0 {
		agents = tool.Agents
	}
	for _, id := range agents {
		if _, err := o.catalog.Agent(id); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	task := &models.Task{
		ID:        uuid.New(),
		UserID:    userID,
		ToolID:    tool.ID,
		Agents:    agents,
		Status:    models.TaskStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// Trigger moves an uploading task to queued and dispatches it. Every required
// input must already exist in the object store; if any is missing the task
// stays in uploading and no billing is attempted.
func (o *Orchestrator) Trigger(ctx context.Context, taskID, userID uuid.UUID) (*models.Task, error) {
	task, err := o.store.GetTask(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}

	tool, err := o.catalog.Tool(task.ToolID)
	if err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range tool.RequiredInputs() {
		ok, err := o.objects.Exists(ctx, objectstore.InputKey(userID, taskID, name))
		if err != nil {
			return nil, fmt.Errorf("verify input %s: %w", name, err)
		}
		if !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrMissingInputs, missing)
	}

	if err := o.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusUploading, models.TaskStatusQueued); err != nil {
		return nil, err
	}
	o.invalidateSnapshot(ctx, userID, taskID)

	if err := o.dispatcher.Dispatch(ctx, taskID, userID); err != nil {
		return nil, err
	}

	return o.store.GetTask(ctx, taskID, userID)
}

// Retry resets a failed task to queued, preserving its id and billing
// history, and dispatches it again.
func (o *Orchestrator) Retry(ctx context.Context, taskID, userID uuid.UUID) (*models.Task, error) {
	if _, err := o.store.GetTask(ctx, taskID, userID); err != nil {
		return nil, err
	}
	if err := o.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusFailed, models.TaskStatusQueued); err != nil {
		return nil, err
	}
	o.invalidateSnapshot(ctx, userID, taskID)

	if err := o.dispatcher.Dispatch(ctx, taskID, userID); err != nil {
		return nil, err
	}
	return o.store.GetTask(ctx, taskID, userID)
}

// Process runs one queued task to a terminal state. It takes no implicit
// environment beyond its injected collaborators, so it can be invoked inline
// or from a queue consumer identically.
func (o *Orchestrator) Process(ctx context.Context, taskID, userID uuid.UUID) error {
	lockToken, acquired, err := o.cache.AcquireTaskLock(ctx, taskID, lockTTL)
	if err != nil {
		return fmt.Errorf("acquire task lock: %w", err)
	}
	if !acquired {
		return ErrTaskLocked
	}
	defer func() {
		if err := o.cache.ReleaseTaskLock(context.WithoutCancel(ctx), taskID, lockToken); err != nil {
			slog.Warn("release task lock failed", "task_id", taskID, "error", err)
		}
	}()

	task, err := o.store.GetTask(ctx, taskID, userID)
	if err != nil {
		return err
	}

	tool, err := o.catalog.Tool(task.ToolID)
	if err != nil {
		return err
	}

	if err := o.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusQueued, models.TaskStatusProcessing,
		store.WithProgress(progressBase)); err != nil {
		return err
	}
	o.invalidateSnapshot(ctx, userID, taskID)

	agents := task.Agents
	if len(agents) == 0 {
		agents = tool.Agents
	}

	// Load every required input up front; a missing artifact aborts before
	// any agent or billing call.
	pctx, err := o.loadContext(ctx, task, tool, agents)
	if err != nil {
		code := CodeStorageFailure
		if errors.Is(err, ErrMissingInputs) || errors.Is(err, objectstore.ErrObjectNotFound) {
			code = CodeMissingInputs
		}
		return o.fail(ctx, userID, taskID, code, err)
	}

	// All-or-nothing reservation: partial billing for a partially run
	// pipeline is the principal hazard this component guards against.
	charges, err := o.resolveCharges(agents)
	if err != nil {
		return o.fail(ctx, userID, taskID, CodeUnknownAgentCost, err)
	}
	if err := o.ledger.ReserveAndCharge(ctx, userID, taskID, charges); err != nil {
		switch {
		case errors.Is(err, billing.ErrInsufficientCredits):
			return o.fail(ctx, userID, taskID, CodeInsufficientCredits, err)
		case errors.Is(err, billing.ErrUnknownAgentCost):
			return o.fail(ctx, userID, taskID, CodeUnknownAgentCost, err)
		default:
			return o.fail(ctx, userID, taskID, CodeStorageFailure, fmt.Errorf("billing reservation: %w", err))
		}
	}

	aggregate, outputs := o.runAgents(ctx, userID, taskID, pctx)
	aggregate.TaskID = taskID
	aggregate.ToolID = tool.ID

	if err := o.persistOutputs(ctx, userID, taskID, aggregate, outputs); err != nil {
		// Without the consolidated report the run's results are lost, so the
		// whole pipeline aborts; the reservation is returned.
		o.refund(ctx, taskID)
		return o.fail(ctx, userID, taskID, CodeStorageFailure, err)
	}

	if !aggregate.PolicyMet(tool.SuccessPolicy) {
		if aggregate.Succeeded() == 0 {
			o.refund(ctx, taskID)
		}
		perr := fmt.Errorf("%d of %d agents succeeded under policy %s",
			aggregate.Succeeded(), len(aggregate.Results), tool.SuccessPolicy)
		return o.fail(ctx, userID, taskID, CodePolicyNotMet, perr)
	}

	if err := o.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusProcessing, models.TaskStatusCompleted,
		store.WithProgress(100), store.WithAgentCleared()); err != nil {
		return err
	}
	o.invalidateSnapshot(ctx, userID, taskID)

	slog.Info("pipeline completed",
		"task_id", taskID,
		"tool_id", tool.ID,
		"agents", len(aggregate.Results),
		"succeeded", aggregate.Succeeded(),
	)
	return nil
}

// loadContext rebuilds the pipeline context from storage: required inputs
// must load fully, optional inputs load when present.
func (o *Orchestrator) loadContext(ctx context.Context, task *models.Task, tool catalog.Tool, agents []string) (*Context, error) {
	pctx := &Context{
		Agents: agents,
		Files:  make(map[string][]byte, len(tool.Inputs)),
		Params: map[string]any{},
	}

	for _, in := range tool.Inputs {
		key := objectstore.InputKey(task.UserID, task.ID, in.Name)
		if !in.Required {
			ok, err := o.objects.Exists(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("check optional input %s: %w", in.Name, err)
			}
			if !ok {
				continue
			}
		}
		data, err := o.objects.Read(ctx, key)
		if err != nil {
			if in.Required && errors.Is(err, objectstore.ErrObjectNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrMissingInputs, in.Name)
			}
			return nil, fmt.Errorf("load input %s: %w", in.Name, err)
		}
		pctx.Files[in.Name] = data
	}

	return pctx, nil
}

func (o *Orchestrator) resolveCharges(agents []string) ([]billing.AgentCharge, error) {
	charges := make([]billing.AgentCharge, 0, len(agents))
	for _, id := range agents {
		spec, err := o.catalog.Agent(id)
		if err != nil {
			return nil, err
		}
		charges = append(charges, billing.AgentCharge{AgentID: spec.ID, Credits: spec.Credits})
	}
	return charges, nil
}

// runAgents iterates the agent list in order. One agent's failure never
// aborts the pipeline: it is folded into the aggregate and execution
// continues with the next agent.
func (o *Orchestrator) runAgents(ctx context.Context, userID, taskID uuid.UUID, pctx *Context) (*Aggregate, map[string][]byte) {
	total := len(pctx.Agents)
	aggregate := &Aggregate{Results: make([]agent.Result, 0, total)}
	outputs := make(map[string][]byte)

	for i, agentID := range pctx.Agents {
		// Persist current_agent before executing so a concurrent poller
		// never observes a stale value.
		progress := progressBase + (i*progressRange)/total
		if err := o.store.UpdateTaskProgress(ctx, taskID, progress, agentID); err != nil {
			slog.Warn("persist progress failed", "task_id", taskID, "agent", agentID, "error", err)
		}
		o.invalidateSnapshot(ctx, userID, taskID)

		result := o.executeOne(ctx, agentID, pctx, outputs)
		aggregate.Results = append(aggregate.Results, result)
	}

	aggregate.FinishedAt = time.Now().UTC()
	return aggregate, outputs
}

func (o *Orchestrator) executeOne(ctx context.Context, agentID string, pctx *Context, outputs map[string][]byte) agent.Result {
	spec, err := o.catalog.Agent(agentID)
	if err != nil {
		return agent.Result{AgentID: agentID, Status: agent.StatusError, Error: err.Error()}
	}

	exec, err := o.agents.Lookup(agentID)
	if err != nil {
		return agent.Result{AgentID: agentID, Status: agent.StatusError, Error: err.Error()}
	}

	outcome, err := exec.Execute(ctx, pctx.Files, pctx.Params)
	if err != nil {
		slog.Warn("agent failed", "agent", agentID, "error", err)
		return agent.Result{AgentID: agentID, Status: agent.StatusError, Error: err.Error()}
	}

	applyTransform(pctx, spec, outcome)

	result := agent.Result{
		AgentID: agentID,
		Status:  agent.StatusSuccess,
		Summary: outcome.Summary,
	}
	if spec.Output != "" && len(outcome.Output) > 0 {
		outputs[spec.Output] = outcome.Output
		result.Output = spec.Output
	}
	return result
}

// persistOutputs writes every agent artifact plus the consolidated report to
// the outputs/ prefix. A failed agent artifact write downgrades that agent's
// result; a failed report write is fatal.
func (o *Orchestrator) persistOutputs(ctx context.Context, userID, taskID uuid.UUID, aggregate *Aggregate, outputs map[string][]byte) error {
	for i := range aggregate.Results {
		r := &aggregate.Results[i]
		if r.Output == "" {
			continue
		}
		data, ok := outputs[r.Output]
		if !ok {
			continue
		}
		key := objectstore.OutputKey(userID, taskID, r.Output)
		if err := o.objects.Write(ctx, key, data); err != nil {
			slog.Warn("persist artifact failed", "task_id", taskID, "artifact", r.Output, "error", err)
			r.Status = agent.StatusError
			r.Error = fmt.Sprintf("persist artifact: %v", err)
			r.Output = ""
		}
	}

	report, err := aggregate.Report()
	if err != nil {
		return err
	}
	if err := o.objects.Write(ctx, objectstore.OutputKey(userID, taskID, reportArtifact), report); err != nil {
		return fmt.Errorf("persist report: %w", err)
	}
	return nil
}

// Download is one retrievable artifact of a completed task.
type Download struct {
	Name      string    `json:"name"`
	URL       string    `json:"download_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ListDownloads issues presigned read URLs for every output artifact of a
// task. Download URLs are generated on demand and never stored.
func (o *Orchestrator) ListDownloads(ctx context.Context, task *models.Task) ([]Download, error) {
	keys, err := o.objects.List(ctx, objectstore.OutputsPrefix(task.UserID, task.ID))
	if err != nil {
		return nil, fmt.Errorf("list outputs: %w", err)
	}

	downloads := make([]Download, 0, len(keys))
	for _, key := range keys {
		u, err := o.objects.PresignGet(ctx, key, o.downloadTTL)
		if err != nil {
			return nil, fmt.Errorf("presign download %s: %w", key, err)
		}
		downloads = append(downloads, Download{
			Name:      objectstore.BaseName(key),
			URL:       u.URL.String(),
			ExpiresAt: u.ExpiresAt,
		})
	}
	return downloads, nil
}

func (o *Orchestrator) fail(ctx context.Context, userID, taskID uuid.UUID, code string, cause error) error {
	slog.Error("pipeline failed", "task_id", taskID, "code", code, "error", cause)
	if err := o.store.UpdateTaskStatus(ctx, taskID, models.TaskStatusProcessing, models.TaskStatusFailed,
		store.WithAgentCleared(), store.WithTaskError(code, cause.Error())); err != nil {
		return fmt.Errorf("record failure (%s): %w", code, err)
	}
	o.invalidateSnapshot(ctx, userID, taskID)
	return nil
}

func (o *Orchestrator) refund(ctx context.Context, taskID uuid.UUID) {
	if err := o.ledger.Refund(ctx, taskID); err != nil && !errors.Is(err, billing.ErrNothingToRefund) {
		slog.Error("refund failed", "task_id", taskID, "error", err)
	}
}

func (o *Orchestrator) invalidateSnapshot(ctx context.Context, userID, taskID uuid.UUID) {
	if err := o.cache.InvalidateTaskSnapshot(ctx, userID, taskID); err != nil {
		slog.Warn("invalidate task snapshot failed", "task_id", taskID, "error", err)
	}
}
