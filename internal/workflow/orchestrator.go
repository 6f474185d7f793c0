// Package workflow drives a single work-item analysis run from fetch to
// write-back and reports each step to a progress sink.
package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tuannvm/ado-ai/internal/ado"
	"github.com/tuannvm/ado-ai/internal/analysis"
	"github.com/tuannvm/ado-ai/internal/apperr"
	"github.com/tuannvm/ado-ai/internal/config"
	"github.com/tuannvm/ado-ai/internal/logging"
	"github.com/tuannvm/ado-ai/internal/metrics"
	"github.com/tuannvm/ado-ai/internal/models"
)

const (
	tracerName = "github.com/tuannvm/ado-ai/internal/workflow"

	// DefaultCommentLimit is how many recent comments go into the prompt.
	DefaultCommentLimit = 5
)

// Options controls one CompleteWorkItem run.
type Options struct {
	AutoApprove        bool
	DryRun             bool
	CustomInstructions string
}

// Orchestrator runs analyses against one tracker and one analyzer.
type Orchestrator struct {
	tracker      ado.Tracker
	analyzer     analysis.Analyzer
	settings     *config.Settings
	metrics      *metrics.Metrics
	tracer       trace.Tracer
	commentLimit int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics records run outcomes, step durations and token usage.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithCommentLimit overrides DefaultCommentLimit.
func WithCommentLimit(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.commentLimit = n
		}
	}
}

// New creates an Orchestrator. settings provides the run defaults used by
// callers that build Options from configuration.
func New(tracker ado.Tracker, analyzer analysis.Analyzer, settings *config.Settings, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		tracker:      tracker,
		analyzer:     analyzer,
		settings:     settings,
		tracer:       otel.Tracer(tracerName),
		commentLimit: DefaultCommentLimit,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// DefaultOptions returns Options taken from the settings.
func (o *Orchestrator) DefaultOptions() Options {
	if o.settings == nil {
		return Options{}
	}
	return Options{AutoApprove: o.settings.AutoApprove, DryRun: o.settings.DryRun}
}

// run carries the per-run state shared by the step helpers.
type run struct {
	id         string
	workItemID int
	sink       ProgressSink
	log        *zap.SugaredLogger
}

func (o *Orchestrator) newRun(workItemID int, sink ProgressSink) *run {
	if sink == nil {
		sink = Discard
	}
	id := uuid.NewString()
	return &run{
		id:         id,
		workItemID: workItemID,
		sink:       sink,
		log:        logging.With("run_id", id, "work_item_id", workItemID),
	}
}

func (r *run) emit(ctx context.Context, step Step, errMsg string) {
	r.sink.Emit(ctx, Event{RunID: r.id, Step: step, WorkItemID: r.workItemID, Error: errMsg})
}

// fail converts err into a failed result and emits the error step.
func (o *Orchestrator) fail(ctx context.Context, r *run, res *Result, span trace.Span, err error) *Result {
	r.log.Errorf("Workflow failed: %v", err)
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	r.emit(ctx, StepError, err.Error())
	res.Success = false
	res.ErrorMessage = err.Error()
	res.Err = err
	return res
}

// recoverRun turns a panic in any step into a failed result.
func (o *Orchestrator) recoverRun(ctx context.Context, r *run, res *Result, span trace.Span) {
	if p := recover(); p != nil {
		o.fail(ctx, r, res, span, apperr.Workflow(fmt.Sprintf("unexpected failure: %v", p), nil))
	}
}

// step times fn and wraps it in a child span.
func (o *Orchestrator) step(ctx context.Context, name Step, fn func(ctx context.Context) error) error {
	ctx, span := o.tracer.Start(ctx, "workflow."+string(name))
	defer span.End()
	start := time.Now()
	err := fn(ctx)
	o.metrics.ObserveStep(string(name), start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// FetchWorkItem fetches a work item for read-only inspection.
func (o *Orchestrator) FetchWorkItem(ctx context.Context, workItemID int, sink ProgressSink) (res *Result) {
	r := o.newRun(workItemID, sink)
	res = &Result{RunID: r.id, WorkItemID: workItemID}

	ctx, span := o.tracer.Start(ctx, "workflow.fetch",
		trace.WithAttributes(attribute.Int("work_item.id", workItemID), attribute.String("run.id", r.id)))
	defer span.End()
	defer func() { o.metrics.RecordRun("fetch", res.Success) }()
	defer o.recoverRun(ctx, r, res, span)

	r.emit(ctx, StepFetching, "")
	err := o.step(ctx, StepFetching, func(ctx context.Context) error {
		wi, err := o.tracker.GetWorkItem(ctx, workItemID)
		res.WorkItem = wi
		return err
	})
	if err != nil {
		return o.fail(ctx, r, res, span, err)
	}

	r.log.Infof("Fetched work item: %s", res.WorkItem.Title)
	res.Success = true
	return res
}

// CompleteWorkItem runs the full analysis and, unless it is a dry run or the
// change is declined, writes the result back to the tracker. It never
// returns an error; failures are reported in the Result.
func (o *Orchestrator) CompleteWorkItem(ctx context.Context, workItemID int, opts Options, sink ProgressSink) (res *Result) {
	r := o.newRun(workItemID, sink)
	res = &Result{RunID: r.id, WorkItemID: workItemID}

	ctx, span := o.tracer.Start(ctx, "workflow.complete",
		trace.WithAttributes(
			attribute.Int("work_item.id", workItemID),
			attribute.String("run.id", r.id),
			attribute.Bool("dry_run", opts.DryRun),
			attribute.Bool("auto_approve", opts.AutoApprove),
		))
	defer span.End()
	defer func() { o.metrics.RecordRun("complete", res.Success) }()
	defer o.recoverRun(ctx, r, res, span)

	r.log.Infof("Starting workflow (dry_run=%t, auto_approve=%t)", opts.DryRun, opts.AutoApprove)

	r.emit(ctx, StepFetching, "")
	err := o.step(ctx, StepFetching, func(ctx context.Context) error {
		wi, err := o.tracker.GetWorkItem(ctx, workItemID)
		res.WorkItem = wi
		return err
	})
	if err != nil {
		return o.fail(ctx, r, res, span, err)
	}

	r.emit(ctx, StepFetchingComments, "")
	var comments []models.Comment
	_ = o.step(ctx, StepFetchingComments, func(ctx context.Context) error {
		comments = o.tracker.GetComments(ctx, workItemID, o.commentLimit)
		return nil
	})

	r.emit(ctx, StepAnalyzing, "")
	err = o.step(ctx, StepAnalyzing, func(ctx context.Context) error {
		a, err := o.analyzer.Analyze(ctx, res.WorkItem, comments, opts.CustomInstructions)
		res.Analysis = a
		return err
	})
	if err != nil {
		return o.fail(ctx, r, res, span, err)
	}

	usage := res.Analysis.TokenUsage
	cost := usage.Cost(o.analyzer.Model())
	o.metrics.RecordUsage(usage.InputTokens, usage.OutputTokens, cost)
	span.SetAttributes(
		attribute.Int("llm.input_tokens", usage.InputTokens),
		attribute.Int("llm.output_tokens", usage.OutputTokens),
	)
	r.log.Infof("Analysis complete: %d tokens, $%.4f", usage.Total(), cost)

	if opts.DryRun {
		r.emit(ctx, StepDryRunComplete, "")
		res.Success = true
		return res
	}

	fields := BuildUpdateFields(res.WorkItem, res.Analysis)

	if !opts.AutoApprove {
		approved, err := o.confirm(ctx, r, ConfirmRequest{
			WorkItem: res.WorkItem,
			Analysis: res.Analysis,
			Fields:   fields,
			Model:    o.analyzer.Model(),
		})
		if err != nil {
			return o.fail(ctx, r, res, span, apperr.Workflow("confirmation failed", err))
		}
		if !approved {
			r.log.Infof("Changes not approved")
			res.Success = false
			res.ErrorMessage = MsgUserCancelled
			return res
		}
	}

	r.emit(ctx, StepUpdating, "")
	err = o.step(ctx, StepUpdating, func(ctx context.Context) error {
		out, err := o.tracker.UpdateWorkItem(ctx, workItemID, fields, FormatComment(res.Analysis))
		res.Update = out
		return err
	})
	if err != nil {
		return o.fail(ctx, r, res, span, err)
	}

	if !res.Update.Success {
		r.log.Warnf("Update failed: %s", res.Update.ErrorMessage)
		span.SetStatus(codes.Error, res.Update.ErrorMessage)
		r.emit(ctx, StepFailed, res.Update.ErrorMessage)
		res.Success = false
		res.ErrorMessage = res.Update.ErrorMessage
		return res
	}

	r.emit(ctx, StepCompleted, "")
	r.log.Infof("Work item updated: %v", res.Update.UpdatedFields)
	res.Success = true
	return res
}

// confirm asks the sink for approval. Sinks without the Confirmer
// capability decline.
func (o *Orchestrator) confirm(ctx context.Context, r *run, req ConfirmRequest) (bool, error) {
	c, ok := r.sink.(Confirmer)
	if !ok {
		r.log.Infof("Approval deferred: progress sink cannot confirm changes")
		return false, nil
	}
	return c.Confirm(ctx, req)
}
