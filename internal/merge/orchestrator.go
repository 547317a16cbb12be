package merge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/maauso/vidmerge/internal/export"
	"github.com/maauso/vidmerge/internal/inspect"
	"github.com/maauso/vidmerge/internal/mediaref"
	"github.com/maauso/vidmerge/internal/mergeerr"
	"github.com/maauso/vidmerge/internal/mergeopts"
	"github.com/maauso/vidmerge/internal/timeline"
)

// Result is a successful merge.
type Result struct {
	OutputReference      mediaref.Reference
	TotalDurationSeconds float64
}

// Outcome is delivered by Start once the operation is terminal.
type Outcome struct {
	Result Result
	Err    error
}

// Orchestrator is the merge entry point. It is safe for concurrent use; each
// call runs its own Operation.
type Orchestrator struct {
	backend    export.Backend
	inspector  inspect.Inspector
	defaultDir string
	logger     *slog.Logger
}

// NewOrchestrator creates an Orchestrator. defaultDir is the output directory
// used when the caller supplies none.
func NewOrchestrator(backend export.Backend, inspector inspect.Inspector, defaultDir string, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{backend: backend, inspector: inspector, defaultDir: defaultDir, logger: logger}
}

// Backend returns the name of the configured export backend.
func (o *Orchestrator) Backend() string {
	return o.backend.Name()
}

// Merge sanitizes raw, resolves p and merges the inputs in order.
// Every returned error is a *mergeerr.Error.
func (o *Orchestrator) Merge(ctx context.Context, raw []string, p mergeopts.Partial, onProgress export.ProgressFunc) (Result, error) {
	return o.Run(ctx, NewOperation(nil), raw, p, onProgress)
}

// MergeReferences merges already sanitized references with resolved options.
func (o *Orchestrator) MergeReferences(ctx context.Context, refs []mediaref.Reference, opts mergeopts.Options, onProgress export.ProgressFunc) (Result, error) {
	op := NewOperation(nil)
	return o.execute(ctx, op, func() ([]mediaref.Reference, error) { return refs, nil },
		func() (mergeopts.Options, error) { return opts, nil }, onProgress)
}

// Start runs Merge on its own goroutine. The returned channel receives exactly
// one Outcome and is never closed.
func (o *Orchestrator) Start(ctx context.Context, op *Operation, raw []string, p mergeopts.Partial, onProgress export.ProgressFunc) <-chan Outcome {
	if op == nil {
		op = NewOperation(nil)
	}
	out := make(chan Outcome, 1)
	go func() {
		res, err := o.Run(ctx, op, raw, p, onProgress)
		out <- Outcome{Result: res, Err: err}
	}()
	return out
}

// Run is Merge driven through a caller-supplied operation, which must be idle.
func (o *Orchestrator) Run(ctx context.Context, op *Operation, raw []string, p mergeopts.Partial, onProgress export.ProgressFunc) (Result, error) {
	return o.execute(ctx, op,
		func() ([]mediaref.Reference, error) { return mediaref.SanitizeAll(raw) },
		func() (mergeopts.Options, error) { return mergeopts.Resolve(p, o.defaultDir) },
		onProgress,
	)
}

func (o *Orchestrator) execute(
	ctx context.Context,
	op *Operation,
	sanitize func() ([]mediaref.Reference, error),
	resolve func() (mergeopts.Options, error),
	onProgress export.ProgressFunc,
) (res Result, err error) {
	started := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = mergeerr.Wrap(fmt.Errorf("panic: %v", r))
		}
		if err != nil {
			err = mergeerr.Wrap(err)
			res = Result{}
		}
		op.finish(err)
		o.logOutcome(op, started, err)
	}()

	if err := op.TransitionTo(StateSanitizing); err != nil {
		return Result{}, err
	}
	refs, err := sanitize()
	if err != nil {
		return Result{}, err
	}

	if err := op.TransitionTo(StateResolvingOptions); err != nil {
		return Result{}, err
	}
	opts, err := resolve()
	if err != nil {
		return Result{}, err
	}

	if err := op.TransitionTo(StateInspecting); err != nil {
		return Result{}, err
	}
	tl, err := o.plan(ctx, refs, opts)
	if err != nil {
		return Result{}, err
	}
	if err := opts.EnsureOutputDir(); err != nil {
		return Result{}, err
	}

	if err := op.TransitionTo(StateExporting); err != nil {
		return Result{}, err
	}
	o.logger.Info("merge exporting",
		slog.String("action_key", opts.ActionKey),
		slog.String("backend", o.backend.Name()),
		slog.Int("inputs", len(refs)),
		slog.Bool("include_audio", opts.IncludeAudio),
	)

	out, err := o.backend.Export(ctx, export.Request{
		Key:      opts.ActionKey,
		Timeline: tl,
		Options:  opts,
		Progress: onProgress,
	})
	if err != nil {
		return Result{}, err
	}

	ref, err := mediaref.Sanitize(out.Output)
	if err != nil {
		return Result{}, err
	}
	return Result{OutputReference: ref, TotalDurationSeconds: out.Duration.Seconds()}, nil
}

// plan inspects every input in order and builds the timeline.
func (o *Orchestrator) plan(ctx context.Context, refs []mediaref.Reference, opts mergeopts.Options) (*timeline.Timeline, error) {
	assets := make([]*inspect.Asset, 0, len(refs))
	for _, ref := range refs {
		asset, err := o.inspector.Inspect(ctx, ref)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}
	return timeline.Build(assets, opts.IncludeAudio)
}

func (o *Orchestrator) logOutcome(op *Operation, started time.Time, err error) {
	attrs := []any{
		slog.String("state", string(op.State())),
		slog.String("backend", o.backend.Name()),
		slog.Duration("elapsed", time.Since(started)),
	}
	if err != nil {
		attrs = append(attrs,
			slog.String("kind", string(mergeerr.KindOf(err))),
			slog.String("error", err.Error()),
		)
		o.logger.Warn("merge finished", attrs...)
		return
	}
	o.logger.Info("merge finished", attrs...)
}
