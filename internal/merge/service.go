package merge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/maauso/vidmerge/internal/export"
	"github.com/maauso/vidmerge/internal/history"
	"github.com/maauso/vidmerge/internal/history/id"
	"github.com/maauso/vidmerge/internal/mergeerr"
	"github.com/maauso/vidmerge/internal/mergeopts"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("merge service is closed")

// Runner executes one merge through an operation.
type Runner interface {
	Backend() string
	Run(ctx context.Context, op *Operation, raw []string, p mergeopts.Partial, onProgress export.ProgressFunc) (Result, error)
}

// Uploader pushes a finished output to object storage.
type Uploader interface {
	UploadToS3(ctx context.Context, key string, data io.Reader) (string, error)
}

// SubmitInput is an asynchronous merge request.
type SubmitInput struct {
	Inputs   []string
	Options  mergeopts.Partial
	PushToS3 bool
}

// Service runs merges in the background and records each one in a
// history.Repository.
type Service struct {
	runner   Runner
	repo     history.Repository
	uploader Uploader
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool
}

// NewService creates a Service. uploader may be nil, in which case requests
// asking for an S3 push record an upload error.
func NewService(runner Runner, repo history.Repository, uploader Uploader, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		runner:   runner,
		repo:     repo,
		uploader: uploader,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit records a new merge and starts it. The returned record is the
// initial snapshot; poll Get for updates.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*history.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	now := time.Now()
	rec := &history.Record{
		ID:        id.Generate(),
		ActionKey: mergeopts.DefaultActionKey,
		Backend:   s.runner.Backend(),
		Inputs:    append([]string(nil), in.Inputs...),
		State:     string(StateIdle),
		PushToS3:  in.PushToS3,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if in.Options.ActionKey != nil && *in.Options.ActionKey != "" {
		rec.ActionKey = *in.Options.ActionKey
	}

	s.logger.Info("submitting merge",
		slog.String("merge_id", rec.ID),
		slog.String("action_key", rec.ActionKey),
		slog.Int("inputs", len(rec.Inputs)),
		slog.Bool("push_to_s3", in.PushToS3),
	)
	if err := s.repo.Save(ctx, rec); err != nil {
		s.logger.Error("failed to save merge",
			slog.String("merge_id", rec.ID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	t := &tracker{rec: rec.Clone(), repo: s.repo, logger: s.logger}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(t, in)
	}()
	return rec, nil
}

func (s *Service) run(t *tracker, in SubmitInput) {
	op := NewOperation(func(st State) {
		t.update(s.ctx, func(r *history.Record) { r.State = string(st) })
	})
	res, err := s.runner.Run(s.ctx, op, in.Inputs, in.Options, func(_ string, fraction float64) {
		t.update(s.ctx, func(r *history.Record) { r.Progress = fraction })
	})

	// Final writes must land even while shutting down.
	ctx := context.WithoutCancel(s.ctx)
	if err != nil {
		t.update(ctx, func(r *history.Record) {
			r.State = string(op.State())
			r.ErrorKind = string(mergeerr.KindOf(err))
			r.Error = err.Error()
			r.CompletedAt = time.Now()
		})
		return
	}

	var url, uploadErr string
	if t.snapshot().PushToS3 {
		u, err := s.upload(ctx, t.snapshot().ID, res)
		if err != nil {
			s.logger.Warn("failed to push merge output to S3",
				slog.String("merge_id", t.snapshot().ID),
				slog.String("error", err.Error()),
			)
			uploadErr = err.Error()
		}
		url = u
	}

	t.update(ctx, func(r *history.Record) {
		r.State = string(op.State())
		r.Progress = 1
		r.Output = res.OutputReference.String()
		r.DurationSeconds = res.TotalDurationSeconds
		r.S3URL = url
		r.UploadError = uploadErr
		r.CompletedAt = time.Now()
	})
}

// upload pushes the output under {mergeID}/{file name}.
func (s *Service) upload(ctx context.Context, mergeID string, res Result) (string, error) {
	if s.uploader == nil {
		return "", errors.New("no S3 storage configured")
	}
	f, err := res.OutputReference.Open()
	if err != nil {
		return "", fmt.Errorf("open output: %w", err)
	}
	defer func() { _ = f.Close() }()
	return s.uploader.UploadToS3(ctx, path.Join(mergeID, filepath.Base(res.OutputReference.Path())), f)
}

// Get retrieves a merge record by ID.
func (s *Service) Get(ctx context.Context, id string) (*history.Record, error) {
	return s.repo.FindByID(ctx, id)
}

// List returns all merge records, newest first.
func (s *Service) List(ctx context.Context) ([]*history.Record, error) {
	return s.repo.List(ctx)
}

// Close cancels in-flight merges and waits for them to record their outcome
// or for ctx to end.
func (s *Service) Close(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tracker serialises updates to one record. Progress events arrive on the
// poller goroutine while state changes arrive on the merge goroutine.
type tracker struct {
	mu     sync.Mutex
	rec    *history.Record
	repo   history.Repository
	logger *slog.Logger
}

func (t *tracker) update(ctx context.Context, fn func(*history.Record)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.rec)
	t.rec.UpdatedAt = time.Now()
	if err := t.repo.Save(ctx, t.rec); err != nil {
		t.logger.Error("failed to save merge",
			slog.String("merge_id", t.rec.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (t *tracker) snapshot() *history.Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rec.Clone()
}
