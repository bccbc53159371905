package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"backend-formcoach/internal/metrics"
	"backend-formcoach/internal/session"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

type Config struct {
	Workers      int
	QueueSize    int
	FPS          int
	WorkDir      string
	ProcessedDir string
	// ArtifactURL prefixes artifact file names in results, e.g. "/api/videos/".
	ArtifactURL  string
	ThumbnailURL string
	Extractor    Extractor
	Transcoder   Transcoder
}

// Runner drives queued jobs through evaluator sessions on a fixed pool of workers.
type Runner struct {
	sessions *session.Manager
	store    Store
	cfg      Config
	logger   zerolog.Logger
	now      func() time.Time

	queue chan string

	mu      sync.Mutex
	running map[string]context.CancelFunc

	completed atomic.Int64
	failed    atomic.Int64
}

func NewRunner(sessions *session.Manager, store Store, cfg Config, logger zerolog.Logger) *Runner {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 30
	}
	return &Runner{
		sessions: sessions,
		store:    store,
		cfg:      cfg,
		logger:   logger.With().Str("component", "batch").Logger(),
		now:      time.Now,
		queue:    make(chan string, cfg.QueueSize),
		running:  map[string]context.CancelFunc{},
	}
}

// Run processes jobs until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.Workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case id := <-r.queue:
					metrics.JobQueueDepth.Dec()
					r.process(ctx, id)
				}
			}
		})
	}
	return g.Wait()
}

func (r *Runner) Submit(ctx context.Context, req Request) (Job, error) {
	mode, err := r.sessions.ResolveMode(req.Mode)
	if err != nil {
		return Job{}, err
	}
	if req.Input == InputVideo && r.cfg.Extractor == nil {
		return Job{}, ErrNoExtractor
	}

	job := Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Mode:      mode,
		AthleteID: req.AthleteID,
		Input:     req.Input,
		Path:      req.Path,
		CreatedAt: r.now(),
	}
	if err := r.store.Put(ctx, job); err != nil {
		return Job{}, err
	}

	select {
	case r.queue <- job.ID:
		metrics.JobQueueDepth.Inc()
	default:
		r.finish(ctx, job, nil, ErrQueueFull)
		return Job{}, ErrQueueFull
	}

	r.logger.Info().Str("job_id", job.ID).Str("mode", mode).Str("input", string(req.Input)).Msg("job queued")
	return job, nil
}

func (r *Runner) Get(ctx context.Context, id string) (Job, error) {
	return r.store.Get(ctx, id)
}

// Cancel stops a queued or running job. The job ends up failed with ErrCancelled.
func (r *Runner) Cancel(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if job.Status.Finished() {
		return fmt.Errorf("%w: %s", ErrJobFinished, id)
	}
	if cancel, ok := r.running[id]; ok {
		cancel()
		return nil
	}
	return r.finishLocked(ctx, job, nil, ErrCancelled)
}

// Stats reports how many jobs finished since start.
func (r *Runner) Stats() (completed, failed int64) {
	return r.completed.Load(), r.failed.Load()
}

func (r *Runner) process(ctx context.Context, id string) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r.mu.Lock()
	job, err := r.store.Get(ctx, id)
	if err != nil || job.Status != StatusQueued {
		r.mu.Unlock()
		return
	}
	started := r.now()
	job.Status = StatusProcessing
	job.StartedAt = &started
	if err := r.store.Put(ctx, job); err != nil {
		r.logger.Error().Err(err).Str("job_id", id).Msg("store job")
	}
	r.running[id] = cancel
	r.mu.Unlock()

	logger := r.logger.With().Str("job_id", id).Logger()
	logger.Info().Str("path", job.Path).Msg("job started")

	res, err := r.execute(jobCtx, job)
	if err != nil && jobCtx.Err() != nil && ctx.Err() == nil {
		err = ErrCancelled
	}

	r.mu.Lock()
	delete(r.running, id)
	if ferr := r.finishLocked(context.Background(), job, res, err); ferr != nil {
		logger.Error().Err(ferr).Msg("store job")
	}
	r.mu.Unlock()

	if err != nil {
		logger.Error().Err(err).Msg("job failed")
		return
	}
	logger.Info().
		Int("correct", res.CorrectSquats).
		Int("incorrect", res.IncorrectSquats).
		Int("frames", res.FramesTotal).
		Dur("took", r.now().Sub(started)).
		Msg("job completed")
}

func (r *Runner) finish(ctx context.Context, job Job, res *Result, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ferr := r.finishLocked(ctx, job, res, err); ferr != nil {
		r.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("store job")
	}
}

func (r *Runner) finishLocked(ctx context.Context, job Job, res *Result, err error) error {
	finished := r.now()
	job.FinishedAt = &finished
	if err != nil {
		job.Status = StatusFailed
		job.Error = err.Error()
		r.failed.Add(1)
	} else {
		job.Status = StatusCompleted
		job.Result = res
		r.completed.Add(1)
	}
	metrics.JobsTotal.WithLabelValues(string(job.Status)).Inc()
	return r.store.Put(ctx, job)
}

func (r *Runner) execute(ctx context.Context, job Job) (*Result, error) {
	src, thumb, cleanup, err := r.open(ctx, job)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	defer src.Close()

	sid, err := r.sessions.Create(ctx, session.Options{
		Mode:      job.Mode,
		AthleteID: job.AthleteID,
		Source:    session.SourceBatch,
	})
	if err != nil {
		return nil, err
	}
	destroyed := false
	defer func() {
		if !destroyed {
			_, _ = r.sessions.Destroy(context.Background(), sid)
		}
	}()

	for {
		f, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		if _, err := r.sessions.ProcessFrame(ctx, sid, f); err != nil && !errors.Is(err, session.ErrInvalidFrame) {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	sum, err := r.sessions.Destroy(ctx, sid)
	destroyed = true
	if err != nil {
		return nil, err
	}

	res := &Result{
		VideoID:         job.ID,
		Mode:            job.Mode,
		CorrectSquats:   sum.Counters.Correct,
		IncorrectSquats: sum.Counters.Incorrect,
		FramesTotal:     sum.FramesReceived,
		FramesProcessed: sum.FramesProcessed,
		FramesFailed:    sum.FramesFailed,
	}
	r.artifacts(ctx, job, thumb, res)
	return res, nil
}

// open returns the job's frame source and, for image inputs, the first frame to use as
// a thumbnail.
func (r *Runner) open(ctx context.Context, job Job) (Source, string, func(), error) {
	noop := func() {}
	start := r.now()

	switch job.Input {
	case InputLandmarks:
		src, err := OpenLandmarkTrack(job.Path, r.cfg.FPS, start)
		if err != nil {
			return nil, "", noop, err
		}
		return src, "", noop, nil
	case InputImages:
		src, err := OpenImageDir(job.Path, r.cfg.FPS, start)
		if err != nil {
			return nil, "", noop, err
		}
		return src, src.First(), noop, nil
	case InputVideo:
		if r.cfg.Extractor == nil {
			return nil, "", noop, ErrNoExtractor
		}
		if r.cfg.WorkDir != "" {
			if err := os.MkdirAll(r.cfg.WorkDir, 0o755); err != nil {
				return nil, "", noop, fmt.Errorf("create work dir: %w", err)
			}
		}
		dir, err := os.MkdirTemp(r.cfg.WorkDir, "frames-")
		if err != nil {
			return nil, "", noop, fmt.Errorf("create frame dir: %w", err)
		}
		cleanup := func() { _ = os.RemoveAll(dir) }
		if err := r.cfg.Extractor.Extract(ctx, job.Path, dir); err != nil {
			cleanup()
			return nil, "", noop, fmt.Errorf("extract frames: %w", err)
		}
		src, err := OpenImageDir(dir, r.cfg.FPS, start)
		if err != nil {
			cleanup()
			return nil, "", noop, err
		}
		return src, src.First(), cleanup, nil
	}
	return nil, "", noop, fmt.Errorf("unsupported input %q", job.Input)
}

// artifacts writes the thumbnail and preview for a finished job. Failures are logged and
// leave the counts intact.
func (r *Runner) artifacts(ctx context.Context, job Job, thumb string, res *Result) {
	if r.cfg.ProcessedDir == "" {
		return
	}
	if err := os.MkdirAll(r.cfg.ProcessedDir, 0o755); err != nil {
		r.logger.Error().Err(err).Msg("create processed dir")
		return
	}

	if thumb != "" {
		name := "thumb_" + job.ID + filepath.Ext(thumb)
		if err := copyFile(thumb, filepath.Join(r.cfg.ProcessedDir, name)); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("write thumbnail")
		} else {
			res.ThumbnailURL = r.cfg.ThumbnailURL + name
			res.Artifacts = append(res.Artifacts, name)
		}
	}

	if job.Input == InputVideo && r.cfg.Transcoder != nil {
		name := "processed_" + job.ID + ".gif"
		if err := r.cfg.Transcoder.Transcode(ctx, job.Path, filepath.Join(r.cfg.ProcessedDir, name)); err != nil {
			r.logger.Warn().Err(err).Str("job_id", job.ID).Msg("transcode preview")
		} else {
			res.ProcessedVideoURL = r.cfg.ArtifactURL + name
			res.Artifacts = append(res.Artifacts, name)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
