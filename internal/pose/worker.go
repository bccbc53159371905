package pose

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

const maxMessageSize = 16 << 20

var ErrWorkerClosed = errors.New("pose worker closed")

type detectRequest struct {
	Seq   uint64 `msgpack:"seq"`
	Image []byte `msgpack:"image"`
}

type detectResponse struct {
	Seq       uint64      `msgpack:"seq"`
	Found     bool        `msgpack:"found"`
	Landmarks LandmarkSet `msgpack:"landmarks"`
	Error     string      `msgpack:"error"`
}

// WorkerDetector talks to an external pose-estimation process over its stdin/stdout.
// Messages are msgpack documents prefixed with a 4-byte big-endian length. One request
// is in flight at a time. A worker that misses a reply or breaks the stream is discarded:
// it is shut down and every later call fails with ErrWorkerClosed.
type WorkerDetector struct {
	r       io.Reader
	w       io.Writer
	closer  io.Closer
	cmd     *exec.Cmd
	timeout time.Duration
	logger  zerolog.Logger

	sem       chan struct{}
	seq       uint64
	broken    atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}
}

type WorkerConfig struct {
	Command []string
	Timeout time.Duration
	// Workers is the number of processes a WorkerPool runs.
	Workers int
}

// StartWorker spawns the pose worker process described by cfg.Command.
func StartWorker(ctx context.Context, cfg WorkerConfig, logger zerolog.Logger) (*WorkerDetector, error) {
	if len(cfg.Command) == 0 {
		return nil, errors.New("pose worker command is required")
	}
	cmd := exec.CommandContext(ctx, cfg.Command[0], cfg.Command[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start pose worker: %w", err)
	}

	d := newWorkerDetector(stdout, stdin, stdin, cfg.Timeout, logger)
	d.cmd = cmd

	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			d.logger.Debug().Str("stderr", scanner.Text()).Msg("pose worker")
		}
	}()

	d.logger.Info().Int("pid", cmd.Process.Pid).Strs("command", cfg.Command).Msg("Pose worker started")
	return d, nil
}

func newWorkerDetector(r io.Reader, w io.Writer, closer io.Closer, timeout time.Duration, logger zerolog.Logger) *WorkerDetector {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &WorkerDetector{
		r:       r,
		w:       w,
		closer:  closer,
		timeout: timeout,
		logger:  logger.With().Str("component", "pose-worker").Logger(),
		sem:     make(chan struct{}, 1),
		closed:  make(chan struct{}),
	}
}

func (d *WorkerDetector) Detect(ctx context.Context, image []byte) (LandmarkSet, bool, error) {
	if !d.Healthy() {
		return nil, false, ErrWorkerClosed
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	select {
	case d.sem <- struct{}{}:
	case <-d.closed:
		return nil, false, ErrWorkerClosed
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	d.seq++
	seq := d.seq

	type result struct {
		resp detectResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		// the slot is held until the worker answers so responses stay in order
		defer func() { <-d.sem }()
		resp, err := d.roundTrip(seq, image)
		done <- result{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			d.discard(res.err)
			return nil, false, res.err
		}
		if res.resp.Error != "" {
			return nil, false, fmt.Errorf("pose worker: %s", res.resp.Error)
		}
		if !res.resp.Found || len(res.resp.Landmarks) == 0 {
			return nil, false, nil
		}
		return res.resp.Landmarks, true, nil
	case <-ctx.Done():
		// the pending reply would desynchronise the stream for the next caller
		d.discard(fmt.Errorf("no reply to seq %d: %w", seq, ctx.Err()))
		return nil, false, ctx.Err()
	}
}

// Healthy reports whether the worker can still take requests.
func (d *WorkerDetector) Healthy() bool {
	if d.broken.Load() {
		return false
	}
	select {
	case <-d.closed:
		return false
	default:
		return true
	}
}

func (d *WorkerDetector) discard(reason error) {
	if d.broken.Swap(true) {
		return
	}
	d.logger.Warn().Err(reason).Msg("Pose worker discarded")
	go func() { _ = d.Close() }()
}

func (d *WorkerDetector) roundTrip(seq uint64, image []byte) (detectResponse, error) {
	if err := writeMessage(d.w, detectRequest{Seq: seq, Image: image}); err != nil {
		return detectResponse{}, fmt.Errorf("write request: %w", err)
	}
	var resp detectResponse
	if err := readMessage(d.r, &resp); err != nil {
		return detectResponse{}, fmt.Errorf("read response: %w", err)
	}
	if resp.Seq != seq {
		return detectResponse{}, fmt.Errorf("response out of order: want seq %d, got %d", seq, resp.Seq)
	}
	return resp, nil
}

// Close stops the worker. Pending requests fail with ErrWorkerClosed.
func (d *WorkerDetector) Close() error {
	var err error
	d.closeOnce.Do(func() {
		close(d.closed)
		if d.closer != nil {
			err = d.closer.Close()
		}
		if d.cmd != nil {
			_ = d.cmd.Process.Kill()
			if werr := d.cmd.Wait(); werr != nil && err == nil {
				d.logger.Debug().Err(werr).Msg("Pose worker exited")
			}
		}
	})
	return err
}

// WorkerPool spreads detection over several worker processes so one slow frame only
// occupies one of them. Discarded workers are replaced on their next use.
type WorkerPool struct {
	start  func() (*WorkerDetector, error)
	slots  chan *WorkerDetector
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// StartWorkerPool spawns cfg.Workers pose worker processes.
func StartWorkerPool(ctx context.Context, cfg WorkerConfig, logger zerolog.Logger) (*WorkerPool, error) {
	return newWorkerPool(cfg.Workers, func() (*WorkerDetector, error) {
		return StartWorker(ctx, cfg, logger)
	}, logger)
}

func newWorkerPool(size int, start func() (*WorkerDetector, error), logger zerolog.Logger) (*WorkerPool, error) {
	if size <= 0 {
		size = 1
	}
	p := &WorkerPool{
		start:  start,
		slots:  make(chan *WorkerDetector, size),
		logger: logger.With().Str("component", "pose-pool").Logger(),
		done:   make(chan struct{}),
	}
	for i := 0; i < size; i++ {
		w, err := start()
		if err != nil {
			_ = p.Close()
			return nil, err
		}
		p.slots <- w
	}
	return p, nil
}

func (p *WorkerPool) Detect(ctx context.Context, image []byte) (LandmarkSet, bool, error) {
	var w *WorkerDetector
	select {
	case w = <-p.slots:
	case <-p.done:
		return nil, false, ErrWorkerClosed
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}

	if w == nil || !w.Healthy() {
		fresh, err := p.start()
		if err != nil {
			p.release(nil)
			return nil, false, fmt.Errorf("restart pose worker: %w", err)
		}
		p.logger.Info().Msg("Pose worker replaced")
		w = fresh
	}

	ls, found, err := w.Detect(ctx, image)
	if !w.Healthy() {
		p.release(nil)
	} else {
		p.release(w)
	}
	return ls, found, err
}

// release returns a worker, or an empty slot for a discarded one.
func (p *WorkerPool) release(w *WorkerDetector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		if w != nil {
			_ = w.Close()
		}
		return
	}
	p.slots <- w
}

// Close stops idle workers now and busy ones as they are released.
func (p *WorkerPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	close(p.done)
	for {
		select {
		case w := <-p.slots:
			if w != nil {
				_ = w.Close()
			}
		default:
			return nil
		}
	}
}

func writeMessage(w io.Writer, v any) error {
	payload, err := msgpack.Marshal(v)
	if err != nil {
		return err
	}
	prefix := make([]byte, 4)
	binary.BigEndian.PutUint32(prefix, uint32(len(payload)))
	if _, err := w.Write(prefix); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

func readMessage(r io.Reader, v any) error {
	prefix := make([]byte, 4)
	if _, err := io.ReadFull(r, prefix); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(prefix)
	if n > maxMessageSize {
		return fmt.Errorf("message of %d bytes exceeds limit", n)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return err
	}
	return msgpack.Unmarshal(payload, v)
}
