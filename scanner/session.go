package scanner

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

var ErrStopped = errors.New("scan session stopped")

// ResultHandler receives the first fully valid result of a session. It runs
// on the worker goroutine that completed the session and must not block;
// callers that need the result elsewhere wait on Done and read Result.
type ResultHandler func(ScanResult)

const (
	sessionRunning int32 = iota
	sessionCompleted
	sessionStopped
)

// Session scans a stream of frames until one yields an MRZ whose check
// digits all pass. Frames are never queued: a frame submitted while another
// is waiting replaces it. The handler runs exactly once, results that
// finish after completion are discarded.
type Session struct {
	scanner *Scanner
	handler ResultHandler
	workers int

	mu      sync.Mutex
	pending image.Image
	busy    int // frames taken but not yet analyzed, guarded by mu
	wake    chan struct{}

	state     atomic.Int32
	result    ScanResult // set once before done is closed
	done      chan struct{}
	closeDone sync.Once

	dropped   atomic.Int64
	processed atomic.Int64
}

type SessionOption func(*Session)

// WithWorkers sets how many frames may be analyzed concurrently.
func WithWorkers(n int) SessionOption {
	return func(s *Session) {
		if n > 0 {
			s.workers = n
		}
	}
}

func (s *Scanner) NewSession(handler ResultHandler, opts ...SessionOption) *Session {
	sess := &Session{
		scanner: s,
		handler: handler,
		workers: 1,
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	for _, o := range opts {
		o(sess)
	}
	return sess
}

// Submit offers a frame for analysis and reports whether the session still
// accepts frames.
func (sess *Session) Submit(frame image.Image) bool {
	if sess.state.Load() != sessionRunning {
		return false
	}
	sess.mu.Lock()
	if sess.pending != nil {
		sess.dropped.Add(1)
	}
	sess.pending = frame
	sess.mu.Unlock()

	select {
	case sess.wake <- struct{}{}:
	default:
	}
	return true
}

func (sess *Session) take() image.Image {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	frame := sess.pending
	sess.pending = nil
	if frame != nil {
		sess.busy++
	}
	return frame
}

func (sess *Session) release() {
	sess.mu.Lock()
	sess.busy--
	sess.mu.Unlock()
}

// Idle reports whether no frame is waiting or being analyzed.
func (sess *Session) Idle() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.pending == nil && sess.busy == 0
}

// Run analyzes submitted frames until the session completes, is stopped
// or ctx ends. It returns nil after completion.
func (sess *Session) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < sess.workers; i++ {
		g.Go(func() error {
			return sess.work(ctx)
		})
	}
	err := g.Wait()

	switch sess.state.Load() {
	case sessionCompleted:
		return nil
	case sessionStopped:
		return ErrStopped
	}
	return err
}

func (sess *Session) work(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sess.done:
			return nil
		case <-sess.wake:
		}

		frame := sess.take()
		if frame == nil {
			continue
		}
		sess.processed.Add(1)

		err := sess.analyze(ctx, frame)
		sess.release()
		if err != nil {
			return err
		}
	}
}

// analyze only returns an error when ctx ends, frame errors are logged.
func (sess *Session) analyze(ctx context.Context, frame image.Image) error {
	res, err := sess.scanner.ScanFrame(ctx, frame)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sess.scanner.logger.Warn("Dropping frame", "error", err)
		return nil
	}
	if res != nil && res.MRZ.AllCheckDigitsValid {
		sess.complete(*res)
	}
	return nil
}

func (sess *Session) complete(res ScanResult) {
	if !sess.state.CompareAndSwap(sessionRunning, sessionCompleted) {
		sess.scanner.logger.Debug("Discarding result of completed session", "format", res.MRZ.Format)
		return
	}
	sess.result = res
	sess.closeDone.Do(func() { close(sess.done) })
	sess.scanner.logger.Info("MRZ scan completed", "format", res.MRZ.Format)
	if sess.handler != nil {
		sess.handler(res)
	}
}

// Stop ends the session without a result.
func (sess *Session) Stop() {
	if sess.state.CompareAndSwap(sessionRunning, sessionStopped) {
		sess.closeDone.Do(func() { close(sess.done) })
	}
}

// Done is closed once the session completed or was stopped.
func (sess *Session) Done() <-chan struct{} {
	return sess.done
}

// Completed reports whether a result was delivered.
func (sess *Session) Completed() bool {
	return sess.state.Load() == sessionCompleted
}

// Result returns the winning result once the session completed.
func (sess *Session) Result() (ScanResult, bool) {
	if !sess.Completed() {
		return ScanResult{}, false
	}
	<-sess.done
	return sess.result, true
}

// Dropped counts frames replaced by a newer frame before analysis.
func (sess *Session) Dropped() int64 {
	return sess.dropped.Load()
}

// Processed counts frames handed to the pipeline.
func (sess *Session) Processed() int64 {
	return sess.processed.Load()
}
