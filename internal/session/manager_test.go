package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"backend-formcoach/internal/pose"
	"backend-formcoach/internal/pose/posetest"
	"backend-formcoach/internal/profile"
	"backend-formcoach/internal/squat"

	"github.com/rs/zerolog"
)

type fakeSink struct {
	mu        sync.Mutex
	summaries []Summary
	err       error
}

func (s *fakeSink) SaveSummary(_ context.Context, sum Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries = append(s.summaries, sum)
	return s.err
}

func newTestManager(t *testing.T, detector pose.Detector, sink SummarySink) *Manager {
	t.Helper()
	return NewManager(Config{
		Registry: profile.DefaultRegistry(),
		Detector: detector,
		Sink:     sink,
		Logger:   zerolog.Nop(),
	})
}

func feedRep(t *testing.T, m *Manager, id string, start time.Time) (squat.FrameResult, time.Time) {
	t.Helper()
	var res squat.FrameResult
	ts := start
	for _, ls := range posetest.Rep(4) {
		ts = ts.Add(33 * time.Millisecond)
		var err error
		res, err = m.ProcessFrame(context.Background(), id, Frame{Landmarks: ls, Timestamp: ts})
		if err != nil {
			t.Fatalf("process frame: %v", err)
		}
	}
	return res, ts
}

func TestCreateDefaultsAndUnknownMode(t *testing.T) {
	m := newTestManager(t, nil, nil)

	id, err := m.Create(context.Background(), Options{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	sum, err := m.Summary(id)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Mode != profile.ModeBeginner || sum.Source != SourceHTTP || sum.Phase != squat.Standing {
		t.Fatalf("unexpected defaults: %+v", sum)
	}

	if _, err := m.Create(context.Background(), Options{Mode: "expert"}); !errors.Is(err, profile.ErrUnknownMode) {
		t.Fatalf("expected unknown mode error, got %v", err)
	}
	if got := m.Totals().SessionsTotal; got != 1 {
		t.Fatalf("expected one session created, got %d", got)
	}
}

func TestProcessFrameCountsRep(t *testing.T) {
	m := newTestManager(t, nil, nil)
	id, _ := m.Create(context.Background(), Options{Mode: profile.ModePro})

	res, _ := feedRep(t, m, id, time.Now())
	if !res.RepCompleted || !res.RepCorrect || res.Cue != "1" {
		t.Fatalf("expected a correct rep on the last frame, got %+v", res)
	}

	sum, _ := m.Summary(id)
	if sum.Counters.Correct != 1 || sum.FramesProcessed != 16 || sum.FramesFailed != 0 {
		t.Fatalf("unexpected summary: %+v", sum)
	}
	if sum.LastFrameAt == nil || sum.FPS <= 0 {
		t.Fatalf("expected frame timing in summary: %+v", sum)
	}
}

func TestProcessFrameUsesDetector(t *testing.T) {
	calls := 0
	det := pose.DetectorFunc(func(_ context.Context, image []byte) (pose.LandmarkSet, bool, error) {
		calls++
		switch string(image) {
		case "empty":
			return nil, false, nil
		case "broken":
			return nil, false, errors.New("decode failed")
		}
		return posetest.Squat(posetest.StandingAngle), true, nil
	})
	m := newTestManager(t, det, nil)
	id, _ := m.Create(context.Background(), Options{})

	res, err := m.ProcessFrame(context.Background(), id, Frame{Image: []byte("ok")})
	if err != nil || !res.Valid {
		t.Fatalf("expected a valid frame, got %+v %v", res, err)
	}

	res, err = m.ProcessFrame(context.Background(), id, Frame{Image: []byte("empty")})
	if err != nil {
		t.Fatalf("no subject is not an error: %v", err)
	}
	if res.Valid {
		t.Fatalf("expected an invalid result when no body is found")
	}

	_, err = m.ProcessFrame(context.Background(), id, Frame{Image: []byte("broken")})
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected invalid frame error, got %v", err)
	}

	_, err = m.ProcessFrame(context.Background(), id, Frame{})
	if !errors.Is(err, ErrInvalidFrame) {
		t.Fatalf("expected invalid frame error for empty frame, got %v", err)
	}

	if calls != 3 {
		t.Fatalf("expected 3 detector calls, got %d", calls)
	}
	sum, _ := m.Summary(id)
	if sum.FramesReceived != 4 || sum.FramesProcessed != 1 || sum.FramesFailed != 3 {
		t.Fatalf("unexpected tallies: %+v", sum)
	}
}

func TestSwitchMode(t *testing.T) {
	m := newTestManager(t, nil, nil)
	id, _ := m.Create(context.Background(), Options{})
	feedRep(t, m, id, time.Now())

	if err := m.SwitchMode(id, "expert"); !errors.Is(err, profile.ErrUnknownMode) {
		t.Fatalf("expected unknown mode, got %v", err)
	}
	sum, _ := m.Summary(id)
	if sum.Mode != profile.ModeBeginner || sum.Counters.Correct != 1 {
		t.Fatalf("rejected switch must not change the session: %+v", sum)
	}

	if err := m.SwitchMode(id, profile.ModePro); err != nil {
		t.Fatalf("switch: %v", err)
	}
	sum, _ = m.Summary(id)
	if sum.Mode != profile.ModePro || sum.Counters.Total() != 0 || sum.Phase != squat.Standing {
		t.Fatalf("expected a fresh pro machine: %+v", sum)
	}
	if sum.FramesReceived != 16 {
		t.Fatalf("frame tallies should survive a mode switch: %+v", sum)
	}

	if err := m.SwitchMode("missing", profile.ModePro); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDestroy(t *testing.T) {
	sink := &fakeSink{err: errors.New("db down")}
	m := newTestManager(t, nil, sink)
	id, _ := m.Create(context.Background(), Options{AthleteID: "athlete-1"})
	feedRep(t, m, id, time.Now())

	sum, err := m.Destroy(context.Background(), id)
	if err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if sum.EndedAt == nil || sum.Counters.Correct != 1 || sum.AthleteID != "athlete-1" {
		t.Fatalf("unexpected final summary: %+v", sum)
	}
	if len(sink.summaries) != 1 || sink.summaries[0].ID != id {
		t.Fatalf("expected summary handed to sink")
	}

	if _, err := m.Destroy(context.Background(), id); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found on second destroy, got %v", err)
	}
	if _, err := m.ProcessFrame(context.Background(), id, Frame{}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected not found after destroy, got %v", err)
	}
	if m.Totals().ActiveSessions != 0 {
		t.Fatalf("expected no active sessions")
	}
}

func TestRecordDropped(t *testing.T) {
	m := newTestManager(t, nil, nil)
	id, _ := m.Create(context.Background(), Options{})
	m.RecordDropped(id)
	m.RecordDropped("missing")

	sum, _ := m.Summary(id)
	if sum.FramesDropped != 1 || sum.FramesFailed != 1 || sum.FramesReceived != 1 {
		t.Fatalf("unexpected tallies: %+v", sum)
	}
	if tot := m.Totals(); tot.FramesFailed != 1 || tot.FramesReceived != 1 {
		t.Fatalf("unexpected totals: %+v", tot)
	}
}

func TestList(t *testing.T) {
	m := newTestManager(t, nil, nil)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Second)
		m.now = func() time.Time { return at }
		id, _ := m.Create(context.Background(), Options{})
		ids = append(ids, id)
	}

	list := m.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 sessions, got %d", len(list))
	}
	for i, s := range list {
		if s.ID != ids[i] {
			t.Fatalf("expected oldest first")
		}
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	m := newTestManager(t, nil, nil)
	const n = 8

	ids := make([]string, n)
	for i := range ids {
		ids[i], _ = m.Create(context.Background(), Options{Mode: profile.ModePro})
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(reps int, id string) {
			defer wg.Done()
			ts := time.Now()
			for r := 0; r < reps; r++ {
				for _, ls := range posetest.Rep(4) {
					ts = ts.Add(33 * time.Millisecond)
					_, _ = m.ProcessFrame(context.Background(), id, Frame{Landmarks: ls, Timestamp: ts})
				}
			}
		}(i%3+1, id)
	}
	wg.Wait()

	for i, id := range ids {
		sum, _ := m.Summary(id)
		if sum.Counters.Correct != i%3+1 {
			t.Fatalf("session %d: expected %d reps, got %+v", i, i%3+1, sum.Counters)
		}
	}
	if tot := m.Totals(); tot.FramesProcessed != tot.FramesReceived {
		t.Fatalf("unexpected totals: %+v", tot)
	}
}

func TestResolveMode(t *testing.T) {
	m := newTestManager(t, nil, nil)
	if mode, err := m.ResolveMode(""); err != nil || mode != profile.ModeBeginner {
		t.Fatalf("expected default mode, got %q %v", mode, err)
	}
	if mode, err := m.ResolveMode(profile.ModePro); err != nil || mode != profile.ModePro {
		t.Fatalf("expected pro, got %q %v", mode, err)
	}
	if _, err := m.ResolveMode("expert"); !errors.Is(err, profile.ErrUnknownMode) {
		t.Fatalf("expected unknown mode, got %v", err)
	}
}

func TestReapIdleClosesAbandonedHTTPSessions(t *testing.T) {
	sink := &fakeSink{}
	m := newTestManager(t, nil, sink)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	ctx := context.Background()
	abandoned, _ := m.Create(ctx, Options{})
	busy, _ := m.Create(ctx, Options{})
	streamed, _ := m.Create(ctx, Options{Source: SourceStream})
	batched, _ := m.Create(ctx, Options{Source: SourceBatch})

	now = now.Add(50 * time.Second)
	if _, err := m.ProcessFrame(ctx, busy, Frame{Landmarks: posetest.Squat(posetest.StandingAngle)}); err != nil {
		t.Fatalf("process frame: %v", err)
	}

	now = now.Add(20 * time.Second)
	reaped := m.ReapIdle(ctx, time.Minute)
	if len(reaped) != 1 || reaped[0].ID != abandoned || reaped[0].EndedAt == nil {
		t.Fatalf("expected only the abandoned session reaped, got %+v", reaped)
	}
	if len(sink.summaries) != 1 {
		t.Fatalf("expected reaped summary to reach the sink")
	}
	if _, err := m.ProcessFrame(ctx, abandoned, Frame{Image: []byte("x")}); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected reaped session gone, got %v", err)
	}
	for _, id := range []string{busy, streamed, batched} {
		if _, err := m.Summary(id); err != nil {
			t.Fatalf("session %s should survive: %v", id, err)
		}
	}
	if tot := m.Totals(); tot.ActiveSessions != 3 {
		t.Fatalf("expected 3 active sessions, got %d", tot.ActiveSessions)
	}

	if _, err := m.Destroy(ctx, abandoned); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("destroy after reap should report not found, got %v", err)
	}
}

func TestRunReaperStopsOnCancel(t *testing.T) {
	m := newTestManager(t, nil, nil)
	id, _ := m.Create(context.Background(), Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.RunReaper(ctx, 20*time.Millisecond)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, err := m.Summary(id); errors.Is(err, ErrSessionNotFound) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected idle session to be reaped")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("reaper did not stop")
	}
}
