package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	vadmock "github.com/MrWong99/voxhire/pkg/provider/vad/mock"
)

func TestNew_RequiresEntrypoint(t *testing.T) {
	t.Parallel()

	if _, err := New(Options{}); err == nil {
		t.Fatal("expected error for missing entrypoint")
	}
}

func TestRun_PrewarmRunsOnceBeforeJobs(t *testing.T) {
	t.Parallel()

	var prewarms atomic.Int32
	engine := &vadmock.Engine{}
	jobsDone := make(chan *JobProcess, 2)

	w, err := New(Options{
		AgentName: "test-agent",
		Prewarm: func(proc *JobProcess) error {
			prewarms.Add(1)
			proc.VAD = engine
			return nil
		},
		Entrypoint: func(job *JobContext) error {
			jobsDone <- job.Proc
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	for i := 0; i < 2; i++ {
		if err := w.Submit(Job{RoomName: "room"}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	for i := 0; i < 2; i++ {
		select {
		case proc := <-jobsDone:
			if proc == nil || proc.VAD != engine {
				t.Errorf("job %d: prewarmed VAD not shared: %+v", i, proc)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("job never ran")
		}
	}

	cancel()
	if err := <-runDone; !errors.Is(err, context.Canceled) {
		t.Errorf("Run: %v", err)
	}
	if got := prewarms.Load(); got != 1 {
		t.Errorf("prewarm ran %d times, want 1", got)
	}
}

func TestRun_PrewarmFailureAborts(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("model load failed")
	w, err := New(Options{
		Prewarm:    func(*JobProcess) error { return wantErr },
		Entrypoint: func(*JobContext) error { return nil },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := w.Run(context.Background()); !errors.Is(err, wantErr) {
		t.Errorf("Run: got %v, want %v", err, wantErr)
	}
}

func TestJobContext_ShutdownCallbacksRunInOrder(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var order []string

	w, err := New(Options{
		Entrypoint: func(job *JobContext) error {
			job.AddShutdownCallback(func(reason string) {
				mu.Lock()
				order = append(order, "first:"+reason)
				mu.Unlock()
			})
			job.AddShutdownCallback(func(reason string) {
				mu.Lock()
				order = append(order, "second:"+reason)
				mu.Unlock()
			})
			job.Shutdown("call cut")
			<-job.Done()
			return job.Err()
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()

	if err := w.Submit(Job{ID: "job-1", RoomName: "room"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		mu.Lock()
		n := len(order)
		mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("callbacks never ran")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-runDone

	mu.Lock()
	defer mu.Unlock()
	if order[0] != "first:call cut" || order[1] != "second:call cut" {
		t.Errorf("callback order: %v", order)
	}
}

func TestJobContext_DefaultShutdownReason(t *testing.T) {
	t.Parallel()

	reasons := make(chan string, 1)
	w, err := New(Options{
		Entrypoint: func(job *JobContext) error {
			job.AddShutdownCallback(func(reason string) { reasons <- reason })
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := w.Submit(Job{RoomName: "room"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case reason := <-reasons:
		if reason != defaultShutdownReason {
			t.Errorf("reason: %q", reason)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestSubmit_AfterStopReturnsErrWorkerClosed(t *testing.T) {
	t.Parallel()

	w, err := New(Options{Entrypoint: func(*JobContext) error { return nil }})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() { runDone <- w.Run(ctx) }()
	cancel()
	<-runDone

	if err := w.Submit(Job{RoomName: "room"}); !errors.Is(err, ErrWorkerClosed) {
		t.Errorf("Submit after stop: %v", err)
	}
}

func TestSubmit_GeneratesJobID(t *testing.T) {
	t.Parallel()

	ids := make(chan string, 1)
	w, err := New(Options{
		Entrypoint: func(job *JobContext) error {
			ids <- job.Job.ID
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	if err := w.Submit(Job{RoomName: "room"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case id := <-ids:
		if id == "" {
			t.Error("job ID should be generated")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("job never ran")
	}
}
