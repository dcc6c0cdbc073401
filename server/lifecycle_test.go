package server

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// blockingService runs until stopped and records the order it was stopped in.
type blockingService struct {
	name    string
	stops   *[]string
	mu      *sync.Mutex
	stopped chan struct{}
	once    sync.Once
	startFn func() error
}

func newBlockingService(name string, stops *[]string, mu *sync.Mutex) *blockingService {
	return &blockingService{name: name, stops: stops, mu: mu, stopped: make(chan struct{})}
}

func (s *blockingService) Start() error {
	if s.startFn != nil {
		return s.startFn()
	}
	<-s.stopped
	return nil
}

func (s *blockingService) Stop() {
	s.once.Do(func() {
		s.mu.Lock()
		*s.stops = append(*s.stops, s.name)
		s.mu.Unlock()
		close(s.stopped)
	})
}

func runLifecycle(lc *Lifecycle, ctx context.Context) <-chan error {
	done := make(chan error, 1)
	go func() { done <- lc.Run(ctx) }()
	return done
}

func TestLifecycleStopsServicesInReverseOrder(t *testing.T) {
	var mu sync.Mutex
	var stops []string
	lc := NewLifecycle(zaptest.NewLogger(t))
	for _, name := range []string{"a", "b", "c"} {
		lc.Add(name, newBlockingService(name, &stops, &mu))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := runLifecycle(lc, ctx)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down in time")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"c", "b", "a"}, stops)
}

func TestLifecycleServiceFailureStopsTheRest(t *testing.T) {
	var mu sync.Mutex
	var stops []string
	lc := NewLifecycle(zaptest.NewLogger(t))
	healthy := newBlockingService("healthy", &stops, &mu)
	broken := newBlockingService("broken", &stops, &mu)
	broken.startFn = func() error { return errors.New("bind failed") }
	lc.Add("healthy", healthy)
	lc.Add("broken", broken)

	select {
	case err := <-runLifecycle(lc, context.Background()):
		require.Error(t, err)
		assert.Contains(t, err.Error(), "service broken")
		assert.Contains(t, err.Error(), "bind failed")
	case <-time.After(5 * time.Second):
		t.Fatal("lifecycle did not shut down in time")
	}
	select {
	case <-healthy.stopped:
	default:
		t.Fatal("healthy service was not stopped")
	}
}

func TestFuncService(t *testing.T) {
	stopped := make(chan struct{})
	svc := &FuncService{
		StartFn: func() error { <-stopped; return nil },
		StopFn:  func() { close(stopped) },
	}
	lc := NewLifecycle(zaptest.NewLogger(t))
	lc.Add("func", svc)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, lc.Run(ctx))
}
