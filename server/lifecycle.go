package server

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Service is a long-running host component.
type Service interface {
	// Start runs the service and blocks until it is stopped or fails.
	Start() error
	// Stop makes Start return.
	Stop()
}

// FuncService adapts a start/stop pair into a Service.
type FuncService struct {
	StartFn func() error
	StopFn  func()
}

func (f *FuncService) Start() error { return f.StartFn() }
func (f *FuncService) Stop()        { f.StopFn() }

// Lifecycle starts services in order and stops them in reverse order.
type Lifecycle struct {
	logger   *zap.Logger
	services []namedService
}

type namedService struct {
	name    string
	service Service
}

// NewLifecycle returns an empty lifecycle.
func NewLifecycle(logger *zap.Logger) *Lifecycle {
	return &Lifecycle{logger: logger}
}

// Add registers a service. Not safe to call once Run has started.
func (l *Lifecycle) Add(name string, svc Service) {
	l.services = append(l.services, namedService{name: name, service: svc})
}

// Run starts every service and blocks until ctx is done or a service fails.
// Either way all services are stopped before it returns. The first service
// failure is returned.
func (l *Lifecycle) Run(ctx context.Context) error {
	start := time.Now()
	errCh := make(chan error, len(l.services))
	exited := make(chan struct{}, len(l.services))

	for _, ns := range l.services {
		go func() {
			defer func() { exited <- struct{}{} }()
			l.logger.Info("starting service", zap.String("service", ns.name))
			if err := ns.service.Start(); err != nil {
				l.logger.Error("service failed", zap.String("service", ns.name), zap.Error(err))
				errCh <- fmt.Errorf("service %s: %w", ns.name, err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		l.logger.Info("shutting down", zap.NamedError("cause", context.Cause(ctx)))
	case runErr = <-errCh:
		l.logger.Error("service error, shutting down", zap.Error(runErr))
	}

	l.shutdown()
	for range l.services {
		<-exited
	}
	l.logger.Info("shutdown complete", zap.Duration("uptime", time.Since(start)))
	return runErr
}

func (l *Lifecycle) shutdown() {
	for i := len(l.services) - 1; i >= 0; i-- {
		ns := l.services[i]
		t := time.Now()
		ns.service.Stop()
		l.logger.Info("service stopped", zap.String("service", ns.name), zap.Duration("elapsed", time.Since(t)))
	}
}
