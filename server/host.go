package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"lanrace/config"
	"lanrace/discovery"
)

// Host bundles everything a LAN session host runs: the rooms, the session
// acceptor, the discovery responder and the admin API.
type Host struct {
	Rooms     *RoomManager
	Acceptor  *Acceptor
	Responder *discovery.Responder
	Registry  *prometheus.Registry

	admin  *http.Server
	logger *zap.Logger
}

// NewHost builds a host from cfg. No sockets are opened until Run.
func NewHost(cfg config.HostConfig, logger *zap.Logger) *Host {
	rooms := NewRoomManager(Settings{
		Capacity:         cfg.Capacity,
		Width:            cfg.Width,
		Height:           cfg.Height,
		MaxInputsPerTick: cfg.MaxInputsPerTick,
	}, TickInterval(cfg.TickRate), logger)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		NewCollector(rooms),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	h := &Host{
		Rooms: rooms,
		Acceptor: NewAcceptor(AcceptorConfig{
			Addr:         cfg.SessionAddr(),
			JoinTimeout:  cfg.JoinTimeout,
			WriteTimeout: cfg.WriteTimeout,
			SendQueue:    cfg.SendQueue,
		}, rooms, logger),
		Responder: discovery.NewResponder(cfg.DiscoveryAddr(), cfg.AdvertiseAddr, rooms, logger),
		Registry:  registry,
		logger:    logger,
	}
	if cfg.AdminAddr != "" {
		spectators := NewSpectators(rooms, cfg.SendQueue, cfg.WriteTimeout, logger)
		h.admin = &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           NewAdmin(rooms, registry, spectators, logger).Routes(),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return h
}

// Run serves until ctx is cancelled or a listener fails, then shuts every
// part down and closes the rooms.
func (h *Host) Run(ctx context.Context) error {
	lc := NewLifecycle(h.logger)
	roomsDone := make(chan struct{})
	lc.Add("rooms", &FuncService{
		StartFn: func() error { <-roomsDone; return nil },
		StopFn: func() {
			h.Rooms.Close()
			close(roomsDone)
		},
	})
	lc.Add("session", &FuncService{StartFn: h.Acceptor.ListenAndServe, StopFn: h.Acceptor.Stop})
	lc.Add("discovery", &FuncService{StartFn: h.Responder.ListenAndServe, StopFn: h.Responder.Stop})
	if h.admin != nil {
		lc.Add("admin", &FuncService{
			StartFn: func() error {
				h.logger.Info("admin api listening", zap.String("addr", h.admin.Addr))
				if err := h.admin.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			},
			StopFn: func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = h.admin.Shutdown(shutdownCtx)
			},
		})
	}
	return lc.Run(ctx)
}
