package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// roomConfig 可热更新的房间规则；更新时缺省字段保持不变
type roomConfig struct {
	Capacity           *int     `json:"capacity,omitempty"`
	MaxInputsPerTick   *int     `json:"maxInputsPerTick,omitempty"`
	SimulateDelayMinMs *int     `json:"simulateDelayMinMs,omitempty"`
	SimulateDelayMaxMs *int     `json:"simulateDelayMaxMs,omitempty"`
	SimulateDropProb   *float64 `json:"simulateDropProb,omitempty"`
}

func configOf(s Settings) roomConfig {
	return roomConfig{
		Capacity:           &s.Capacity,
		MaxInputsPerTick:   &s.MaxInputsPerTick,
		SimulateDelayMinMs: &s.SimulateDelayMinMs,
		SimulateDelayMaxMs: &s.SimulateDelayMaxMs,
		SimulateDropProb:   &s.SimulateDropProb,
	}
}

func (c roomConfig) apply(s Settings) Settings {
	if c.Capacity != nil {
		s.Capacity = *c.Capacity
	}
	if c.MaxInputsPerTick != nil {
		s.MaxInputsPerTick = *c.MaxInputsPerTick
	}
	if c.SimulateDelayMinMs != nil {
		s.SimulateDelayMinMs = *c.SimulateDelayMinMs
	}
	if c.SimulateDelayMaxMs != nil {
		s.SimulateDelayMaxMs = *c.SimulateDelayMaxMs
	}
	if c.SimulateDropProb != nil {
		s.SimulateDropProb = *c.SimulateDropProb
	}
	return s
}

// ValidateSettings 返回第一个不合法的规则
func ValidateSettings(s Settings) error {
	switch {
	case s.Capacity < 1:
		return errors.New("capacity must be at least 1")
	case s.MaxInputsPerTick < 1:
		return errors.New("maxInputsPerTick must be at least 1")
	case s.SimulateDelayMinMs < 0 || s.SimulateDelayMaxMs < 0:
		return errors.New("simulated delay must not be negative")
	case s.SimulateDelayMinMs > s.SimulateDelayMaxMs && s.SimulateDelayMaxMs > 0:
		return errors.New("simulateDelayMinMs exceeds simulateDelayMaxMs")
	case s.SimulateDropProb < 0 || s.SimulateDropProb > 1:
		return errors.New("simulateDropProb must be within [0,1]")
	}
	return nil
}

// Admin 主机的运维 HTTP 接口
type Admin struct {
	rooms      *RoomManager
	gatherer   prometheus.Gatherer
	spectators http.Handler
	logger     *zap.Logger
	tracer     trace.TracerProvider
}

// NewAdmin spectators 为 nil 时不提供 /ws
func NewAdmin(rooms *RoomManager, gatherer prometheus.Gatherer, spectators http.Handler, logger *zap.Logger) *Admin {
	return &Admin{rooms: rooms, gatherer: gatherer, spectators: spectators, logger: logger, tracer: otel.GetTracerProvider()}
}

// Routes 构建路由
// GET  /admin/config?room=ZK9Q  返回当前配置
// POST /admin/config?room=ZK9Q  热更新配置
func (a *Admin) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "lanrace.admin", otelhttp.WithTracerProvider(a.tracer))
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	if a.spectators != nil {
		r.Handle("/ws", a.spectators)
	}
	r.Route("/admin", func(r chi.Router) {
		r.Get("/rooms", a.listRooms)
		r.Post("/rooms", a.createRoom)
		r.Delete("/rooms/{code}", a.closeRoom)
		r.Get("/config", a.getConfig)
		r.Post("/config", a.updateConfig)
		r.Get("/stats", a.stats)
	})
	return r
}

// lookupRoom 解析 ?room=，为空时使用默认房间
func lookupRoom(rooms *RoomManager, code string) (*Room, bool) {
	if code == "" {
		return rooms.Default()
	}
	return rooms.Room(code)
}

func (a *Admin) room(w http.ResponseWriter, r *http.Request) (*Room, bool) {
	room, ok := lookupRoom(a.rooms, r.URL.Query().Get("room"))
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
	}
	return room, ok
}

func (a *Admin) listRooms(w http.ResponseWriter, _ *http.Request) {
	rooms := a.rooms.Rooms()
	out := make([]map[string]any, 0, len(rooms))
	for _, room := range rooms {
		d := room.Descriptor()
		out = append(out, map[string]any{
			"code":     d.SessionCode,
			"name":     d.Name,
			"players":  d.Players,
			"capacity": d.Capacity,
			"tick":     room.TickSeq(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *Admin) createRoom(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
		Code string `json:"code"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
	}
	var room *Room
	if body.Code != "" {
		var err error
		if room, err = a.rooms.GetOrCreateRoom(body.Code); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	} else {
		room = a.rooms.CreateRoom(body.Name)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"code": room.Code, "name": room.Name})
}

func (a *Admin) closeRoom(w http.ResponseWriter, r *http.Request) {
	if !a.rooms.CloseRoom(chi.URLParam(r, "code")) {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *Admin) getConfig(w http.ResponseWriter, r *http.Request) {
	room, ok := a.room(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, configOf(room.Settings()))
}

func (a *Admin) updateConfig(w http.ResponseWriter, r *http.Request) {
	room, ok := a.room(w, r)
	if !ok {
		return
	}
	var body roomConfig
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := ValidateSettings(body.apply(room.Settings())); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var verr error
	s := room.UpdateSettings(func(s *Settings) {
		next := body.apply(*s)
		// 以锁内的最新值再校验一次（可能有并发更新）
		if verr = ValidateSettings(next); verr == nil {
			*s = next
		}
	})
	if verr != nil {
		http.Error(w, verr.Error(), http.StatusConflict)
		return
	}
	a.logger.Info("room config updated",
		zap.String("room", room.Code),
		zap.Int("capacity", s.Capacity),
		zap.Int("max_inputs_per_tick", s.MaxInputsPerTick),
		zap.Int("delay_min_ms", s.SimulateDelayMinMs),
		zap.Int("delay_max_ms", s.SimulateDelayMaxMs),
		zap.Float64("drop_prob", s.SimulateDropProb),
	)
	writeJSON(w, http.StatusOK, configOf(s))
}

func (a *Admin) stats(w http.ResponseWriter, r *http.Request) {
	room, ok := a.room(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"room":    room.Code,
		"tick":    room.TickSeq(),
		"players": room.PlayerCount(),
		"metrics": room.Metrics().Sample(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
