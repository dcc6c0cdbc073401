package server

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// RoomMetrics 房间运行指标（监控与调试用），只通过 Sample 读取
type RoomMetrics struct {
	ticks          atomic.Int64
	inputsAccepted atomic.Int64
	rateLimited    atomic.Int64
	simulatedDrops atomic.Int64
	queueDiscards  atomic.Int64 // 队列满被丢弃的输入或帧
	joinsAccepted  atomic.Int64
	joinsRejected  atomic.Int64
	tickNs         atomic.Int64 // 累计 tick 耗时
}

func (m *RoomMetrics) IncAccepted()          { m.inputsAccepted.Add(1) }
func (m *RoomMetrics) IncRateLimited()       { m.rateLimited.Add(1) }
func (m *RoomMetrics) IncDropsSimulated()    { m.simulatedDrops.Add(1) }
func (m *RoomMetrics) IncChanFullDiscarded() { m.queueDiscards.Add(1) }
func (m *RoomMetrics) IncJoinsAccepted()     { m.joinsAccepted.Add(1) }
func (m *RoomMetrics) IncJoinsRejected()     { m.joinsRejected.Add(1) }
func (m *RoomMetrics) AddTick(ns int64) {
	m.ticks.Add(1)
	m.tickNs.Add(ns)
}

// MetricsSample 某一时刻的指标读数；admin 的 JSON 与 Prometheus 导出都基于它
type MetricsSample struct {
	Ticks          int64         `json:"tick_count"`
	InputsAccepted int64         `json:"inputs_accepted"`
	RateLimited    int64         `json:"rate_limited"`
	SimulatedDrops int64         `json:"drops_simulated"`
	QueueDiscards  int64         `json:"chan_full_discarded"`
	JoinsAccepted  int64         `json:"joins_accepted"`
	JoinsRejected  int64         `json:"joins_rejected"`
	TickTime       time.Duration `json:"-"`
	AvgTickMs      float64       `json:"avg_tick_ms"`
}

// Sample 读取当前指标
func (m *RoomMetrics) Sample() MetricsSample {
	s := MetricsSample{
		Ticks:          m.ticks.Load(),
		InputsAccepted: m.inputsAccepted.Load(),
		RateLimited:    m.rateLimited.Load(),
		SimulatedDrops: m.simulatedDrops.Load(),
		QueueDiscards:  m.queueDiscards.Load(),
		JoinsAccepted:  m.joinsAccepted.Load(),
		JoinsRejected:  m.joinsRejected.Load(),
		TickTime:       time.Duration(m.tickNs.Load()),
	}
	if s.Ticks > 0 {
		s.AvgTickMs = float64(s.TickTime) / float64(s.Ticks) / 1e6
	}
	return s
}

// Collector 抓取时把每个房间的指标导出给 Prometheus
type Collector struct {
	rooms *RoomManager

	ticks       *prometheus.Desc
	inputs      *prometheus.Desc
	rateLimited *prometheus.Desc
	dropped     *prometheus.Desc
	discarded   *prometheus.Desc
	joins       *prometheus.Desc
	tickSeconds *prometheus.Desc
	players     *prometheus.Desc
}

// NewCollector 基于房间管理器创建 collector
func NewCollector(rooms *RoomManager) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName("lanrace", "room", name), help, append([]string{"room"}, labels...), nil)
	}
	return &Collector{
		rooms:       rooms,
		ticks:       desc("ticks_total", "Ticks run by the room"),
		inputs:      desc("inputs_accepted_total", "Inputs applied to player positions"),
		rateLimited: desc("inputs_rate_limited_total", "Inputs rejected by the per-tick cap"),
		dropped:     desc("inputs_simulated_drops_total", "Inputs dropped by network emulation"),
		discarded:   desc("queue_discards_total", "Inputs or frames dropped on a full queue"),
		joins:       desc("joins_total", "Join attempts by outcome", "outcome"),
		tickSeconds: desc("tick_seconds_total", "Cumulative time spent ticking"),
		players:     desc("players", "Seated players"),
	}
}

// Describe 实现 prometheus.Collector
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.ticks
	ch <- c.inputs
	ch <- c.rateLimited
	ch <- c.dropped
	ch <- c.discarded
	ch <- c.joins
	ch <- c.tickSeconds
	ch <- c.players
}

// Collect 实现 prometheus.Collector
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	counter := func(d *prometheus.Desc, v int64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
	}
	for _, r := range c.rooms.Rooms() {
		m := r.Metrics().Sample()
		counter(c.ticks, m.Ticks, r.Code)
		counter(c.inputs, m.InputsAccepted, r.Code)
		counter(c.rateLimited, m.RateLimited, r.Code)
		counter(c.dropped, m.SimulatedDrops, r.Code)
		counter(c.discarded, m.QueueDiscards, r.Code)
		counter(c.joins, m.JoinsAccepted, r.Code, "accepted")
		counter(c.joins, m.JoinsRejected, r.Code, "rejected")
		ch <- prometheus.MustNewConstMetric(c.tickSeconds, prometheus.CounterValue, m.TickTime.Seconds(), r.Code)
		ch <- prometheus.MustNewConstMetric(c.players, prometheus.GaugeValue, float64(r.PlayerCount()), r.Code)
	}
}
