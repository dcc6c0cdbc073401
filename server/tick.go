package server

import "time"

const (
	// DefaultTicksPerSecond 世界推进频率（20 TPS）
	DefaultTicksPerSecond = 20
)

// TickInterval 将频率换算为 ticker 周期
func TickInterval(ticksPerSecond int) time.Duration {
	if ticksPerSecond <= 0 {
		ticksPerSecond = DefaultTicksPerSecond
	}
	return time.Second / time.Duration(ticksPerSecond)
}

// StartTicker 启动房间的 Tick 循环（单线程推进世界），重复调用无效果
func (r *Room) StartTicker() {
	r.startOnce.Do(func() {
		go r.run()
	})
}

// Stop 结束 Tick 循环并关闭所有连接，等待循环退出；未启动的房间仅标记为关闭
func (r *Room) Stop() {
	r.stopOnce.Do(func() { close(r.quit) })
	started := true
	r.startOnce.Do(func() { started = false })
	if started {
		<-r.done
	}
}

func (r *Room) run() {
	defer close(r.done)
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.quit:
			r.shutdown()
			return
		case <-ticker.C:
			r.Tick()
		}
	}
}

// Tick 单帧：处理输入 → 广播结果
func (r *Room) Tick() {
	start := time.Now()
	r.BeginTick()
	r.ProcessInputs()
	r.Broadcast()
	r.tickSeq.Add(1)
	r.metrics.AddTick(time.Since(start).Nanoseconds())
}
