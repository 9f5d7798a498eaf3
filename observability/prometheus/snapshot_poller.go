package prometheus

import (
	"context"
	"sync"
	"time"

	"github.com/go-powerpool/powerpool/core"
	prom "github.com/prometheus/client_golang/prometheus"
)

// PoolSnapshotProvider provides current pool stats snapshots (spec §6
// "Read-only state surface").
type PoolSnapshotProvider interface {
	Stats() core.PoolStats
}

// SnapshotPoller periodically exports PowerPool Stats() snapshots into
// Prometheus gauges, for fields the event-driven MetricsExporter has no
// natural hook for (idle/running/alive worker counts, queue depth, average
// timings) — grounded on the teacher's SnapshotPoller.
type SnapshotPoller struct {
	interval time.Duration

	poolsMu sync.RWMutex
	pools   map[string]PoolSnapshotProvider

	idleWorkers    *prom.GaugeVec
	runningWorkers *prom.GaugeVec
	aliveWorkers   *prom.GaugeVec
	longRunning    *prom.GaugeVec
	waitingWork    *prom.GaugeVec
	failedWork     *prom.GaugeVec
	avgQueueTime   *prom.GaugeVec
	avgExecuteTime *prom.GaugeVec
	poolRunning    *prom.GaugeVec
	poolStopping   *prom.GaugeVec

	stateMu sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSnapshotPoller creates a snapshot poller and registers its collectors.
func NewSnapshotPoller(reg prom.Registerer, interval time.Duration) (*SnapshotPoller, error) {
	if reg == nil {
		reg = prom.DefaultRegisterer
	}
	if interval <= 0 {
		interval = time.Second
	}

	idleWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "powerpool",
		Name:      "idle_workers",
		Help:      "Idle worker count per pool.",
	}, []string{"pool"})
	runningWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "powerpool",
		Name:      "running_workers",
		Help:      "Running worker count per pool.",
	}, []string{"pool"})
	aliveWorkers := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "powerpool",
		Name:      "alive_workers",
		Help:      "Alive worker count per pool.",
	}, []string{"pool"})
	longRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "powerpool",
		Name:      "long_running_workers",
		Help:      "Long-running worker count per pool.",
	}, []string{"pool"})
	waitingWork := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "powerpool",
		Name:      "waiting_work",
		Help:      "Waiting work count per pool.",
	}, []string{"pool"})
	failedWork := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "powerpool",
		Name:      "failed_work",
		Help:      "Failed work count per pool (since last clear).",
	}, []string{"pool"})
	avgQueueTime := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "powerpool",
		Name:      "average_queue_time_seconds",
		Help:      "Average queue time per pool.",
	}, []string{"pool"})
	avgExecuteTime := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "powerpool",
		Name:      "average_execute_time_seconds",
		Help:      "Average execute time per pool.",
	}, []string{"pool"})
	poolRunning := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "powerpool",
		Name:      "pool_running",
		Help:      "Pool running state (1=running, 0=not running).",
	}, []string{"pool"})
	poolStopping := prom.NewGaugeVec(prom.GaugeOpts{
		Namespace: "powerpool",
		Name:      "pool_stopping",
		Help:      "Pool stopping state (1=stopping, 0=otherwise).",
	}, []string{"pool"})

	var err error
	if idleWorkers, err = registerCollector(reg, idleWorkers); err != nil {
		return nil, err
	}
	if runningWorkers, err = registerCollector(reg, runningWorkers); err != nil {
		return nil, err
	}
	if aliveWorkers, err = registerCollector(reg, aliveWorkers); err != nil {
		return nil, err
	}
	if longRunning, err = registerCollector(reg, longRunning); err != nil {
		return nil, err
	}
	if waitingWork, err = registerCollector(reg, waitingWork); err != nil {
		return nil, err
	}
	if failedWork, err = registerCollector(reg, failedWork); err != nil {
		return nil, err
	}
	if avgQueueTime, err = registerCollector(reg, avgQueueTime); err != nil {
		return nil, err
	}
	if avgExecuteTime, err = registerCollector(reg, avgExecuteTime); err != nil {
		return nil, err
	}
	if poolRunning, err = registerCollector(reg, poolRunning); err != nil {
		return nil, err
	}
	if poolStopping, err = registerCollector(reg, poolStopping); err != nil {
		return nil, err
	}

	return &SnapshotPoller{
		interval:       interval,
		pools:          make(map[string]PoolSnapshotProvider),
		idleWorkers:    idleWorkers,
		runningWorkers: runningWorkers,
		aliveWorkers:   aliveWorkers,
		longRunning:    longRunning,
		waitingWork:    waitingWork,
		failedWork:     failedWork,
		avgQueueTime:   avgQueueTime,
		avgExecuteTime: avgExecuteTime,
		poolRunning:    poolRunning,
		poolStopping:   poolStopping,
	}, nil
}

// AddPool adds or replaces a pool snapshot provider by name.
func (p *SnapshotPoller) AddPool(name string, provider PoolSnapshotProvider) {
	if p == nil || provider == nil {
		return
	}
	name = normalizeLabel(name, "pool")
	p.poolsMu.Lock()
	p.pools[name] = provider
	p.poolsMu.Unlock()
}

// Start begins periodic polling; repeated calls are no-ops.
func (p *SnapshotPoller) Start(ctx context.Context) {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if p.running {
		p.stateMu.Unlock()
		return
	}
	pollCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true
	p.stateMu.Unlock()

	go p.loop(pollCtx)
}

// Stop stops periodic polling; repeated calls are safe.
func (p *SnapshotPoller) Stop() {
	if p == nil {
		return
	}

	p.stateMu.Lock()
	if !p.running {
		p.stateMu.Unlock()
		return
	}
	cancel := p.cancel
	done := p.done
	p.stateMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}

	p.stateMu.Lock()
	p.running = false
	p.cancel = nil
	p.done = nil
	p.stateMu.Unlock()
}

func (p *SnapshotPoller) loop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.collectOnce()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.collectOnce()
		}
	}
}

func (p *SnapshotPoller) collectOnce() {
	p.poolsMu.RLock()
	defer p.poolsMu.RUnlock()

	for name, provider := range p.pools {
		stats := provider.Stats()
		p.idleWorkers.WithLabelValues(name).Set(float64(stats.IdleWorkerCount))
		p.runningWorkers.WithLabelValues(name).Set(float64(stats.RunningWorkerCount))
		p.aliveWorkers.WithLabelValues(name).Set(float64(stats.AliveWorkerCount))
		p.longRunning.WithLabelValues(name).Set(float64(stats.LongRunningWorkerCount))
		p.waitingWork.WithLabelValues(name).Set(float64(stats.WaitingWorkCount))
		p.failedWork.WithLabelValues(name).Set(float64(len(stats.FailedWorkList)))
		p.avgQueueTime.WithLabelValues(name).Set(stats.AverageQueueTime)
		p.avgExecuteTime.WithLabelValues(name).Set(stats.AverageExecuteTime)
		if stats.PoolRunning {
			p.poolRunning.WithLabelValues(name).Set(1)
		} else {
			p.poolRunning.WithLabelValues(name).Set(0)
		}
		if stats.PoolStopping {
			p.poolStopping.WithLabelValues(name).Set(1)
		} else {
			p.poolStopping.WithLabelValues(name).Set(0)
		}
	}
}
