package collecting

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"GpuTelemetry/pkg/exporting"
	"GpuTelemetry/pkg/logging"
)

// Manager runs a fixed set of collectors and turns their output into
// exportable records.
type Manager struct {
	collectors []Collector
	concurrent bool

	// Observe, when set, is called with each completed tick.
	Observe func(d *DynamicMetrics, elapsed time.Duration)

	mu         sync.RWMutex
	static     *StaticMetrics
	staticJSON exporting.Record
}

func NewManager(concurrent bool, collectors ...Collector) *Manager {
	m := &Manager{collectors: collectors, concurrent: concurrent}

	mode := "sequential"
	if concurrent {
		mode = "concurrent"
	}
	logging.WithComponent("collecting").Infof("Initialized %d collectors (%s)", len(collectors), mode)
	return m
}

// run calls fn for every collector. A failing collector is logged and the
// others still run.
func (m *Manager) run(fn func(Collector) error) {
	call := func(c Collector) {
		if err := fn(c); err != nil {
			logging.WithComponent("collecting").WithField("collector", c.Name()).WithError(err).Warn("collection failed")
		}
	}
	if !m.concurrent {
		for _, c := range m.collectors {
			call(c)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(len(m.collectors))
	for _, c := range m.collectors {
		go func(col Collector) {
			defer wg.Done()
			call(col)
		}(c)
	}
	wg.Wait()
}

func (m *Manager) CollectStatic(ctx context.Context, s *StaticMetrics) {
	m.run(func(c Collector) error { return c.CollectStatic(ctx, s) })

	m.mu.Lock()
	m.static = s
	m.staticJSON = structToRecord(s)
	m.mu.Unlock()
}

// Collect runs one tick and returns the raw metrics.
func (m *Manager) Collect(ctx context.Context) *DynamicMetrics {
	start := time.Now()
	d := &DynamicMetrics{Timestamp: start.UnixMilli()}
	m.run(func(c Collector) error { return c.CollectDynamic(ctx, d) })
	if m.Observe != nil {
		m.Observe(d, time.Since(start))
	}
	return d
}

// CollectDynamic runs one tick and returns it as a record carrying the
// static identity fields.
func (m *Manager) CollectDynamic(ctx context.Context) exporting.Record {
	return m.Record(m.Collect(ctx))
}

// Record converts d, merging in the static identity fields.
func (m *Manager) Record(d *DynamicMetrics) exporting.Record {
	record := structToRecord(d)

	m.mu.RLock()
	for k, v := range m.staticJSON {
		record[k] = v
	}
	m.mu.RUnlock()

	return record
}

func (m *Manager) Close() error {
	var errs []error
	for _, c := range m.collectors {
		if err := c.Close(); err != nil {
			logging.WithComponent("collecting").WithField("collector", c.Name()).WithError(err).Warn("close failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) CollectorNames() []string {
	names := make([]string, len(m.collectors))
	for i, c := range m.collectors {
		names[i] = c.Name()
	}
	return names
}

func (m *Manager) GetStatic() *StaticMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.static
}

// GetStaticRecord returns the static metrics including per-GPU identity.
func (m *Manager) GetStaticRecord() exporting.Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.static == nil {
		return nil
	}
	record := make(exporting.Record, len(m.staticJSON)+1)
	for k, v := range m.staticJSON {
		record[k] = v
	}
	record["gpus"] = m.static.Gpus
	return record
}

func structToRecord(v interface{}) exporting.Record {
	data, _ := json.Marshal(v)
	var result exporting.Record
	_ = json.Unmarshal(data, &result)
	if result == nil {
		result = exporting.Record{}
	}

	// Nested values are excluded by json:"-" and carried for the flattener.
	if t, ok := v.(*DynamicMetrics); ok {
		if len(t.Gpus) > 0 {
			result[exporting.KeyGpus] = t.Gpus
		}
		if t.Processes != nil {
			result[exporting.KeyProcesses] = t.Processes
		}
		if t.Health != nil {
			result[exporting.KeyHealth] = t.Health
		}
	}
	return result
}
