package cmd

import (
	"context"
	"time"

	"GpuTelemetry/pkg/collecting"
	"GpuTelemetry/pkg/exporting"
	"GpuTelemetry/pkg/logging"
)

// flushEvery is how many streamed records are written between flushes.
const flushEvery = 100

// StreamCollector writes one record per interval through an exporter.
type StreamCollector struct {
	manager  *collecting.Manager
	exporter *exporting.Exporter
	interval time.Duration
	count    int
}

func NewStreamCollector(manager *collecting.Manager, exporter *exporting.Exporter, interval time.Duration) *StreamCollector {
	return &StreamCollector{manager: manager, exporter: exporter, interval: interval}
}

// Run collects until ctx is done and returns the number of records written.
// A tick interrupted by cancellation is dropped.
func (sc *StreamCollector) Run(ctx context.Context) int {
	log := logging.WithComponent("cmd")
	ticker := time.NewTicker(sc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := sc.exporter.Flush(); err != nil {
				log.WithError(err).Warn("flush failed")
			}
			return sc.count

		case <-ticker.C:
			record := sc.manager.CollectDynamic(ctx)
			if ctx.Err() != nil {
				continue
			}
			if err := sc.exporter.Write(record); err != nil {
				log.WithError(err).Warn("write failed")
				continue
			}
			sc.count++
			if sc.count%flushEvery == 0 {
				if err := sc.exporter.Flush(); err != nil {
					log.WithError(err).Warn("flush failed")
				}
				log.Infof("Progress: %d records", sc.count)
			}
		}
	}
}

func (sc *StreamCollector) Count() int { return sc.count }

// BatchCollector keeps records in memory until SaveBatch.
type BatchCollector struct {
	manager  *collecting.Manager
	records  []exporting.Record
	interval time.Duration
}

func NewBatchCollector(manager *collecting.Manager, interval time.Duration) *BatchCollector {
	return &BatchCollector{manager: manager, interval: interval}
}

// Run collects until ctx is done.
func (bc *BatchCollector) Run(ctx context.Context) {
	ticker := time.NewTicker(bc.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			record := bc.manager.CollectDynamic(ctx)
			if ctx.Err() != nil {
				continue
			}
			bc.records = append(bc.records, record)
			if len(bc.records)%flushEvery == 0 {
				logging.WithComponent("cmd").Infof("Progress: %d records (in memory)", len(bc.records))
			}
		}
	}
}

func (bc *BatchCollector) Records() []exporting.Record { return bc.records }
func (bc *BatchCollector) Count() int                  { return len(bc.records) }

// SaveBatch flattens records with mode and writes them to path in the
// format its extension names.
func SaveBatch(path string, records []exporting.Record, mode exporting.FlattenMode) error {
	flat := make([]exporting.Record, len(records))
	for i, r := range records {
		flat[i] = exporting.FlattenRecordWithMode(r, mode)
	}
	return exporting.SaveRecords(path, flat)
}
