// Package heartbeat implements the ingest path for device heartbeat
// samples (spec §4.3): a per-device append then upsert, a bounded
// in-memory event queue so a burst never blocks the request path, and
// an hourly reconciliation loop guarded by a Postgres advisory lock.
package heartbeat

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/fleetmdm/controlplane/internal/partition"
	"github.com/fleetmdm/controlplane/internal/store"
	"github.com/fleetmdm/controlplane/internal/store/model"
	"github.com/sirupsen/logrus"
)

const (
	defaultQueueCapacity = 10000
	defaultBatchSize     = 50
)

// Sample is the ingest-time representation of one heartbeat; it is
// translated to model.HeartbeatSample/model.DeviceLastStatus at write
// time.
type Sample struct {
	DeviceID     string
	Ts           time.Time
	BatteryPct   int
	NetworkType  string
	SSID         string
	SignalDbm    *int
	UnityRunning *bool
	AgentVersion string
	IP           string
	Status       string
}

// Ingestor accepts heartbeats from the API layer, persists them
// synchronously, and fans the same event out onto a bounded queue for
// asynchronous consumers (the application's event-flush loop drains
// it). It is an explicit Application-owned collaborator (spec §9).
type Ingestor struct {
	heartbeats *store.HeartbeatRepository
	partitions *partition.Manager
	log        logrus.FieldLogger

	queue   chan Sample
	dropped atomic.Uint64
}

func NewIngestor(heartbeats *store.HeartbeatRepository, partitions *partition.Manager, log logrus.FieldLogger) *Ingestor {
	return &Ingestor{
		heartbeats: heartbeats,
		partitions: partitions,
		log:        log,
		queue:      make(chan Sample, defaultQueueCapacity),
	}
}

// Ingest appends the sample to the log and then upserts the device's
// last-status projection. These are two separate writes, not one
// transaction: if the upsert fails the appended sample stays in place.
// It then enqueues the sample for asynchronous consumers
// without ever blocking the caller: a full queue just increments the
// dropped counter.
func (i *Ingestor) Ingest(ctx context.Context, s Sample) error {
	table := i.partitions.TableForTimestamp(s.Ts)

	hb := &model.HeartbeatSample{
		DeviceID:     s.DeviceID,
		Ts:           s.Ts,
		BatteryPct:   s.BatteryPct,
		NetworkType:  s.NetworkType,
		SSID:         s.SSID,
		SignalDbm:    s.SignalDbm,
		UnityRunning: s.UnityRunning,
		AgentVersion: s.AgentVersion,
		IP:           s.IP,
		Status:       s.Status,
	}
	if _, err := i.heartbeats.AppendSample(ctx, table, hb); err != nil {
		return err
	}

	last := &model.DeviceLastStatus{
		DeviceID:     s.DeviceID,
		LastTs:       s.Ts,
		BatteryPct:   s.BatteryPct,
		NetworkType:  s.NetworkType,
		SSID:         s.SSID,
		SignalDbm:    s.SignalDbm,
		UnityRunning: s.UnityRunning,
		AgentVersion: s.AgentVersion,
		IP:           s.IP,
		Status:       s.Status,
		UpdatedAt:    time.Now().UTC(),
	}
	if err := i.heartbeats.UpsertLastStatus(ctx, last); err != nil {
		return err
	}

	select {
	case i.queue <- s:
	default:
		i.dropped.Add(1)
		i.log.WithField("device_id", s.DeviceID).Warn("heartbeat event queue full, dropping event")
	}

	return nil
}

// DroppedEvents returns the number of events dropped due to a full
// queue since startup. Safe to call concurrently with Ingest, which
// runs on the hot request path from many devices at once.
func (i *Ingestor) DroppedEvents() uint64 { return i.dropped.Load() }

// RunEventFlush drains the queue in batches of up to defaultBatchSize,
// handing each batch to consume, until ctx is canceled. This never
// terminates the process on a consume error; it only logs.
func (i *Ingestor) RunEventFlush(ctx context.Context, consume func(batch []Sample)) {
	batch := make([]Sample, 0, defaultBatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		consume(batch)
		batch = batch[:0]
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flush()
			return
		case s := <-i.queue:
			batch = append(batch, s)
			if len(batch) >= defaultBatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
