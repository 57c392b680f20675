package metrics

import (
	"context"
	"time"

	"github.com/whamcloud/lustre-fleet/pkg/types"
)

// Source is the narrow read surface Collector polls. It is satisfied by
// *pkg/storage.Store (target/device/alert rows) composed with whatever
// tracks session/in-flight and leadership state (pkg/dispatch.Dispatcher,
// pkg/manager's leader election), so the collector never depends on a
// concrete manager type.
type Source interface {
	AllTargets(ctx context.Context) ([]types.Target, error)
	AllDevices(ctx context.Context) ([]types.Device, error)
	AllDeviceHosts(ctx context.Context) ([]types.DeviceHost, error)
	ActiveAlertCount(ctx context.Context) (int64, error)
	SessionCount() int
	InFlightCount() int
	IsLeader() bool
}

// Collector periodically polls a Source and updates the package-level
// gauges.
type Collector struct {
	source Source
	stopCh chan struct{}
}

// NewCollector creates a Collector polling source.
func NewCollector(source Source) *Collector {
	return &Collector{
		source: source,
		stopCh: make(chan struct{}),
	}
}

// Start begins polling on a 15-second interval, collecting once
// immediately.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop halts polling.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c.collectTargets(ctx)
	c.collectDevices(ctx)
	c.collectAlerts(ctx)
	c.collectDispatch()
	c.collectLeadership()
}

func (c *Collector) collectTargets(ctx context.Context) {
	targets, err := c.source.AllTargets(ctx)
	if err != nil {
		return
	}

	counts := map[[2]string]int{}
	for _, t := range targets {
		counts[[2]string{string(t.Kind), string(t.State)}]++
	}
	for key, n := range counts {
		TargetsTotal.WithLabelValues(key[0], key[1]).Set(float64(n))
	}
}

func (c *Collector) collectDevices(ctx context.Context) {
	devices, err := c.source.AllDevices(ctx)
	if err == nil {
		DevicesTotal.Set(float64(len(devices)))
	}

	hosts, err := c.source.AllDeviceHosts(ctx)
	if err == nil {
		DeviceHostsTotal.Set(float64(len(hosts)))
	}
}

func (c *Collector) collectAlerts(ctx context.Context) {
	n, err := c.source.ActiveAlertCount(ctx)
	if err != nil {
		return
	}
	AlertsActive.Set(float64(n))
}

func (c *Collector) collectDispatch() {
	SessionsActive.Set(float64(c.source.SessionCount()))
	ActionsInFlight.Set(float64(c.source.InFlightCount()))
}

func (c *Collector) collectLeadership() {
	if c.source.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}
}
