package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"grimm.is/hostnet/internal/clock"
	"grimm.is/hostnet/internal/logging"
)

// DefaultSysNetRoot is where the kernel exposes per-link statistics.
const DefaultSysNetRoot = "/sys/class/net"

// Collector periodically reads link statistics from sysfs and updates
// the Prometheus registry.
type Collector struct {
	registry *Registry
	logger   *logging.Logger
	interval time.Duration
	root     string
	stopCh   chan struct{}
	stopOnce sync.Once

	// Cached stats for the ctl daemon
	mu         sync.RWMutex
	lastUpdate time.Time
	linkStats  map[string]*LinkStats
}

// LinkStats holds traffic statistics for a link.
type LinkStats struct {
	Name      string `json:"name"`
	RxBytes   uint64 `json:"rx_bytes"`
	TxBytes   uint64 `json:"tx_bytes"`
	RxPackets uint64 `json:"rx_packets"`
	TxPackets uint64 `json:"tx_packets"`
	RxErrors  uint64 `json:"rx_errors"`
	TxErrors  uint64 `json:"tx_errors"`
	RxDropped uint64 `json:"rx_dropped"`
	TxDropped uint64 `json:"tx_dropped"`
	LinkUp    bool   `json:"link_up"`
	Speed     uint64 `json:"speed_mbps,omitempty"`
}

// NewCollector creates a new link statistics collector reading from root
// (DefaultSysNetRoot when empty).
func NewCollector(logger *logging.Logger, interval time.Duration, root string) *Collector {
	if logger == nil {
		logger = logging.WithComponent("metrics")
	}
	if root == "" {
		root = DefaultSysNetRoot
	}
	return &Collector{
		registry:  Get(),
		logger:    logger,
		interval:  interval,
		root:      root,
		stopCh:    make(chan struct{}),
		linkStats: make(map[string]*LinkStats),
	}
}

// Start runs the collection loop until Stop is called.
func (c *Collector) Start() {
	c.logger.Info("Starting link statistics collector", "interval", c.interval.String())

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stopCh:
			c.logger.Info("Stopping link statistics collector")
			return
		}
	}
}

// Stop stops the collection loop.
func (c *Collector) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Collect reads every link once.
func (c *Collector) Collect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.collectLinkStats(); err != nil {
		c.logger.Warn("Failed to collect link stats", "error", err)
	}
	c.lastUpdate = clock.Now()
}

func (c *Collector) collectLinkStats() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", c.root, err)
	}

	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if name == "lo" {
			continue
		}
		seen[name] = true

		stats, ok := c.linkStats[name]
		if !ok {
			stats = &LinkStats{Name: name}
			c.linkStats[name] = stats
		}

		base := filepath.Join(c.root, name, "statistics")
		stats.RxBytes = readSysUint64(filepath.Join(base, "rx_bytes"))
		stats.TxBytes = readSysUint64(filepath.Join(base, "tx_bytes"))
		stats.RxPackets = readSysUint64(filepath.Join(base, "rx_packets"))
		stats.TxPackets = readSysUint64(filepath.Join(base, "tx_packets"))
		stats.RxErrors = readSysUint64(filepath.Join(base, "rx_errors"))
		stats.TxErrors = readSysUint64(filepath.Join(base, "tx_errors"))
		stats.RxDropped = readSysUint64(filepath.Join(base, "rx_dropped"))
		stats.TxDropped = readSysUint64(filepath.Join(base, "tx_dropped"))

		operstate, _ := os.ReadFile(filepath.Join(c.root, name, "operstate"))
		stats.LinkUp = strings.TrimSpace(string(operstate)) == "up"

		// Virtual links report -1 or nothing.
		stats.Speed = 0
		if speed := readSysUint64(filepath.Join(c.root, name, "speed")); speed > 0 && speed < 1000000 {
			stats.Speed = speed
		}

		up := 0.0
		if stats.LinkUp {
			up = 1
		}
		c.registry.LinkUp.WithLabelValues(name).Set(up)
		c.registry.LinkRxBytes.WithLabelValues(name).Set(float64(stats.RxBytes))
		c.registry.LinkTxBytes.WithLabelValues(name).Set(float64(stats.TxBytes))
		c.registry.LinkRxPackets.WithLabelValues(name).Set(float64(stats.RxPackets))
		c.registry.LinkTxPackets.WithLabelValues(name).Set(float64(stats.TxPackets))
		c.registry.LinkErrors.WithLabelValues(name, "rx").Set(float64(stats.RxErrors))
		c.registry.LinkErrors.WithLabelValues(name, "tx").Set(float64(stats.TxErrors))
	}

	// Links deleted by an apply disappear from the metrics too.
	for name := range c.linkStats {
		if seen[name] {
			continue
		}
		delete(c.linkStats, name)
		c.registry.LinkUp.DeleteLabelValues(name)
		c.registry.LinkRxBytes.DeleteLabelValues(name)
		c.registry.LinkTxBytes.DeleteLabelValues(name)
		c.registry.LinkRxPackets.DeleteLabelValues(name)
		c.registry.LinkTxPackets.DeleteLabelValues(name)
		c.registry.LinkErrors.DeleteLabelValues(name, "rx")
		c.registry.LinkErrors.DeleteLabelValues(name, "tx")
	}
	return nil
}

func readSysUint64(path string) uint64 {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	val, _ := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	return val
}

// GetLinkStats returns a copy of the current link statistics.
func (c *Collector) GetLinkStats() map[string]*LinkStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make(map[string]*LinkStats, len(c.linkStats))
	for k, v := range c.linkStats {
		s := *v
		result[k] = &s
	}
	return result
}

// GetLastUpdate returns the time of the last collection.
func (c *Collector) GetLastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}
