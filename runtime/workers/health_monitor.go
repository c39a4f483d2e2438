package workers

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"time"

	"join-code/contract"

	"github.com/shirou/gopsutil/process"
)

type NamedChannel struct {
	Name    string
	Channel any
}

// HealthMonitor periodically logs the instance counters, the usage of its
// internal channels and the process footprint.
// Reading len(channel) and cap(channel) is non-blocking, so sampling never
// interferes with the goroutines using them.
type HealthMonitor struct {
	log                  *slog.Logger
	gauges               contract.Gauges
	channels             []NamedChannel
	interval             time.Duration
	lowCapacityThreshold int
}

func NewHealthMonitor(log *slog.Logger, gauges contract.Gauges, channels []NamedChannel,
	interval time.Duration, lowCapacityThreshold int) *HealthMonitor {
	return &HealthMonitor{
		log:                  log,
		gauges:               gauges,
		channels:             channels,
		interval:             interval,
		lowCapacityThreshold: lowCapacityThreshold,
	}
}

func (w *HealthMonitor) Run(ctx context.Context) error {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return err
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Debug("Context done, stopping health monitoring")
			return nil
		case <-ticker.C:
			w.checkChannels()
			w.report(p)
		}
	}
}

// checkChannels warns when a buffered channel is close to full: past that
// point bus messages start waiting on the dispatcher.
func (w *HealthMonitor) checkChannels() []int {
	left := make([]int, 0, len(w.channels))
	for _, nc := range w.channels {
		v := reflect.ValueOf(nc.Channel)
		if v.Kind() != reflect.Chan {
			w.log.Error("Provided object is not a channel", "name", nc.Name)
			continue
		}
		capacity, length := v.Cap(), v.Len()
		w.log.Debug(fmt.Sprintf("Channel %s usage: %d / %d", nc.Name, length, capacity))
		if capacity <= 0 {
			// In case of unbuffered channel
			continue
		}
		capacityLeft := capacity - length
		left = append(left, capacityLeft)
		if capacityLeft <= w.lowCapacityThreshold {
			w.log.Warn("Channel almost full", "name", nc.Name, "capacity_left", capacityLeft)
		}
	}
	return left
}

func (w *HealthMonitor) report(p *process.Process) {
	attrs := []any{
		"rooms", w.gauges.Rooms(),
		"connections", w.gauges.Connections(),
		"suppressed_echoes", w.gauges.Suppressed(),
	}
	rss, cpu, err := selfStats(p)
	if err != nil {
		w.log.Debug("Failed to collect self stats", "error", err)
	} else {
		attrs = append(attrs, "rss_bytes", rss, "cpu_percent", cpu)
	}
	w.log.Info("Instance health", attrs...)
}

// selfStats retrieves the memory and CPU usage of the given process.
func selfStats(p *process.Process) (uint64, float64, error) {
	memInfo, err := p.MemoryInfo()
	if err != nil {
		return 0, 0, err
	}
	cpuPercent, err := p.CPUPercent()
	if err != nil {
		return 0, 0, err
	}
	return memInfo.RSS, cpuPercent, nil
}
