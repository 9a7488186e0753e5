package instances

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// HostMonitor samples utilisation of the machine a worker runs on
type HostMonitor struct {
	procRoot  string
	hostname  string
	lastBusy  int64
	lastTotal int64
}

// HostStats holds one utilisation sample
type HostStats struct {
	CPUUtilization float64
	MemoryUsage    float64
	Timestamp      time.Time
}

// NewHostMonitor creates a monitor reading from /proc
func NewHostMonitor() *HostMonitor {
	return NewHostMonitorAt("/proc")
}

// NewHostMonitorAt creates a monitor reading from an alternate proc root
func NewHostMonitorAt(procRoot string) *HostMonitor {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return &HostMonitor{procRoot: procRoot, hostname: hostname}
}

// Hostname returns the name used to label samples
func (hm *HostMonitor) Hostname() string {
	return hm.hostname
}

// Sample collects current utilisation. CPU utilisation covers the interval
// since the previous sample, or since boot on the first call
func (hm *HostMonitor) Sample() (*HostStats, error) {
	stats := &HostStats{
		Timestamp: time.Now(),
	}

	cpuUtil, err := hm.getCPUUtilization()
	if err != nil {
		return nil, fmt.Errorf("failed to get CPU utilization: %w", err)
	}
	stats.CPUUtilization = cpuUtil

	memUsage, err := hm.getMemoryUsage()
	if err != nil {
		return nil, fmt.Errorf("failed to get memory usage: %w", err)
	}
	stats.MemoryUsage = memUsage

	return stats, nil
}

// getCPUUtilization reads the aggregate cpu line of /proc/stat
func (hm *HostMonitor) getCPUUtilization() (float64, error) {
	file, err := os.Open(filepath.Join(hm.procRoot, "stat"))
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return 0, fmt.Errorf("empty stat file")
	}
	fields := strings.Fields(scanner.Text())
	if len(fields) < 5 || fields[0] != "cpu" {
		return 0, fmt.Errorf("unexpected stat line %q", scanner.Text())
	}

	var total, idle int64
	for i, f := range fields[1:] {
		v, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse stat field %d: %w", i+1, err)
		}
		total += v
		// idle and iowait
		if i == 3 || i == 4 {
			idle += v
		}
	}
	busy := total - idle

	dBusy := busy - hm.lastBusy
	dTotal := total - hm.lastTotal
	hm.lastBusy, hm.lastTotal = busy, total
	if dTotal <= 0 {
		return 0, nil
	}
	return float64(dBusy) / float64(dTotal) * 100, nil
}

// getMemoryUsage reads memory usage from meminfo
func (hm *HostMonitor) getMemoryUsage() (float64, error) {
	file, err := os.Open(filepath.Join(hm.procRoot, "meminfo"))
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	var total, available int64

	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			total, _ = strconv.ParseInt(fields[1], 10, 64)
		case "MemAvailable:":
			available, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}

	if total > 0 {
		used := total - available
		return float64(used) / float64(total) * 100, nil
	}

	return 0, nil
}
