// Package stats samples process runtime statistics while a benchmark or a
// long batch run is in flight.
package stats

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v4/process"
)

// Sample is one snapshot of runtime state.
type Sample struct {
	Timestamp      time.Time `json:"timestamp"`
	ElapsedSeconds float64   `json:"elapsed_seconds"`
	HeapAlloc      uint64    `json:"heap_alloc"`
	Sys            uint64    `json:"sys"`
	NumGC          uint32    `json:"num_gc"`
	ProcessRSS     uint64    `json:"process_rss_bytes"`
	CPUPercent     float64   `json:"cpu_percent"`
	NumGoroutine   int       `json:"num_goroutine"`
}

// Summary aggregates a collection run.
type Summary struct {
	PeakHeapAlloc  uint64        `json:"peak_heap_alloc"`
	PeakProcessRSS uint64        `json:"peak_process_rss"`
	PeakCPUPercent float64       `json:"peak_cpu_percent"`
	AvgCPUPercent  float64       `json:"avg_cpu_percent"`
	PeakGoroutines int           `json:"peak_goroutines"`
	GCCycles       uint32        `json:"gc_cycles"`
	SampleCount    int           `json:"sample_count"`
	Elapsed        time.Duration `json:"elapsed_ns"`
}

// Collector samples runtime statistics on an interval until stopped.
type Collector struct {
	mu        sync.Mutex
	samples   []Sample
	startTime time.Time
	stopChan  chan struct{}
	doneChan  chan struct{}
	interval  time.Duration
	proc      *process.Process
}

func NewCollector(interval time.Duration) (*Collector, error) {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return nil, fmt.Errorf("failed to get process info: %w", err)
	}
	return &Collector{
		samples:  make([]Sample, 0, 1000),
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
		proc:     proc,
	}, nil
}

func (c *Collector) Start() {
	c.startTime = time.Now()
	go c.collect()
}

func (c *Collector) collect() {
	defer close(c.doneChan)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample()
	for {
		select {
		case <-c.stopChan:
			c.sample()
			return
		case <-ticker.C:
			c.sample()
		}
	}
}

func (c *Collector) sample() {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	point := Sample{
		Timestamp:      time.Now(),
		ElapsedSeconds: time.Since(c.startTime).Seconds(),
		HeapAlloc:      memStats.HeapAlloc,
		Sys:            memStats.Sys,
		NumGC:          memStats.NumGC,
		NumGoroutine:   runtime.NumGoroutine(),
	}
	if memInfo, err := c.proc.MemoryInfo(); err == nil && memInfo != nil {
		point.ProcessRSS = memInfo.RSS
	}
	if cpuPercent, err := c.proc.CPUPercent(); err == nil {
		point.CPUPercent = cpuPercent
	}

	c.mu.Lock()
	c.samples = append(c.samples, point)
	c.mu.Unlock()
}

// Stop halts collection and returns the aggregated summary.
func (c *Collector) Stop() Summary {
	close(c.stopChan)
	<-c.doneChan

	c.mu.Lock()
	defer c.mu.Unlock()

	summary := Summary{
		SampleCount: len(c.samples),
		Elapsed:     time.Since(c.startTime),
	}
	var totalCPU float64
	for _, s := range c.samples {
		if s.HeapAlloc > summary.PeakHeapAlloc {
			summary.PeakHeapAlloc = s.HeapAlloc
		}
		if s.ProcessRSS > summary.PeakProcessRSS {
			summary.PeakProcessRSS = s.ProcessRSS
		}
		if s.CPUPercent > summary.PeakCPUPercent {
			summary.PeakCPUPercent = s.CPUPercent
		}
		if s.NumGoroutine > summary.PeakGoroutines {
			summary.PeakGoroutines = s.NumGoroutine
		}
		if s.NumGC > summary.GCCycles {
			summary.GCCycles = s.NumGC
		}
		totalCPU += s.CPUPercent
	}
	if summary.SampleCount > 0 {
		summary.AvgCPUPercent = totalCPU / float64(summary.SampleCount)
	}
	return summary
}

func (s Summary) String() string {
	return fmt.Sprintf("elapsed=%s peak_heap=%s peak_rss=%s peak_cpu=%.1f%% avg_cpu=%.1f%% peak_goroutines=%d gc_cycles=%d",
		s.Elapsed.Round(time.Millisecond),
		humanize.Bytes(s.PeakHeapAlloc),
		humanize.Bytes(s.PeakProcessRSS),
		s.PeakCPUPercent,
		s.AvgCPUPercent,
		s.PeakGoroutines,
		s.GCCycles,
	)
}
