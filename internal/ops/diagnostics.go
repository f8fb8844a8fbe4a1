package ops

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"

	"github.com/sandwichfarm/zapthreads/internal/storage"
)

// SystemStats contains overall system statistics
type SystemStats struct {
	Version   string        `json:"version"`
	Commit    string        `json:"commit"`
	Uptime    time.Duration `json:"uptime_ns"`
	StartTime time.Time     `json:"start_time"`

	// Runtime stats
	GoVersion       string  `json:"go_version"`
	NumGoroutines   int     `json:"goroutines"`
	MemAllocMB      float64 `json:"mem_alloc_mb"`
	MemTotalAllocMB float64 `json:"mem_total_alloc_mb"`
	MemSysMB        float64 `json:"mem_sys_mb"`
	NumGC           uint32  `json:"num_gc"`
}

// ThreadStats describes the live thread of a session
type ThreadStats struct {
	Anchor   string `json:"anchor"`
	Resolved bool   `json:"resolved"`
	Events   int    `json:"events"`
	Nodes    int    `json:"nodes"`
	Roots    int    `json:"roots"`
	Authors  int    `json:"authors"`
	Version  uint64 `json:"version"`
	Likes    int    `json:"likes"`
	Zaps     int    `json:"zaps"`
	ZapSats  int64  `json:"zap_sats"`
}

// ThreadSource reports thread statistics
type ThreadSource interface {
	ThreadStats() ThreadStats
}

// ArchiveStats contains archive statistics
type ArchiveStats struct {
	Driver       string        `json:"driver"`
	TotalEvents  int64         `json:"total_events"`
	EventsByKind map[int]int64 `json:"events_by_kind"`
}

// archivedKinds are the kinds a session archives
var archivedKinds = []int{1, 7, 9735}

// DiagnosticsCollector collects system diagnostics
type DiagnosticsCollector struct {
	version   string
	commit    string
	startTime time.Time
	thread    ThreadSource
	archive   *storage.Storage
}

// NewDiagnosticsCollector creates a new diagnostics collector. archive may be nil.
func NewDiagnosticsCollector(version, commit string, thread ThreadSource, archive *storage.Storage) *DiagnosticsCollector {
	return &DiagnosticsCollector{
		version:   version,
		commit:    commit,
		startTime: time.Now(),
		thread:    thread,
		archive:   archive,
	}
}

// CollectSystemStats collects system-level statistics
func (d *DiagnosticsCollector) CollectSystemStats() *SystemStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &SystemStats{
		Version:   d.version,
		Commit:    d.commit,
		Uptime:    time.Since(d.startTime),
		StartTime: d.startTime,

		GoVersion:       runtime.Version(),
		NumGoroutines:   runtime.NumGoroutine(),
		MemAllocMB:      float64(m.Alloc) / 1024 / 1024,
		MemTotalAllocMB: float64(m.TotalAlloc) / 1024 / 1024,
		MemSysMB:        float64(m.Sys) / 1024 / 1024,
		NumGC:           m.NumGC,
	}
}

// CollectArchiveStats counts archived events per kind
func (d *DiagnosticsCollector) CollectArchiveStats(ctx context.Context) (*ArchiveStats, error) {
	if d.archive == nil {
		return nil, nil
	}

	stats := &ArchiveStats{
		Driver:       d.archive.Driver(),
		EventsByKind: make(map[int]int64),
	}
	for _, kind := range archivedKinds {
		count, err := d.archive.CountEvents(ctx, nostr.Filter{Kinds: []int{kind}})
		if err != nil {
			return nil, fmt.Errorf("failed to count kind %d events: %w", kind, err)
		}
		stats.EventsByKind[kind] = count
		stats.TotalEvents += count
	}

	return stats, nil
}

// CollectAll collects all diagnostic information
func (d *DiagnosticsCollector) CollectAll(ctx context.Context) (*Diagnostics, error) {
	diag := &Diagnostics{
		CollectedAt: time.Now(),
		System:      d.CollectSystemStats(),
	}

	if d.thread != nil {
		stats := d.thread.ThreadStats()
		diag.Thread = &stats
	}

	archiveStats, err := d.CollectArchiveStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect archive stats: %w", err)
	}
	diag.Archive = archiveStats

	return diag, nil
}

// Diagnostics contains all diagnostic information
type Diagnostics struct {
	CollectedAt time.Time     `json:"collected_at"`
	System      *SystemStats  `json:"system"`
	Thread      *ThreadStats  `json:"thread,omitempty"`
	Archive     *ArchiveStats `json:"archive,omitempty"`
}

// FormatAsText formats diagnostics as plain text
func (d *Diagnostics) FormatAsText() string {
	var sb strings.Builder

	sb.WriteString("=== zapthreads Diagnostics ===\n")
	fmt.Fprintf(&sb, "Collected: %s\n\n", d.CollectedAt.Format(time.RFC3339))

	sb.WriteString("--- System ---\n")
	fmt.Fprintf(&sb, "Version: %s (%s)\n", d.System.Version, d.System.Commit)
	fmt.Fprintf(&sb, "Uptime: %s\n", d.System.Uptime.Round(time.Second))
	fmt.Fprintf(&sb, "Go Version: %s\n", d.System.GoVersion)
	fmt.Fprintf(&sb, "Goroutines: %d\n", d.System.NumGoroutines)
	fmt.Fprintf(&sb, "Memory: %.2f MB allocated, %.2f MB system\n", d.System.MemAllocMB, d.System.MemSysMB)
	fmt.Fprintf(&sb, "GC Runs: %d\n\n", d.System.NumGC)

	if t := d.Thread; t != nil {
		sb.WriteString("--- Thread ---\n")
		fmt.Fprintf(&sb, "Anchor: %s\n", t.Anchor)
		fmt.Fprintf(&sb, "Resolved: %v\n", t.Resolved)
		fmt.Fprintf(&sb, "Comments: %d stored, %d in tree (%d top-level)\n", t.Events, t.Nodes, t.Roots)
		fmt.Fprintf(&sb, "Authors: %d\n", t.Authors)
		fmt.Fprintf(&sb, "Store Version: %d\n", t.Version)
		fmt.Fprintf(&sb, "Likes: %d\n", t.Likes)
		fmt.Fprintf(&sb, "Zaps: %d (%d sats)\n\n", t.Zaps, t.ZapSats)
	}

	sb.WriteString("--- Archive ---\n")
	if a := d.Archive; a != nil {
		fmt.Fprintf(&sb, "Driver: %s\n", a.Driver)
		fmt.Fprintf(&sb, "Total Events: %d\n", a.TotalEvents)

		kinds := make([]int, 0, len(a.EventsByKind))
		for kind := range a.EventsByKind {
			kinds = append(kinds, kind)
		}
		sort.Ints(kinds)
		for _, kind := range kinds {
			fmt.Fprintf(&sb, "  Kind %d: %d events\n", kind, a.EventsByKind[kind])
		}
	} else {
		sb.WriteString("Disabled\n")
	}

	return sb.String()
}
