package collector

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ProcessSample is one process's CPU usage over the last interval.
type ProcessSample struct {
	PID           int    `json:"pid"`
	Comm          string `json:"comm"`
	Cmdline       string `json:"cmdline"`
	CPUTicksDelta int64  `json:"cpu_ticks_delta"`
	LastCPU       int    `json:"last_cpu"`
}

// ProcessCollectStats summarises one collection cycle.
type ProcessCollectStats struct {
	TotalProcs    int   // processes with a nonzero delta
	TotalTicks    int64 // sum of all process tick deltas
	CapturedTicks int64 // sum of tick deltas for the top N kept
}

// ProcessCollector tracks per-process CPU tick deltas across calls. It is not
// safe for concurrent use.
type ProcessCollector struct {
	procRoot     string
	prevTicks    map[int]int64  // pid -> previous utime+stime
	cmdlineCache map[int]string // pid -> cmdline, read once per pid lifetime
	topN         int
}

// NewProcessCollector scans procRoot, "/proc" when empty, and keeps the topN
// busiest processes per call.
func NewProcessCollector(procRoot string, topN int) *ProcessCollector {
	if topN <= 0 {
		topN = 10
	}
	if procRoot == "" {
		procRoot = "/proc"
	}
	return &ProcessCollector{
		procRoot:     procRoot,
		prevTicks:    make(map[int]int64),
		cmdlineCache: make(map[int]string),
		topN:         topN,
	}
}

type procEntry struct {
	pid   int
	comm  string
	ticks int64 // utime + stime
	cpu   int
}

// Collect reads <procRoot>/*/stat, computes tick deltas from the previous
// call, and returns the top N processes by CPU usage. The first call only
// records a baseline.
func (pc *ProcessCollector) Collect() ([]ProcessSample, *ProcessCollectStats, error) {
	entries, err := os.ReadDir(pc.procRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", pc.procRoot, err)
	}

	currentTicks := make(map[int]int64, len(entries))
	var procs []procEntry
	var totalTicks int64

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}
		pe, err := pc.readProcStat(pid)
		if err != nil {
			continue
		}
		currentTicks[pid] = pe.ticks

		prev, ok := pc.prevTicks[pid]
		if !ok {
			continue
		}
		delta := pe.ticks - prev
		if delta <= 0 {
			continue
		}
		totalTicks += delta
		pe.ticks = delta
		procs = append(procs, pe)
	}

	totalProcs := len(procs)
	sort.Slice(procs, func(i, j int) bool {
		if procs[i].ticks != procs[j].ticks {
			return procs[i].ticks > procs[j].ticks
		}
		return procs[i].pid < procs[j].pid
	})
	if len(procs) > pc.topN {
		procs = procs[:pc.topN]
	}

	var capturedTicks int64
	samples := make([]ProcessSample, len(procs))
	for i, p := range procs {
		capturedTicks += p.ticks
		cmdline, ok := pc.cmdlineCache[p.pid]
		if !ok {
			cmdline = pc.readCmdline(p.pid)
			pc.cmdlineCache[p.pid] = cmdline
		}
		samples[i] = ProcessSample{
			PID:           p.pid,
			Comm:          p.comm,
			Cmdline:       cmdline,
			CPUTicksDelta: p.ticks,
			LastCPU:       p.cpu,
		}
	}

	stats := &ProcessCollectStats{
		TotalProcs:    totalProcs,
		TotalTicks:    totalTicks,
		CapturedTicks: capturedTicks,
	}

	pc.prevTicks = currentTicks
	for pid := range pc.cmdlineCache {
		if _, alive := currentTicks[pid]; !alive {
			delete(pc.cmdlineCache, pid)
		}
	}

	return samples, stats, nil
}

// readProcStat parses <procRoot>/<pid>/stat for comm, utime, stime and
// processor.
func (pc *ProcessCollector) readProcStat(pid int) (procEntry, error) {
	data, err := os.ReadFile(filepath.Join(pc.procRoot, strconv.Itoa(pid), "stat"))
	if err != nil {
		return procEntry{}, err
	}

	// comm may itself contain spaces and parens, so use the last ')'.
	start := bytes.IndexByte(data, '(')
	end := bytes.LastIndexByte(data, ')')
	if start < 0 || end < 0 || end >= len(data)-1 {
		return procEntry{}, fmt.Errorf("malformed stat for pid %d", pid)
	}
	comm := string(data[start+1 : end])

	// Fields after ')' start at state. utime, stime and processor are
	// fields 14, 15 and 39 of the full line.
	fields := strings.Fields(string(data[end+2:]))
	if len(fields) < 37 {
		return procEntry{}, fmt.Errorf("too few fields for pid %d", pid)
	}

	utime, _ := strconv.ParseInt(fields[11], 10, 64)
	stime, _ := strconv.ParseInt(fields[12], 10, 64)
	cpu, _ := strconv.Atoi(fields[36])

	return procEntry{
		pid:   pid,
		comm:  comm,
		ticks: utime + stime,
		cpu:   cpu,
	}, nil
}

// readCmdline reads <procRoot>/<pid>/cmdline with NULs replaced by spaces.
func (pc *ProcessCollector) readCmdline(pid int) string {
	data, err := os.ReadFile(filepath.Join(pc.procRoot, strconv.Itoa(pid), "cmdline"))
	if err != nil || len(data) == 0 {
		return ""
	}
	return strings.TrimRight(strings.ReplaceAll(string(data), "\x00", " "), " ")
}
