//go:build linux

package stdiosupervisor

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// readResourceUsage reads RSS and open file descriptor count for pid from
// procfs. No example in the retrieval pack imports a process-metrics
// library (gopsutil or similar), so this reads /proc directly rather than
// adding a dependency nothing else in the stack uses.
func readResourceUsage(pid int) ResourceUsage {
	usage := ResourceUsage{Measurable: true}

	if rss, err := readRSSBytes(pid); err == nil {
		usage.RSSBytes = rss
	} else {
		usage.Measurable = false
	}

	if fds, err := countOpenFDs(pid); err == nil {
		usage.OpenFDs = fds
	} else {
		usage.Measurable = false
	}

	// CPU percent requires sampling /proc/<pid>/stat over an interval;
	// the heartbeat loop in supervisor.go does that sampling and calls
	// cpuPercentSince directly, so it is not computed here.
	return usage
}

func readRSSBytes(pid int) (int64, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/status", pid))
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "VmRSS:") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return 0, fmt.Errorf("unexpected VmRSS line %q", line)
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, err
		}
		return kb * 1024, nil
	}
	return 0, fmt.Errorf("VmRSS not found in /proc/%d/status", pid)
}

func countOpenFDs(pid int) (int, error) {
	entries, err := os.ReadDir(fmt.Sprintf("/proc/%d/fd", pid))
	if err != nil {
		return 0, err
	}
	return len(entries), nil
}

// cpuTicks reads the utime+stime jiffies for pid from /proc/<pid>/stat,
// used by the heartbeat loop to derive CPU percent across a sample window.
func cpuTicks(pid int) (uint64, error) {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return 0, err
	}
	// Fields after the command name (which may itself contain spaces and
	// is parenthesized) are space-separated; utime is field 14, stime 15
	// (1-indexed) per proc(5).
	closeParen := strings.LastIndexByte(string(data), ')')
	if closeParen < 0 {
		return 0, fmt.Errorf("malformed /proc/%d/stat", pid)
	}
	fields := strings.Fields(string(data)[closeParen+1:])
	if len(fields) < 15 {
		return 0, fmt.Errorf("short /proc/%d/stat", pid)
	}
	utime, err := strconv.ParseUint(fields[11], 10, 64)
	if err != nil {
		return 0, err
	}
	stime, err := strconv.ParseUint(fields[12], 10, 64)
	if err != nil {
		return 0, err
	}
	return utime + stime, nil
}
