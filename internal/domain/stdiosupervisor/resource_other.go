//go:build !linux

package stdiosupervisor

import "errors"

// readResourceUsage has no portable implementation outside Linux procfs;
// the heartbeat loop treats Measurable=false as "skip limit enforcement,
// rely on the hung-timeout check only."
func readResourceUsage(pid int) ResourceUsage {
	return ResourceUsage{Measurable: false}
}

func cpuTicks(pid int) (uint64, error) {
	return 0, errors.New("cpu tick sampling not supported on this platform")
}
