//go:build windows

package stdiosupervisor

import (
	"os"

	"golang.org/x/sys/windows"
)

// processIsAlive checks if a process is still running on Windows by opening
// a handle and checking the exit code.
func processIsAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var exitCode uint32
	if err := windows.GetExitCodeProcess(handle, &exitCode); err != nil {
		return false
	}
	return exitCode == 259 // STILL_ACTIVE
}

// sendGracefulStop terminates the process on Windows. There is no SIGTERM
// equivalent; Kill() calls TerminateProcess directly.
func sendGracefulStop(proc *os.Process) error {
	return proc.Kill()
}
