//go:build windows

package cmd

import (
	"os"

	"golang.org/x/sys/windows"
)

// stillActive is the exit code Windows reports for a running process.
const stillActive = 259

// shutdownSignals lists the signals that trigger a graceful gateway
// shutdown. Windows only delivers os.Interrupt (CTRL_C_EVENT) reliably.
func shutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}

// gatewayAlive reports whether the gateway process is still running. There
// is no null signal on Windows, so this opens a query handle and inspects
// the exit code instead.
func gatewayAlive(proc *os.Process) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(proc.Pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return false
	}
	return code == stillActive
}

// requestShutdown stops the gateway. Windows has no SIGTERM equivalent;
// Kill maps to TerminateProcess, so the drain step is skipped here.
func requestShutdown(proc *os.Process) error {
	return proc.Kill()
}
