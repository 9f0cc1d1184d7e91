//go:build !windows

package cmd

import (
	"os"
	"syscall"
)

// shutdownSignals lists the signals that trigger a graceful gateway
// shutdown: SIGINT from a terminal, SIGTERM from process managers.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// gatewayAlive probes the process with the null signal, which performs the
// permission and existence checks without delivering anything.
func gatewayAlive(proc *os.Process) bool {
	return proc.Signal(syscall.Signal(0)) == nil
}

// requestShutdown asks a running gateway to drain and exit.
func requestShutdown(proc *os.Process) error {
	return proc.Signal(syscall.SIGTERM)
}
