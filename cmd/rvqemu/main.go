// Command rvqemu launches and supervises a qemu-system-riscv64 "virt"
// machine process in its own session and records its pid in a pidfile; it
// does not route guest traps into the trap/syscalls packages. Lifecycle
// verbs (start/status/stop) are grounded on dh-cli's internal/cmd/vm.go
// prepare/status/clean command tree; the liveness probe and the SIGTERM
// sent by stop use golang.org/x/sys/unix the way dh-cli's
// discovery/kill_unix.go and internal/vm/machine_linux.go do.
package main

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

var log = logrus.New()

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "rvqemu",
		Short: "Launch and supervise a QEMU RISC-V64 virt machine for this kernel core",
	}
	root.AddCommand(newStartCmd(), newStatusCmd(), newStopCmd())
	return root
}

var (
	qemuBinary string
	ramMB      int
	kernelPath string
	runDir     string
)

func addCommonFlags(c *cobra.Command) {
	c.Flags().StringVar(&qemuBinary, "qemu", "qemu-system-riscv64", "path to the qemu-system-riscv64 binary")
	c.Flags().IntVar(&ramMB, "ram-mb", 64, "guest RAM size in MiB")
	c.Flags().StringVar(&kernelPath, "kernel", "", "path to the kernel image QEMU should load")
	c.Flags().StringVar(&runDir, "run-dir", defaultRunDir(), "directory holding the pidfile")
}

func defaultRunDir() string {
	if d, err := os.UserCacheDir(); err == nil {
		return filepath.Join(d, "rvqemu")
	}
	return filepath.Join(os.TempDir(), "rvqemu")
}

func pidFile() string { return filepath.Join(runDir, "rvqemu.pid") }

func newStartCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "start",
		Short: "Start the virt machine in the background",
		RunE:  runStart,
	}
	addCommonFlags(c)
	return c
}

func runStart(cmd *cobra.Command, args []string) error {
	if kernelPath == "" {
		return fmt.Errorf("--kernel is required")
	}
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("creating run dir: %w", err)
	}
	if pid, ok := readLivePid(); ok {
		return fmt.Errorf("rvqemu already running (pid %d)", pid)
	}

	qArgs := []string{
		"-machine", "virt",
		"-nographic",
		"-m", strconv.Itoa(ramMB) + "M",
		"-bios", "none",
		"-kernel", kernelPath,
	}
	proc := exec.Command(qemuBinary, qArgs...)
	proc.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	proc.Stdout = os.Stdout
	proc.Stderr = os.Stderr

	if err := proc.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", qemuBinary, err)
	}
	log.WithFields(logrus.Fields{"pid": proc.Process.Pid, "machine": "virt", "ram_mb": ramMB}).Info("qemu started")

	if err := os.WriteFile(pidFile(), []byte(strconv.Itoa(proc.Process.Pid)), 0o644); err != nil {
		return fmt.Errorf("writing pidfile: %w", err)
	}
	return nil
}

func newStatusCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "status",
		Short: "Report whether the virt machine is running",
		RunE:  runStatus,
	}
	c.Flags().StringVar(&runDir, "run-dir", defaultRunDir(), "directory holding the pidfile")
	return c
}

func runStatus(cmd *cobra.Command, args []string) error {
	if pid, ok := readLivePid(); ok {
		fmt.Fprintf(cmd.OutOrStdout(), "running (pid %d)\n", pid)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), "not running")
	return nil
}

func newStopCmd() *cobra.Command {
	c := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running virt machine",
		RunE:  runStop,
	}
	c.Flags().StringVar(&runDir, "run-dir", defaultRunDir(), "directory holding the pidfile")
	return c
}

func runStop(cmd *cobra.Command, args []string) error {
	pid, ok := readLivePid()
	if !ok {
		return fmt.Errorf("rvqemu is not running")
	}
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		return fmt.Errorf("signaling pid %d: %w", pid, err)
	}
	os.Remove(pidFile())
	fmt.Fprintf(cmd.OutOrStdout(), "stopped (pid %d)\n", pid)
	return nil
}

// readLivePid reads runDir's pidfile and confirms the process still
// exists, via the null-signal probe dh-cli's discovery package uses.
func readLivePid() (int, bool) {
	data, err := os.ReadFile(pidFile())
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	if err := unix.Kill(pid, 0); err != nil {
		return 0, false
	}
	return pid, true
}
