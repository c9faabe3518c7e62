// Command rvkernel is the boot entrypoint: it loads configuration, wires
// a MemorySet/Task/Scheduler together against an init ELF image, starts
// the scheduler on the init task, logs the resulting snapshot and
// returns. Grounded on dh-cli's
// cmd/root.go command-tree style; structured boot/fault logging via
// logrus replaces the teacher's bare fmt.Printf kernel-boot prints.
package main

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"rvkernel/config"
	"rvkernel/limits"
	"rvkernel/mem"
	"rvkernel/platform"
	"rvkernel/proc"
	"rvkernel/sched"
)

//go:embed app.elf
var embeddedInit []byte

var (
	configPath string
	initPath   string
	verbose    bool
	log        = logrus.New()
)

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "rvkernel",
		Short:         "Boot the RISC-V64 process/memory core against an init ELF image",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runBoot,
	}
	root.Flags().StringVar(&configPath, "config", "", "path to a TOML boot configuration")
	root.Flags().StringVar(&initPath, "init", "", "path to an init ELF image (default: the config's init_elf, else the embedded one)")
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "debug-level boot logging")
	return root
}

func runBoot(cmd *cobra.Command, args []string) error {
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	initImage := embeddedInit
	path := initPath
	if path == "" {
		path = cfg.InitELF
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading init image: %w", err)
		}
		initImage = data
	}

	log.WithFields(logrus.Fields{"ram_bytes": cfg.RAMBytes, "argv": cfg.Argv}).Info("booting")

	console := platform.NewIOConsole(os.Stdout, os.Stdin)
	regions := platform.FlatRegions(cfg.RAMBytes)
	alloc := mem.NewArena(cfg.RAMBytes / mem.PGSIZE)
	lim := limits.MkSysLimit()

	initTask, err := proc.FromELFData(initImage, cfg.Argv, cfg.Env, nil, alloc, regions, lim, console)
	if err != nil {
		return fmt.Errorf("building init task: %w", err)
	}
	log.WithFields(logrus.Fields{"pid": initTask.Pid, "entry": fmt.Sprintf("%#x", initTask.MemorySet.Entry())}).Info("init task built")

	s := sched.New()
	s.Terminate = func() {
		log.Info("init task exited, halting")
		os.Exit(0)
	}

	s.Start(initTask)
	snap := s.Snapshot()
	log.WithFields(logrus.Fields{"current": snap.Current, "ready": len(snap.Ready)}).Info("scheduler started")

	// This core manages process and memory state; it does not execute
	// RISC-V instructions (spec Non-goals: no hart emulation), and no
	// command in this repository feeds the running task traps:
	// trap.Dispatch, with syscalls.Kernel.Dispatch as its syscall
	// handler, services one ecall or page fault per call, and nothing
	// here calls it.
	return nil
}
