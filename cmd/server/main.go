// Package main is the confcycle daemon entry point: it wires the module
// registry, builds the bootstrap cycle, and hands control to the signal
// loop that drives every later reload, reopen and shutdown.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/cyclehost/confcycle/internal/commit"
	"github.com/cyclehost/confcycle/internal/config"
	"github.com/cyclehost/confcycle/internal/cycle"
	"github.com/cyclehost/confcycle/internal/modreg"
	"github.com/cyclehost/confcycle/internal/sweeper"
	"github.com/cyclehost/confcycle/modules/auditlog"
	"github.com/cyclehost/confcycle/modules/cache"
	"github.com/cyclehost/confcycle/modules/database"
	"github.com/cyclehost/confcycle/modules/httplisten"
	"github.com/cyclehost/confcycle/modules/logfiles"
	"github.com/cyclehost/confcycle/pkg/logger"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "confcycle",
		Short: "Configuration-cycle daemon with nginx-style hot reload",
		RunE:  runServe,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/confcycle/confcycle.yaml", "path to the configuration file")

	testCmd := &cobra.Command{
		Use:   "test-config",
		Short: "Validate the configuration file and exit, like nginx -t",
		RunE:  runTestConfig,
	}
	reopenCmd := &cobra.Command{
		Use:   "reopen-logs",
		Short: "Signal the running daemon to reopen its log files, like nginx -s reopen",
		RunE:  runReopenLogs,
	}

	root.AddCommand(testCmd, reopenCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// wireRegistry builds the module registry and the per-module Module values
// from cfg, in the fixed order the commit coordinator walks them.
func wireRegistry(cfg *config.Config, log *slog.Logger) *modreg.Registry {
	reg := modreg.New()

	logMod := &logfiles.Module{Config: cfg.Logfiles}
	reg.Register(logMod)

	dbMod := &database.Module{Config: cfg.Database, Logger: log}
	reg.Register(dbMod)

	cacheMod := &cache.Module{Config: cfg.Cache, Logger: log}
	reg.Register(cacheMod)

	auditMod := &auditlog.Module{Config: cfg.AuditLog, Logger: log}
	auditIdx := reg.Register(auditMod)

	httpMod := &httplisten.Module{Config: cfg.HTTPListen, Logger: log, AuditIndex: auditIdx}
	reg.Register(httpMod)

	return reg
}

func runServe(cmd *cobra.Command, args []string) error {
	bootLog := logger.NewLogger(logger.Config{Level: "info", Format: "json"})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	reg := wireRegistry(cfg, bootLog)

	sw := sweeper.New(bootLog)

	co := &commit.Coordinator{
		Registry: reg,
		Parse:    coreParse(cfg),
		PoolSize: cfg.Core.PoolSize,
		Logger:   bootLog,
		Retirer:  sw,
	}

	root := cfg.Core.Root
	if root == "" {
		root = "/"
	}

	first, err := co.Commit(nil, configPath, root)
	if err != nil {
		return fmt.Errorf("serve: bootstrap cycle: %w", err)
	}

	rebind := func(c *cycle.Cycle) {
		if auditIdx := reg.Index("auditlog"); auditIdx >= 0 {
			if al, err := auditlog.AuditLogFrom(c, auditIdx); err == nil {
				co.Audit = al
			} else {
				bootLog.Warn("audit trail unavailable", "error", err)
			}
		}
		if cacheIdx := reg.Index("cache"); cacheIdx >= 0 {
			if lock, err := cache.LockManagerFrom(c, cacheIdx); err == nil {
				co.Lock = lock
			} else {
				bootLog.Warn("distributed reload lock unavailable, reloads serialize locally only", "error", err)
			}
		}
	}
	rebind(first)

	loop := &reloadLoop{
		coordinator: co,
		current:     first,
		confFile:    configPath,
		root:        root,
		sweeper:     sw,
		logger:      bootLog,
		onCommitted: rebind,
	}
	loop.run()
	return nil
}

func runTestConfig(cmd *cobra.Command, args []string) error {
	bootLog := logger.NewLogger(logger.Config{Level: "info", Format: "json"})

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "confcycle: configuration file %s test failed: %v\n", configPath, err)
		os.Exit(1)
	}

	reg := wireRegistry(cfg, bootLog)
	co := &commit.Coordinator{
		Registry:   reg,
		Parse:      coreParse(cfg),
		Logger:     bootLog,
		TestConfig: true,
	}

	root := cfg.Core.Root
	if root == "" {
		root = "/"
	}

	if _, err := co.Commit(nil, configPath, root); err != nil {
		fmt.Fprintf(os.Stderr, "confcycle: configuration file %s test failed: %v\n", configPath, err)
		os.Exit(1)
	}
	fmt.Printf("confcycle: configuration file %s test is successful\n", configPath)
	return nil
}

func runReopenLogs(cmd *cobra.Command, args []string) error {
	bootLog := logger.NewLogger(logger.Config{Level: "info", Format: "json"})

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("reopen-logs: load config: %w", err)
	}
	pid, err := readPID(cfg.Core.PIDPath)
	if err != nil {
		return fmt.Errorf("reopen-logs: %w", err)
	}
	if err := signalReopen(pid); err != nil {
		return fmt.Errorf("reopen-logs: signal pid %d: %w", pid, err)
	}
	bootLog.Info("sent reopen-logs signal", "pid", pid)
	return nil
}
