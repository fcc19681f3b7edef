// Package logfiles is the module-registry entry that owns a cycle's error
// log: the raw *os.File the reopen operation (internal/reopen) chowns,
// chmods and dup2's over standard error, plus a lumberjack-backed
// secondary log for structured application output that doesn't need
// fd-level reopen semantics.
package logfiles

import (
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/cyclehost/confcycle/internal/cycle"
	"github.com/cyclehost/confcycle/pkg/logger"
)

// Config is the subset of application configuration this module owns.
type Config struct {
	ErrorLogPath string `mapstructure:"error_log_path" json:"error_log_path" validate:"required"`
	AppLogPath   string `mapstructure:"app_log_path" json:"app_log_path"`
	Level        string `mapstructure:"level" json:"level"`
	MaxSizeMB    int    `mapstructure:"max_size_mb" json:"max_size_mb"`
	MaxBackups   int    `mapstructure:"max_backups" json:"max_backups"`
	MaxAgeDays   int    `mapstructure:"max_age_days" json:"max_age_days"`
}

type conf struct {
	cfg    Config
	appLog *slog.Logger
}

// Module owns the error-log OpenFile slot and the application logger.
type Module struct {
	Config Config
}

func (m *Module) Name() string { return "logfiles" }

// CreateConf registers the error-log slot on the cycle's OpenFiles list
// (step 3/9 of cycle construction: every module contributes its named
// files before the resource-acquisition phase opens them) and returns the
// per-module block the later hooks fill in.
func (m *Module) CreateConf(c *cycle.Cycle) (any, error) {
	entry := &cycle.OpenFile{Name: m.Config.ErrorLogPath}
	c.OpenFiles.Push(entry)
	return &conf{cfg: m.Config}, nil
}

func (m *Module) InitConf(_ *cycle.Cycle, raw any) error {
	c := raw.(*conf)
	if c.cfg.ErrorLogPath == "" {
		return fmt.Errorf("logfiles: error_log_path is required")
	}
	return nil
}

// InitModule sets up the cycle's LogHandle once the OpenFiles pass has
// given the error log a real descriptor, and builds the lumberjack-backed
// application logger.
func (m *Module) InitModule(c *cycle.Cycle, raw any) error {
	cc := raw.(*conf)

	var errFile *os.File
	c.OpenFiles.Each(func(f *cycle.OpenFile) bool {
		if f.Name == cc.cfg.ErrorLogPath {
			errFile = f.File
			return false
		}
		return true
	})
	if errFile == nil {
		return fmt.Errorf("logfiles: error log %s was not opened", cc.cfg.ErrorLogPath)
	}

	handler := slog.NewJSONHandler(errFile, &slog.HandlerOptions{Level: logger.ParseLevel(cc.cfg.Level)})
	c.NewLog = &cycle.LogHandle{File: errFile, Logger: slog.New(handler)}
	c.Log = c.NewLog

	if cc.cfg.AppLogPath != "" {
		writer := &lumberjack.Logger{
			Filename:   cc.cfg.AppLogPath,
			MaxSize:    cc.cfg.MaxSizeMB,
			MaxBackups: cc.cfg.MaxBackups,
			MaxAge:     cc.cfg.MaxAgeDays,
			Compress:   true,
		}
		c.Pool.CleanupAdd(func() { writer.Close() })
		cc.appLog = slog.New(slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: logger.ParseLevel(cc.cfg.Level)}))
	}

	return nil
}

// AppLogFrom returns the lumberjack-backed application logger a committed
// cycle's logfiles module slot holds, or nil if no AppLogPath was
// configured.
func AppLogFrom(c *cycle.Cycle, index int) *slog.Logger {
	raw := c.ConfCtx[index]
	cc, ok := raw.(*conf)
	if !ok {
		return nil
	}
	return cc.appLog
}
