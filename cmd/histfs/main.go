package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"histfs/internal/cipher"
	"histfs/internal/config"
	"histfs/internal/fs"
	"histfs/internal/logging"
	"histfs/internal/metrics"
	"histfs/internal/state"
	"histfs/internal/store"

	"bazil.org/fuse"
	"github.com/spf13/pflag"
)

var (
	logger     = logging.GetLogger()
	fuseLogger = logger.WithPrefix("fuse")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: %s [flags] <backing-dir> <mount-point>\n\n", filepath.Base(os.Args[0]))
	pflag.PrintDefaults()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(2)
	}

	verbose := pflag.BoolP("verbose", "v", false, "Enable debug logging")
	pflag.StringVar(&cfg.Mount.StateFile, "state", cfg.Mount.StateFile, "Mount profile file (optional)")
	pflag.StringVar(&cfg.Metrics.Addr, "metrics-addr", cfg.Metrics.Addr, "Serve Prometheus metrics on this address")
	pflag.StringVar(&cfg.Versions.Separator, "separator", cfg.Versions.Separator, "Text placed between a file name and its version number")
	pflag.BoolVar(&cfg.Mount.AllowOther, "allow-other", cfg.Mount.AllowOther, "Allow other users to access the mount")
	pflag.Usage = usage
	pflag.Parse()

	if pflag.NArg() != 2 {
		usage()
		os.Exit(2)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid flags: %v\n", err)
		os.Exit(2)
	}

	// Configure logging based on config and flags
	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		logger.Warn("%v, using INFO", err)
	}
	if *verbose && level < logging.LevelDebug {
		level = logging.LevelDebug
	}
	logger.SetLevel(level)
	defer logger.Sync()

	if cfg.Logging.FuseDebug {
		fuse.Debug = func(msg interface{}) {
			fuseLogger.Debug("%v", msg)
		}
	}

	backingDir, err := filepath.Abs(pflag.Arg(0))
	if err != nil {
		logger.Error("Cannot resolve backing directory: %v", err)
		os.Exit(1)
	}
	mountPoint := filepath.Clean(pflag.Arg(1))

	logger.Info("Starting histfs...")
	logger.Debug("Backing directory: %s", backingDir)
	logger.Debug("Mount point: %s", mountPoint)
	logger.Debug("Version separator: %q", cfg.Versions.Separator)

	if cfg.Mount.StateFile != "" {
		if err := recordProfile(cfg, backingDir); err != nil {
			logger.Error("%v", err)
			os.Exit(1)
		}
	}

	m := metrics.New()
	st := store.New(backingDir, store.Options{
		Separator:   cfg.Versions.Separator,
		MaxAttempts: cfg.Versions.MaxAttempts,
		Cipher:      cipher.Default,
		Metrics:     m,
	})
	hfs := fs.NewHistFS(st, cfg.Mount)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Metrics.Addr != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Error("Metrics listener failed: %v", err)
			}
		}()
	}

	logger.Debug("Setting up signal handlers...")
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Mounting filesystem...")
	if err := hfs.Mount(mountPoint); err != nil {
		logger.Error("Mount failed: %v", err)
		os.Exit(1)
	}
	logger.Info("Filesystem mounted and ready")

	go func() {
		sig := <-sigChan
		logger.Info("Received signal %v", sig)
		if err := hfs.Unmount(); err != nil {
			logger.Error("Unmount error: %v", err)
		}
	}()

	if err := hfs.Wait(); err != nil {
		logger.Error("FUSE server stopped with error: %v", err)
		os.Exit(1)
	}
	logger.Info("Clean shutdown complete")
}

// recordProfile refuses to mount a backing directory whose history was
// written with other settings, then records this mount.
func recordProfile(cfg *config.Config, backingDir string) error {
	logger.Info("Checking mount profile...")
	sm, err := state.NewManager(cfg.Mount.StateFile)
	if err != nil {
		return fmt.Errorf("failed to initialize state manager: %w", err)
	}

	profile, err := sm.LoadState()
	if err != nil {
		return fmt.Errorf("failed to load mount profile: %w", err)
	}

	shift := int(cipher.Default)
	if err := profile.CheckCompatible(backingDir, cfg.Versions.Separator, shift); err != nil {
		return err
	}

	profile.RecordMount(backingDir, cfg.Versions.Separator, shift, time.Now())
	if err := sm.SaveState(profile); err != nil {
		return fmt.Errorf("failed to save mount profile: %w", err)
	}
	logger.Debug("Mount %d of %s recorded in %s", profile.Mounts, backingDir, sm.Path())
	return nil
}
