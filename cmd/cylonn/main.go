package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/codefionn/cylonn/internal/broker"
	"github.com/codefionn/cylonn/internal/config"
	"github.com/codefionn/cylonn/internal/initfile"
	"github.com/codefionn/cylonn/internal/logger"
)

// cliOptions holds the command line flags. Only flags the user actually set
// override the config file.
type cliOptions struct {
	configPath string
	initPath   string
	lenient    bool
	watch      bool
	admin      bool
	logLevel   string
	logPath    string
	pidFile    string
	set        map[string]bool
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() (err error) {
	opts, parseErr := parseCLIArgs(os.Args[1:], os.Stderr)
	if parseErr != nil {
		if errors.Is(parseErr, flag.ErrHelp) {
			return nil
		}
		return parseErr
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if initErr := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); initErr != nil {
		return fmt.Errorf("failed to initialize logger: %w", initErr)
	}
	defer func() {
		if err != nil {
			logger.Error("Fatal error: %v", err)
		}
		if closeErr := logger.Global().Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close logger: %v\n", closeErr)
		}
	}()

	logger.Info("cylonn starting")
	logger.Debug("Configuration loaded: init_path=%s, init_mode=%s, log_level=%s, log_path=%s",
		cfg.InitPath, cfg.InitMode, cfg.LogLevel, cfg.LogPath)

	file, err := initfile.Read(cfg.InitPath, cfg.Mode())
	if err != nil {
		return fmt.Errorf("failed to read init file: %w", err)
	}
	if skipped := file.SkippedErr(); skipped != nil {
		logger.Warn("init file %s: skipped lines: %v", cfg.InitPath, skipped)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return broker.New(cfg, file).Run(ctx)
}

func parseCLIArgs(args []string, output io.Writer) (*cliOptions, error) {
	fs := flag.NewFlagSet("cylonn", flag.ContinueOnError)
	fs.SetOutput(output)

	opts := &cliOptions{set: make(map[string]bool)}
	fs.StringVar(&opts.configPath, "config", config.GetConfigPath(), "Path to the JSON config file")
	fs.StringVar(&opts.initPath, "init", "init", "Path to the plugin init file")
	fs.BoolVar(&opts.lenient, "lenient", false, "Skip malformed init lines instead of aborting")
	fs.BoolVar(&opts.watch, "watch", false, "Reload plugins when the init file changes")
	fs.BoolVar(&opts.admin, "admin", false, "Serve the admin API on <socket>"+broker.AdminSuffix)
	fs.StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error, none)")
	fs.StringVar(&opts.logPath, "log-path", "", "Log file path, \"-\" for stderr")
	fs.StringVar(&opts.pidFile, "pidfile", "", "Write the broker PID to this file")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: %s [options]\n\n", fs.Name())
		fmt.Fprintln(fs.Output(), "Starts the plugin broker and every plugin listed in the init file.")
		fmt.Fprintln(fs.Output(), "Options:")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		fs.Usage()
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	fs.Visit(func(f *flag.Flag) { opts.set[f.Name] = true })
	return opts, nil
}

// apply copies explicitly set flags into cfg.
func (o *cliOptions) apply(cfg *config.Config) {
	if o.set["init"] {
		cfg.InitPath = o.initPath
	}
	if o.set["lenient"] {
		if o.lenient {
			cfg.InitMode = initfile.Lenient.String()
		} else {
			cfg.InitMode = initfile.Strict.String()
		}
	}
	if o.set["watch"] {
		cfg.WatchInit = o.watch
	}
	if o.set["admin"] {
		cfg.AdminEnabled = o.admin
	}
	if o.set["log-level"] {
		cfg.LogLevel = o.logLevel
	}
	if o.set["log-path"] {
		cfg.LogPath = o.logPath
	}
	if o.set["pidfile"] {
		cfg.PidFile = o.pidFile
	}
}
