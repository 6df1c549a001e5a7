package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// Environment variables that provide flag defaults. Flags given on the
// command line win.
const (
	envConfig      = "MEMSIM_CONFIG"
	envLogLevel    = "MEMSIM_LOG_LEVEL"
	envMonitorPort = "MEMSIM_MONITOR_PORT"
	envTraceDB     = "MEMSIM_TRACE_DB"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "memsim",
	Short: "Memory hierarchy simulator with NMOESI directory coherence",
	Long: `memsim builds a hierarchy of caches and memories from a YAML ` +
		`configuration, replays a command script against it, and checks ` +
		`the resulting cache and directory states.`,
	SilenceUsage:      true,
	PersistentPreRunE: setUp,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Memory system configuration file ($"+envConfig+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"Log level: trace, debug, info, warn, error ($"+envLogLevel+")")
}

// setUp loads .env, fills the flags left unset from the environment, and
// configures logging.
func setUp(cmd *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	flagFromEnv(cmd, "config", envConfig)
	flagFromEnv(cmd, "log-level", envLogLevel)
	flagFromEnv(cmd, "monitor-port", envMonitorPort)
	flagFromEnv(cmd, "trace-db", envTraceDB)

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return err
	}

	logrus.SetLevel(level)

	return nil
}

// flagFromEnv sets flag from the environment variable env unless the flag
// was given on the command line.
func flagFromEnv(cmd *cobra.Command, flag, env string) {
	f := cmd.Flags().Lookup(flag)
	if f == nil || f.Changed {
		return
	}

	if v, ok := os.LookupEnv(env); ok && v != "" {
		if err := cmd.Flags().Set(flag, v); err != nil {
			logrus.Warnf("ignoring %s=%s: %v", env, v, err)
		}
	}
}

// Execute runs the command line and exits through atexit so that recorders
// are flushed.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
