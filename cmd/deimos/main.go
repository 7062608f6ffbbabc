package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	configFile  string
	routersFile string
	logLevel    string
	logFormat   string

	logger = zerolog.Nop()
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "deimos",
		Short: "Rule-based model router for chat completions",
		Long: `Deimos routes chat requests to models. A request naming "deimos/<router>"
	is resolved by that router's rules, and every resolution can explain which
	rules were visited and why.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			l, err := newLogger(logLevel, logFormat)
			if err != nil {
				return err
			}
			logger = l
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ~/.deimos/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&routersFile, "routers", "", "path to routers file (overrides routers_file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console, json")

	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(routersCmd())
	rootCmd.AddCommand(modelsCmd())
	rootCmd.AddCommand(validateCmd())
	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(logsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger on stderr. An empty level means warn.
func newLogger(level, format string) (zerolog.Logger, error) {
	if level == "" {
		level = "warn"
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q", level)
	}

	switch strings.ToLower(format) {
	case "", "console":
		w := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
	case "json":
		return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger(), nil
	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format %q", format)
	}
}
