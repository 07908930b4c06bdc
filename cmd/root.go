package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cwbudde/manifoldopt/internal/opt"
)

var (
	logLevel   string
	configFile string
	logger     *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "manifoldopt",
	Short: "Riemannian optimization on matrix manifolds",
	Long: `manifoldopt minimizes cost functions over spheres, Stiefel manifolds and
their products with steepest descent, conjugate gradients, Barzilai-Borwein,
trust regions, Nelder-Mead and a mayfly swarm. Runs can be persisted, resumed
from a previous point and served over HTTP.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stderr, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML, JSON or TOML file with solver parameters")
}

// loadSolverParams reads solver hyperparameters from a config file. An empty
// path yields the solver defaults. Keys use the snake_case names of
// opt.Params, e.g. beta_rule or rho_prime.
func loadSolverParams(path string) (opt.Params, error) {
	var params opt.Params
	if path == "" {
		return params, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return params, fmt.Errorf("failed to read config %s: %w", path, err)
	}
	if err := v.Unmarshal(&params); err != nil {
		return params, fmt.Errorf("failed to decode config %s: %w", path, err)
	}

	slog.Debug("Loaded solver parameters", "path", path, "keys", v.AllKeys())
	return params, nil
}
