package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Whamp/pi-brain/config"
	"github.com/Whamp/pi-brain/internal/database"
)

var (
	cfgFile string
	cfg     *config.Config
	logger  *zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pi-brain",
	Short: "pi-brain CLI - session analysis queue operator tool",
	Long: `Operator tool for the pi-brain analysis daemon. Enqueue analysis jobs,
inspect queue statistics and recent failures, and run scheduled triggers
manually against the shared SQLite datastore.`,
	PersistentPreRunE: persistentPreRun,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config/config.yaml or ./config.yaml)")
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config: %v\n", err)
	}
}

// persistentPreRun runs before each command and initializes dependencies
func persistentPreRun(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "help" || cmd.Name() == "completion" {
		return nil
	}

	logger = initLogger()

	if cfg == nil {
		return fmt.Errorf("config required for %s command but not loaded", cmd.Name())
	}
	if err := initDatabase(); err != nil {
		return fmt.Errorf("database initialization failed: %w", err)
	}

	return nil
}

func initLogger() *zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := zerolog.WarnLevel
	if cfg != nil && cfg.Logging.Level != "" {
		if parsedLevel, err := zerolog.ParseLevel(cfg.Logging.Level); err == nil {
			level = parsedLevel
		}
	}

	// Always use console format for the CLI
	var output io.Writer
	noColor := false
	if cfg != nil {
		noColor = cfg.Logging.NoColor
	}
	output = zerolog.ConsoleWriter{Out: os.Stderr, NoColor: noColor}

	log := zerolog.New(output).Level(level).With().Timestamp().Logger()
	return &log
}

func initDatabase() error {
	path := config.DatabasePath()
	if path == "" {
		return fmt.Errorf("database path not set (config database.path or PI_BRAIN_DB)")
	}
	return database.Connect(context.Background(), path, cfg.Database.BusyTimeout)
}

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
