package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/haptickit/hapticd/internal/api"
	"github.com/haptickit/hapticd/internal/conductor"
	"github.com/haptickit/hapticd/internal/lockfile"
	"github.com/haptickit/hapticd/internal/manager"
	"github.com/haptickit/hapticd/internal/store"
	"github.com/haptickit/hapticd/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for hapticd state data
	DefaultStateDir = "/var/lib/hapticd"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "hapticd.db"
	// DefaultFakeActuators is how many simulated actuators are registered
	// when no real hardware integration is configured
	DefaultFakeActuators = 2
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	// One hapticd instance per state directory
	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err)
		os.Exit(1)
	}
	defer lock.Release()

	// Build module options
	storeOpts := buildStoreOptions(flags)
	mgrOpts := buildManagerOptions(flags)
	apiOpts := buildAPIOptions(flags)

	// Start the service
	slog.Info("Bootstrapping hapticd with configured modules")
	slog.Debug("Module options counts", "store", len(storeOpts), "manager", len(mgrOpts), "api", len(apiOpts))
	slog.Debug("Final configuration", "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "fake_actuators", *flags.fakeActuators)
	if err := api.Run(storeOpts, mgrOpts, apiOpts); err != nil {
		slog.Error("hapticd failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("hapticd exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	DatabaseURL      string
	APIAddr          string
	FakeActuators    int
	RampDownDuration time.Duration
	StrictDispatch   bool
	UseGainModel     bool
	LevelGain        float64
	PruneCron        string
	HistoryRetention time.Duration
}

// Flags holds command line flag values
type Flags struct {
	stateDir         *string
	dbDSN            *string
	apiAddr          *string
	fakeActuators    *int
	rampDownDuration *time.Duration
	strictDispatch   *bool
	useGainModel     *bool
	levelGain        *float64
	pruneCron        *string
	historyRetention *time.Duration
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("HAPTICD_STATE_DIR"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		APIAddr:          os.Getenv("API_ADDR"),
		FakeActuators:    util.ParseIntEnv("HAPTICD_FAKE_ACTUATORS", DefaultFakeActuators),
		RampDownDuration: util.ParseDurationEnv("HAPTICD_RAMP_DOWN", 0),
		StrictDispatch:   util.ParseBoolEnv("HAPTICD_STRICT_DISPATCH", false),
		UseGainModel:     util.ParseBoolEnv("HAPTICD_USE_GAIN_MODEL", true),
		LevelGain:        util.ParseFloatEnv("HAPTICD_LEVEL_GAIN", 0),
		PruneCron:        os.Getenv("HAPTICD_PRUNE_CRON"),
		HistoryRetention: util.ParseDurationEnv("HAPTICD_HISTORY_RETENTION", 0),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No HAPTICD_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("HAPTICD_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"HAPTICD_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"API_ADDR", config.APIAddr,
		"HAPTICD_FAKE_ACTUATORS", config.FakeActuators,
		"HAPTICD_STRICT_DISPATCH", config.StrictDispatch)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:         flag.String("state-dir", config.StateDir, "state directory for hapticd data (overrides $HAPTICD_STATE_DIR)"),
		dbDSN:            flag.String("db-dsn", config.DatabaseURL, "database DSN for the vibration store (overrides $DATABASE_URL)"),
		apiAddr:          flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		fakeActuators:    flag.Int("fake-actuators", config.FakeActuators, "number of simulated actuators to register (overrides $HAPTICD_FAKE_ACTUATORS)"),
		rampDownDuration: flag.Duration("ramp-down", config.RampDownDuration, "ramp-down tail duration after vibrations end (overrides $HAPTICD_RAMP_DOWN)"),
		strictDispatch:   flag.Bool("strict-dispatch", config.StrictDispatch, "abort vibrations on any hardware dispatch failure (overrides $HAPTICD_STRICT_DISPATCH)"),
		useGainModel:     flag.Bool("use-gain-model", config.UseGainModel, "use the gain-based intensity scaling curve (overrides $HAPTICD_USE_GAIN_MODEL)"),
		levelGain:        flag.Float64("level-gain", config.LevelGain, "gain applied per intensity level, 0 for default (overrides $HAPTICD_LEVEL_GAIN)"),
		pruneCron:        flag.String("prune-cron", config.PruneCron, "cron expression for the history prune job (overrides $HAPTICD_PRUNE_CRON)"),
		historyRetention: flag.Duration("history-retention", config.HistoryRetention, "how long vibration records are kept, 0 for default (overrides $HAPTICD_HISTORY_RETENTION)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"apiAddr", *flags.apiAddr,
		"fakeActuators", *flags.fakeActuators,
		"rampDown", *flags.rampDownDuration,
		"strictDispatch", *flags.strictDispatch,
		"useGainModel", *flags.useGainModel)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "dsn_updated", true, "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		storeOpts = append(storeOpts, store.WithDSN(*flags.dbDSN))
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

// buildManagerOptions constructs vibration manager configuration options
func buildManagerOptions(flags Flags) []manager.Option {
	var mgrOpts []manager.Option
	condCfg := conductor.Config{
		RampDownDuration: *flags.rampDownDuration,
		StrictDispatch:   *flags.strictDispatch,
	}
	mgrOpts = append(mgrOpts, manager.WithConductorConfig(condCfg))

	snapshot := manager.DefaultScaleSnapshot()
	snapshot.UseGainModel = *flags.useGainModel
	if *flags.levelGain > 0 {
		snapshot.LevelGain = *flags.levelGain
	}
	mgrOpts = append(mgrOpts, manager.WithScaleSnapshot(snapshot))
	return mgrOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.fakeActuators > 0 {
		apiOpts = append(apiOpts, api.WithFakeActuators(*flags.fakeActuators))
	}
	if *flags.pruneCron != "" {
		apiOpts = append(apiOpts, api.WithPruneCron(*flags.pruneCron))
	}
	if *flags.historyRetention > 0 {
		apiOpts = append(apiOpts, api.WithHistoryRetention(*flags.historyRetention))
	}
	return apiOpts
}
