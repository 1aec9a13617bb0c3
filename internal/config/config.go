package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config is the full engine configuration surface
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Database  DatabaseConfig
	Sources   SourcesConfig
	Scheduler SchedulerConfig
	Training  TrainingConfig
	GA        GAConfig
}

type AppConfig struct {
	Name     string `envconfig:"APP_NAME" default:"aqi-platform"`
	Env      string `envconfig:"APP_ENV" default:"development"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type ServerConfig struct {
	Host         string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port         int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout  time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `envconfig:"SERVER_IDLE_TIMEOUT" default:"60s"`
}

type DatabaseConfig struct {
	Host            string        `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port            int           `envconfig:"POSTGRES_PORT" default:"5432"`
	User            string        `envconfig:"POSTGRES_USER" default:"aqi"`
	Password        string        `envconfig:"POSTGRES_PASSWORD" default:""`
	Database        string        `envconfig:"POSTGRES_DB" default:"aqi_platform"`
	SSLMode         string        `envconfig:"POSTGRES_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"POSTGRES_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"POSTGRES_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"POSTGRES_CONN_MAX_LIFETIME" default:"30m"`
	ConnMaxIdleTime time.Duration `envconfig:"POSTGRES_CONN_MAX_IDLE_TIME" default:"5m"`
}

// SourcesConfig configures the prioritized external source chain.
// Priority is a comma-separated list; unknown names are rejected.
type SourcesConfig struct {
	Priority []string `envconfig:"SOURCE_PRIORITY" default:"waqi,ambee,openweathermap"`

	WAQIToken      string        `envconfig:"WAQI_API_TOKEN"`
	WAQITimeout    time.Duration `envconfig:"WAQI_TIMEOUT" default:"10s"`
	WAQIRetries    int           `envconfig:"WAQI_RETRIES" default:"1"`
	AmbeeKey       string        `envconfig:"AMBEE_API_KEY"`
	AmbeeTimeout   time.Duration `envconfig:"AMBEE_TIMEOUT" default:"15s"`
	AmbeeRetries   int           `envconfig:"AMBEE_RETRIES" default:"1"`
	OWMKey         string        `envconfig:"OPENWEATHERMAP_API_KEY"`
	OWMTimeout     time.Duration `envconfig:"OPENWEATHERMAP_TIMEOUT" default:"10s"`
	OWMRetries     int           `envconfig:"OPENWEATHERMAP_RETRIES" default:"1"`
	RetryBackoff   time.Duration `envconfig:"SOURCE_RETRY_BACKOFF" default:"2s"`
}

type SchedulerConfig struct {
	IngestInterval  time.Duration `envconfig:"INGEST_INTERVAL" default:"15m"`
	RetrainInterval time.Duration `envconfig:"RETRAIN_INTERVAL" default:"24h"`
}

type TrainingConfig struct {
	MinReadings              int           `envconfig:"MIN_READINGS_TO_TRAIN" default:"100"`
	TrainingWindow           time.Duration `envconfig:"TRAINING_WINDOW" default:"720h"`
	RegressionGuardTolerance float64       `envconfig:"REGRESSION_GUARD_TOLERANCE" default:"0.10"`
}

type GAConfig struct {
	PopulationSize     int     `envconfig:"GA_POPULATION_SIZE" default:"30"`
	Generations        int     `envconfig:"GA_GENERATIONS" default:"50"`
	MutationRate       float64 `envconfig:"GA_MUTATION_RATE" default:"0.15"`
	CrossoverRate      float64 `envconfig:"GA_CROSSOVER_RATE" default:"0.8"`
	ElitismCount       int     `envconfig:"GA_ELITISM_COUNT" default:"2"`
	TournamentSize     int     `envconfig:"GA_TOURNAMENT_SIZE" default:"3"`
	EarlyStopRounds    int     `envconfig:"GA_EARLY_STOP_ROUNDS" default:"10"`
	CMin               float64 `envconfig:"GA_C_MIN" default:"0.01"`
	CMax               float64 `envconfig:"GA_C_MAX" default:"1000"`
	GammaMin           float64 `envconfig:"GA_GAMMA_MIN" default:"0.001"`
	GammaMax           float64 `envconfig:"GA_GAMMA_MAX" default:"10"`
	Seed               int64   `envconfig:"GA_SEED" default:"42"`
	ParallelEvaluators int     `envconfig:"GA_PARALLEL_EVALUATORS" default:"4"`
}

var knownSources = map[string]bool{
	"waqi":           true,
	"ambee":          true,
	"openweathermap": true,
}

// Load reads configuration from the environment, with .env overrides
// for local development.
func Load() (*Config, error) {
	// Missing .env is fine; real environments set variables directly.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross-field constraints envconfig tags cannot express
func (c *Config) Validate() error {
	if len(c.Sources.Priority) == 0 {
		return fmt.Errorf("SOURCE_PRIORITY must name at least one source")
	}
	for _, name := range c.Sources.Priority {
		if !knownSources[strings.ToLower(strings.TrimSpace(name))] {
			return fmt.Errorf("unknown source %q in SOURCE_PRIORITY", name)
		}
	}

	if c.GA.PopulationSize < 2 {
		return fmt.Errorf("GA_POPULATION_SIZE must be at least 2")
	}
	if c.GA.ElitismCount >= c.GA.PopulationSize {
		return fmt.Errorf("GA_ELITISM_COUNT must be smaller than GA_POPULATION_SIZE")
	}
	if c.GA.MutationRate < 0 || c.GA.MutationRate > 1 {
		return fmt.Errorf("GA_MUTATION_RATE must be within [0, 1]")
	}
	if c.GA.CrossoverRate < 0 || c.GA.CrossoverRate > 1 {
		return fmt.Errorf("GA_CROSSOVER_RATE must be within [0, 1]")
	}
	if c.GA.CMin <= 0 || c.GA.CMax <= c.GA.CMin {
		return fmt.Errorf("C search bounds must satisfy 0 < GA_C_MIN < GA_C_MAX")
	}
	if c.GA.GammaMin <= 0 || c.GA.GammaMax <= c.GA.GammaMin {
		return fmt.Errorf("gamma search bounds must satisfy 0 < GA_GAMMA_MIN < GA_GAMMA_MAX")
	}

	if c.Training.MinReadings < 1 {
		return fmt.Errorf("MIN_READINGS_TO_TRAIN must be positive")
	}
	if c.Training.RegressionGuardTolerance < 0 {
		return fmt.Errorf("REGRESSION_GUARD_TOLERANCE must not be negative")
	}

	if c.Scheduler.IngestInterval <= 0 || c.Scheduler.RetrainInterval <= 0 {
		return fmt.Errorf("scheduler intervals must be positive")
	}

	return nil
}
