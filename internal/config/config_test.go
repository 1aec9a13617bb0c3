package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Sources: SourcesConfig{
			Priority: []string{"waqi", "ambee", "openweathermap"},
		},
		Scheduler: SchedulerConfig{
			IngestInterval:  15 * time.Minute,
			RetrainInterval: 24 * time.Hour,
		},
		Training: TrainingConfig{
			MinReadings:              100,
			TrainingWindow:           720 * time.Hour,
			RegressionGuardTolerance: 0.10,
		},
		GA: GAConfig{
			PopulationSize: 30,
			Generations:    50,
			MutationRate:   0.15,
			CrossoverRate:  0.8,
			ElitismCount:   2,
			CMin:           0.01,
			CMax:           1000,
			GammaMin:       0.001,
			GammaMax:       10,
		},
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{
			"empty source priority",
			func(c *Config) { c.Sources.Priority = nil },
			"SOURCE_PRIORITY",
		},
		{
			"unknown source name",
			func(c *Config) { c.Sources.Priority = []string{"waqi", "purpleair"} },
			"unknown source",
		},
		{
			"population too small",
			func(c *Config) { c.GA.PopulationSize = 1 },
			"GA_POPULATION_SIZE",
		},
		{
			"elitism swallows population",
			func(c *Config) { c.GA.ElitismCount = 30 },
			"GA_ELITISM_COUNT",
		},
		{
			"mutation rate out of range",
			func(c *Config) { c.GA.MutationRate = 1.5 },
			"GA_MUTATION_RATE",
		},
		{
			"crossover rate negative",
			func(c *Config) { c.GA.CrossoverRate = -0.1 },
			"GA_CROSSOVER_RATE",
		},
		{
			"inverted C bounds",
			func(c *Config) { c.GA.CMin, c.GA.CMax = 100, 1 },
			"GA_C_MIN",
		},
		{
			"zero gamma lower bound",
			func(c *Config) { c.GA.GammaMin = 0 },
			"GA_GAMMA_MIN",
		},
		{
			"min readings zero",
			func(c *Config) { c.Training.MinReadings = 0 },
			"MIN_READINGS_TO_TRAIN",
		},
		{
			"negative guard tolerance",
			func(c *Config) { c.Training.RegressionGuardTolerance = -0.01 },
			"REGRESSION_GUARD_TOLERANCE",
		},
		{
			"zero retrain interval",
			func(c *Config) { c.Scheduler.RetrainInterval = 0 },
			"scheduler intervals",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}
}

func TestConfigValidateMixedCaseSources(t *testing.T) {
	cfg := validConfig()
	cfg.Sources.Priority = []string{" WAQI ", "Ambee"}
	assert.NoError(t, cfg.Validate())
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "aqi-platform", cfg.App.Name)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"waqi", "ambee", "openweathermap"}, cfg.Sources.Priority)
	assert.Equal(t, 100, cfg.Training.MinReadings)
	assert.Equal(t, 30, cfg.GA.PopulationSize)
	assert.Equal(t, int64(42), cfg.GA.Seed)
}