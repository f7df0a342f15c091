package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vyrodovalexey/policyguard/internal/config"
)

func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("POLICYGUARD_TEST_ENV", "set")

	assert.Equal(t, "set", getEnvOrDefault("POLICYGUARD_TEST_ENV", "fallback"))
	assert.Equal(t, "fallback", getEnvOrDefault("POLICYGUARD_TEST_UNSET", "fallback"))
}

func TestApplyFlagOverrides(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		flags      cliFlags
		wantLevel  string
		wantFormat string
	}{
		{name: "no overrides", flags: cliFlags{}, wantLevel: "info", wantFormat: "json"},
		{name: "level only", flags: cliFlags{logLevel: "debug"}, wantLevel: "debug", wantFormat: "json"},
		{name: "both", flags: cliFlags{logLevel: "warn", logFormat: "console"}, wantLevel: "warn", wantFormat: "console"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Default()
			applyFlagOverrides(cfg, tt.flags)
			assert.Equal(t, tt.wantLevel, cfg.Logging.Level)
			assert.Equal(t, tt.wantFormat, cfg.Logging.Format)
		})
	}
}

func TestInitLogger(t *testing.T) {
	t.Parallel()

	logger := initLogger(config.Default())
	assert.NotNil(t, logger)
}
