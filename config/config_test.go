package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Cols:            120,
		Rows:            40,
		IdleMs:          200,
		TokenMode:       ModeRaw,
		BufferBytes:     8 << 20,
		OverflowGraceMs: 5000,
		Compress:        "none",
		Command:         "bash",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero cols", func(c *Config) { c.Cols = 0 }},
		{"zero rows", func(c *Config) { c.Rows = 0 }},
		{"zero idle", func(c *Config) { c.IdleMs = 0 }},
		{"zero buffer", func(c *Config) { c.BufferBytes = 0 }},
		{"negative buffer", func(c *Config) { c.BufferBytes = -1 }},
		{"unknown token mode", func(c *Config) { c.TokenMode = "fancy" }},
		{"unsupported compression", func(c *Config) { c.Compress = "zstd" }},
		{"missing command", func(c *Config) { c.Command = "" }},
		{"invalid prompt regex", func(c *Config) { c.PromptPatterns = []string{"[unclosed"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrConfig)
		})
	}
}

func TestValidateCompilesPromptPatterns(t *testing.T) {
	cfg := validConfig()
	cfg.PromptPatterns = []string{`\$ $`, `password:`}
	require.NoError(t, cfg.Validate())

	res := cfg.PromptRegexps()
	require.Len(t, res, 2)
	assert.True(t, res[1].MatchString("enter password: "))
}

func TestArgvDirect(t *testing.T) {
	cfg := validConfig()
	cfg.Command = "python3"
	cfg.Args = []string{"-i", "script.py"}

	assert.Equal(t, []string{"python3", "-i", "script.py"}, cfg.Argv())
}

func TestArgvCapsuleDelegation(t *testing.T) {
	cfg := validConfig()
	cfg.Command = "bash"
	cfg.Args = []string{"-l"}
	cfg.Capsule = true
	cfg.SandboxProfile = "restricted"

	assert.Equal(t, []string{"capsule-run", "--profile", "restricted", "--", "bash", "-l"}, cfg.Argv())
}

func TestArgvCapsuleWithoutProfile(t *testing.T) {
	cfg := validConfig()
	cfg.Capsule = true

	assert.Equal(t, []string{"capsule-run", "--", "bash"}, cfg.Argv())
}

func TestDurationHelpers(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "200ms", cfg.IdleTimeout().String())
	assert.Equal(t, "5s", cfg.OverflowGrace().String())
}

func TestCommandLine(t *testing.T) {
	cfg := validConfig()
	cfg.Args = []string{"-c", "echo hi"}
	assert.Equal(t, "bash -c echo hi", cfg.CommandLine())
}
