package utils

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateConfig(t *testing.T) {
	ok := DefaultConfig()
	require.NoError(t, ValidateConfig(&ok))

	cases := map[string]func(c *Config){
		"classes": func(c *Config) { c.Classes = 0 },
		"p":       func(c *Config) { c.P = -1 },
		"q":       func(c *Config) { c.Q = -2 },
		"threads": func(c *Config) { c.Threads = -1 },
		"size":    func(c *Config) { c.Size = 226 },
		"dtype":   func(c *Config) { c.DType = "int4" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := DefaultConfig()
			mutate(&c)
			require.Error(t, ValidateConfig(&c))
		})
	}
}

func TestParseDType(t *testing.T) {
	for in, want := range map[string]string{"float16": DTypeF16, "BF16": DTypeBF16, "double": DTypeF64, "f32": DTypeF32} {
		got, err := ParseDType(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
		"'1'":   slog.LevelDebug,
	}
	for v, want := range cases {
		t.Run(v, func(t *testing.T) {
			t.Setenv("EC3_DEBUG", v)
			require.Equal(t, want, LogLevel())
		})
	}
}

func TestEnvNumbers(t *testing.T) {
	t.Setenv("EC3_NUM_THREADS", "3")
	t.Setenv("EC3_SEED", " 42 ")
	require.Equal(t, 3, NumThreads())
	require.Equal(t, uint64(42), Seed())

	t.Setenv("EC3_NUM_THREADS", "many")
	t.Setenv("EC3_SEED", "-1")
	require.Equal(t, 0, NumThreads())
	require.Equal(t, uint64(0), Seed())

	c := DefaultConfig()
	require.Equal(t, 0, c.Threads)
}
