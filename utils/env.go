package utils

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Var returns an environment variable with surrounding spaces and quotes
// removed.
func Var(key string) string {
	return strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'")
}

// LogLevel is read from EC3_DEBUG. A true value enables debug logs, an
// integer n lowers the level by 4*n.
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("EC3_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}
	return level
}

// NumThreads is the kernel worker count from EC3_NUM_THREADS; 0 means one
// per CPU.
func NumThreads() int {
	return intVar("EC3_NUM_THREADS", 0)
}

// Seed is the weight-initialisation seed from EC3_SEED.
func Seed() uint64 {
	s := Var("EC3_SEED")
	if s == "" {
		return 0
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		slog.Warn("invalid environment variable, using default", "key", "EC3_SEED", "value", s, "default", 0)
		return 0
	}
	return n
}

func intVar(key string, def int) int {
	s := Var(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", def)
		return def
	}
	return n
}

// Values lists the recognised variables and their effective values.
func Values() map[string]any {
	return map[string]any{
		"EC3_DEBUG":       LogLevel(),
		"EC3_NUM_THREADS": NumThreads(),
		"EC3_SEED":        Seed(),
	}
}
