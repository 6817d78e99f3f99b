package utils

import (
	"fmt"
	"strings"
)

// Config holds command-line configuration
type Config struct {
	Classes int
	P       int
	Q       int
	Stage2  bool
	Threads int
	Seed    uint64
	Size    int
	DType   string
	EncFile string
}

// DefaultConfig starts from the small model and the environment.
func DefaultConfig() Config {
	return Config{
		Classes: 2,
		P:       1,
		Q:       5,
		Threads: NumThreads(),
		Seed:    Seed(),
		Size:    224,
		DType:   DTypeF32,
	}
}

// ParseDType normalises a dtype name such as "float16" or "bf16".
func ParseDType(s string) (string, error) {
	switch strings.ToLower(s) {
	case "f64", "float64", "double":
		return DTypeF64, nil
	case "f32", "float32", "float":
		return DTypeF32, nil
	case "f16", "float16", "half":
		return DTypeF16, nil
	case "bf16", "bfloat16":
		return DTypeBF16, nil
	}
	return "", fmt.Errorf("unknown dtype %q", s)
}

// ValidateConfig validates command-line configuration
func ValidateConfig(config *Config) error {
	if config.Classes <= 0 {
		return fmt.Errorf("classes must be positive")
	}

	if config.P < 0 || config.Q < 0 {
		return fmt.Errorf("p and q must be non-negative")
	}

	if config.Threads < 0 {
		return fmt.Errorf("threads must be non-negative")
	}

	if config.Size <= 0 || config.Size%4 != 0 {
		return fmt.Errorf("size must be a positive multiple of 4, got %d", config.Size)
	}

	if _, err := ParseDType(config.DType); err != nil {
		return err
	}

	return nil
}
