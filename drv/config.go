package drv

import (
	"os"
	"strings"
)

// DebugEnvironmentVariable names the environment variable ConfigFromEnvironment reads
const DebugEnvironmentVariable = "MINIGBM_DEBUG"

// Config holds the per-driver behavior toggles that used to be process-wide state
type Config struct {
	// Compression allows backends to pick compressed modifiers such as I915_Y_TILED_CCS
	Compression bool
}

// DefaultConfig returns the configuration a driver uses when the caller supplies none
func DefaultConfig() Config {
	return Config{
		Compression: true,
	}
}

// ConfigFromEnvironment builds a Config from MINIGBM_DEBUG. The value "nocompression" anywhere in
// the variable turns compressed modifiers off.
func ConfigFromEnvironment() Config {
	config := DefaultConfig()

	debug := os.Getenv(DebugEnvironmentVariable)
	if strings.Contains(debug, "nocompression") {
		config.Compression = false
	}

	return config
}
