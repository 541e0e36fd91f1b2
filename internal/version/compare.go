package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// CheckVersionCompatibility checks if the engine version and a config file's
// schema_version are compatible. Returns nil if compatible, error with details
// if not.
//
// Compatibility Rules:
//   - If either version is "main" (development build), compatibility check is skipped
//   - Major versions must match exactly
//   - Minor versions must match exactly
//   - Patch versions can differ (e.g., 1.2.0 is compatible with 1.2.5)
//
// Examples:
//   - Engine 1.2.0, Config 1.2.0 -> OK (exact match)
//   - Engine 1.2.1, Config 1.2.0 -> OK (patch differs)
//   - Engine 1.3.0, Config 1.2.0 -> ERROR (minor differs)
//   - Engine 2.0.0, Config 1.2.0 -> ERROR (major differs)
//   - Engine main, Config 1.2.0 -> OK (dev build, skip check)
func CheckVersionCompatibility(engineVersion, configVersion string) error {
	// Strip 'v' prefix if present for consistency
	engineVersion = strings.TrimPrefix(engineVersion, "v")
	configVersion = strings.TrimPrefix(configVersion, "v")

	// Skip version check for "main" (development builds)
	if engineVersion == "main" || configVersion == "main" {
		return nil
	}

	engineSemver, err := semver.NewVersion(engineVersion)
	if err != nil {
		return fmt.Errorf("invalid engine version '%s': %w", engineVersion, err)
	}

	configSemver, err := semver.NewVersion(configVersion)
	if err != nil {
		return fmt.Errorf("invalid config schema version '%s': %w", configVersion, err)
	}

	if engineSemver.Major() != configSemver.Major() {
		return fmt.Errorf("major version mismatch: engine is %d.x.x but config requires %d.x.x",
			engineSemver.Major(), configSemver.Major())
	}

	if engineSemver.Minor() != configSemver.Minor() {
		return fmt.Errorf("minor version mismatch: engine is %d.%d.x but config requires %d.%d.x",
			engineSemver.Major(), engineSemver.Minor(),
			configSemver.Major(), configSemver.Minor())
	}

	// Patch versions can differ, so we're compatible
	return nil
}
