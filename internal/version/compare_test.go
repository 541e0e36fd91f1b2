package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckVersionCompatibility(t *testing.T) {
	tests := []struct {
		name           string
		engineVersion  string
		configVersion string
		expectError    bool
		errorContains  string
	}{
		// Compatible cases (from the requirements table)
		{
			name:           "exact match",
			engineVersion:  "1.2.0",
			configVersion:  "1.2.0",
			expectError:    false,
		},
		{
			name:           "engine patch higher",
			engineVersion:  "1.2.1",
			configVersion:  "1.2.0",
			expectError:    false,
		},
		{
			name:           "config patch higher",
			engineVersion:  "1.2.0",
			configVersion:  "1.2.5",
			expectError:    false,
		},
		{
			name:           "same major minor different patch",
			engineVersion:  "2.5.10",
			configVersion:  "2.5.3",
			expectError:    false,
		},

		// Incompatible cases (from the requirements table)
		{
			name:           "engine minor higher",
			engineVersion:  "1.3.0",
			configVersion:  "1.2.0",
			expectError:    true,
			errorContains:  "minor version mismatch",
		},
		{
			name:           "engine minor lower",
			engineVersion:  "1.1.0",
			configVersion:  "1.2.0",
			expectError:    true,
			errorContains:  "minor version mismatch",
		},
		{
			name:           "major version differs",
			engineVersion:  "2.0.0",
			configVersion:  "1.2.0",
			expectError:    true,
			errorContains:  "major version mismatch",
		},
		{
			name:           "engine is main",
			engineVersion:  "main",
			configVersion:  "1.2.0",
			expectError:    false,
		},
		{
			name:           "engine is main with different config",
			engineVersion:  "main",
			configVersion:  "1.3.0",
			expectError:    false,
		},
		{
			name:           "both are main",
			engineVersion:  "main",
			configVersion:  "main",
			expectError:    false,
		},
		{
			name:           "config is main",
			engineVersion:  "1.2.0",
			configVersion:  "main",
			expectError:    false,
		},

		// Edge cases with v prefix
		{
			name:           "v prefix on engine",
			engineVersion:  "v1.2.0",
			configVersion:  "1.2.0",
			expectError:    false,
		},
		{
			name:           "v prefix on config",
			engineVersion:  "1.2.0",
			configVersion:  "v1.2.0",
			expectError:    false,
		},
		{
			name:           "v prefix on both",
			engineVersion:  "v1.2.0",
			configVersion:  "v1.2.0",
			expectError:    false,
		},

		// Edge cases with prerelease and metadata
		{
			name:           "prerelease version",
			engineVersion:  "1.2.0-alpha",
			configVersion:  "1.2.0",
			expectError:    false,
		},
		{
			name:           "build metadata",
			engineVersion:  "1.2.0+build123",
			configVersion:  "1.2.0",
			expectError:    false,
		},

		// Invalid versions
		{
			name:           "invalid engine version",
			engineVersion:  "not-a-version",
			configVersion:  "1.2.0",
			expectError:    true,
			errorContains:  "invalid engine version",
		},
		{
			name:           "invalid config schema version",
			engineVersion:  "1.2.0",
			configVersion:  "not-a-version",
			expectError:    true,
			errorContains:  "invalid config schema version",
		},
		{
			name:           "empty engine version",
			engineVersion:  "",
			configVersion:  "1.2.0",
			expectError:    true,
			errorContains:  "invalid engine version",
		},
		{
			name:           "empty config version",
			engineVersion:  "1.2.0",
			configVersion:  "",
			expectError:    true,
			errorContains:  "invalid config schema version",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckVersionCompatibility(tt.engineVersion, tt.configVersion)

			if tt.expectError {
				require.Error(t, err)
				if tt.errorContains != "" {
					assert.Contains(t, err.Error(), tt.errorContains)
				}
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestGetVersion(t *testing.T) {
	v := GetVersion()
	assert.Equal(t, Version, v)
}
