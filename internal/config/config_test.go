package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsToDurableStore(t *testing.T) {
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("STATE_TTL_HOURS", "")
	t.Setenv("GIN_MODE", "release")

	cfg := Load()
	assert.Equal(t, StoreDriverRedis, cfg.StoreDriver)
	assert.Zero(t, cfg.StateTTL)
	assert.True(t, cfg.NeedsRedis())
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"memory in debug", Config{StoreDriver: StoreDriverMemory, GinMode: "debug"}, ""},
		{"memory in release", Config{StoreDriver: StoreDriverMemory, GinMode: "release"}, "only allowed with GIN_MODE=debug"},
		{"redis", Config{StoreDriver: StoreDriverRedis, GinMode: "release", StateTTL: 24 * time.Hour}, ""},
		{"postgres without url", Config{StoreDriver: StoreDriverPostgres}, "DATABASE_URL is required"},
		{"postgres", Config{StoreDriver: StoreDriverPostgres, DatabaseURL: "postgres://db/exstem"}, ""},
		{"unknown driver", Config{StoreDriver: "sqlite"}, `unknown STORE_DRIVER "sqlite"`},
		{"negative ttl", Config{StoreDriver: StoreDriverRedis, StateTTL: -time.Hour}, "must not be negative"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}
