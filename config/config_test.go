package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/wingfox/config"
)

func TestFromViperDefaults(t *testing.T) {
	cfg, err := config.FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, "wingfox-api", cfg.AppName)
	assert.Equal(t, 5, cfg.ConversationTotalRounds)
	assert.Equal(t, 3, cfg.ConversationMaxRetries)
	assert.Equal(t, 3*time.Second, cfg.ConversationRoundDelay)
	assert.Equal(t, "db/pg", cfg.DatabaseMigrationFolderPath)
	assert.Equal(t, []string{"*"}, cfg.AllowOrigins)
}

func TestFromViperEnvOverride(t *testing.T) {
	t.Setenv("CONVERSATION_TOTAL_ROUNDS", "8")
	t.Setenv("CONVERSATION_ROUND_DELAY", "750ms")
	t.Setenv("REDIS_PORT", "6380")

	cfg, err := config.FromViper(viper.New())
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.ConversationTotalRounds)
	assert.Equal(t, 750*time.Millisecond, cfg.ConversationRoundDelay)
	assert.Equal(t, 6380, cfg.RedisPort)
}

func TestValidateRejectsAuthWithoutIssuer(t *testing.T) {
	t.Setenv("AUTH_ENABLED", "true")

	_, err := config.FromViper(viper.New())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH_ISSUER_URL")
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &config.Config{
		DatabaseHost:     "db",
		DatabasePort:     "5432",
		DatabaseUserName: "u",
		DatabasePassword: "p",
		DatabaseName:     "wingfox",
		DatabaseSSLMode:  "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=wingfox sslmode=disable", cfg.DatabaseDSN())
}

func TestLoadIntoEnvFileAndOverrides(t *testing.T) {
	// registers cleanup for the variables the env file sets
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("MATCH_MAX_PER_USER", "")
	require.NoError(t, os.Unsetenv("LOG_LEVEL"))
	require.NoError(t, os.Unsetenv("MATCH_MAX_PER_USER"))

	envFile := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("LOG_LEVEL=debug\nMATCH_MAX_PER_USER=4\n"), 0o600))

	v := viper.New()
	v.Set("MATCH_MAX_PER_USER", 7)

	cfg, err := config.LoadInto(v, envFile)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 7, cfg.MatchMaxPerUser)
}

func TestLoadMissingEnvFileIsIgnored(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}
