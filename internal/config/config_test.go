package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	// 清除环境变量
	os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	// 验证默认值
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "rulewatch", cfg.Database.Database)
	assert.Equal(t, "disable", cfg.Database.SSLMode)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Empty(t, cfg.TargetSources)
	assert.Equal(t, 30, cfg.Scheduler.TickInterval)
	assert.Equal(t, 4, cfg.Executor.Workers)
	assert.Equal(t, 2, cfg.Executor.PollInterval)
	assert.Equal(t, 30, cfg.Executor.QueryTimeout)
	assert.Equal(t, "rulewatch:incidents", cfg.Stream.IncidentStream)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoad_EnvironmentVariables(t *testing.T) {
	os.Clearenv()
	os.Setenv("DB_HOST", "test-host")
	os.Setenv("DB_PORT", "15432")
	os.Setenv("REDIS_ADDR", "test-redis:6380")
	os.Setenv("EXECUTOR_WORKERS", "8")
	os.Setenv("LOG_LEVEL", "debug")
	defer os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "test-host", cfg.Database.Host)
	assert.Equal(t, 15432, cfg.Database.Port)
	assert.Equal(t, "test-redis:6380", cfg.Redis.Addr)
	assert.Equal(t, 8, cfg.Executor.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_TargetSources(t *testing.T) {
	os.Clearenv()
	os.Setenv("TARGET_SOURCES", "primary=host=db1 dbname=app;replica=host=db2 dbname=app")
	defer os.Clearenv()

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.TargetSources, 2)
	assert.Equal(t, "host=db1 dbname=app", cfg.TargetSources["primary"])
	assert.Equal(t, "host=db2 dbname=app", cfg.TargetSources["replica"])
}

func TestLoad_InvalidTargetSources(t *testing.T) {
	os.Clearenv()
	os.Setenv("TARGET_SOURCES", "no-equals-sign")
	defer os.Clearenv()

	_, err := Load()
	assert.Error(t, err)
}

func TestGetDSN(t *testing.T) {
	c := &DatabaseConfig{
		Host: "db", Port: 5432, User: "u", Password: "p",
		Database: "rulewatch", SSLMode: "disable",
	}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=rulewatch sslmode=disable", c.GetDSN())
}
