package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Config 监控服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig

	// 规则查询的目标数据源，name -> DSN
	// TARGET_SOURCES 格式: "primary=host=... dbname=...;replica=host=... dbname=..."
	TargetSources map[string]string

	Scheduler struct {
		TickInterval int // 调度扫描间隔（秒），默认 30秒
	}

	Executor struct {
		Workers      int // worker 数量，默认 4
		PollInterval int // 队列轮询间隔（秒），默认 2秒
		QueryTimeout int // 单条规则查询超时（秒），默认 30秒
	}

	Push struct {
		GatewayURL string
		APIKey     string
	}

	Stream struct {
		IncidentStream string // 事故事件发布的 Redis Stream
	}

	HTTP struct {
		Addr string
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "rulewatch")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	sources, err := parseTargetSources(getEnv("TARGET_SOURCES", ""))
	if err != nil {
		return nil, err
	}
	cfg.TargetSources = sources

	cfg.Scheduler.TickInterval = getEnvInt("SCHEDULER_TICK_INTERVAL", 30)
	cfg.Executor.Workers = getEnvInt("EXECUTOR_WORKERS", 4)
	cfg.Executor.PollInterval = getEnvInt("EXECUTOR_POLL_INTERVAL", 2)
	cfg.Executor.QueryTimeout = getEnvInt("EXECUTOR_QUERY_TIMEOUT", 30)

	cfg.Push.GatewayURL = getEnv("PUSH_GATEWAY_URL", "http://localhost:9100")
	cfg.Push.APIKey = getEnv("PUSH_API_KEY", "")

	cfg.Stream.IncidentStream = getEnv("INCIDENT_STREAM", "rulewatch:incidents")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

// parseTargetSources 解析 name=dsn 分号列表
// 未配置时规则查询落到主库（target source "primary" 指向主 DSN），
// 由上层在打开连接时处理
func parseTargetSources(raw string) (map[string]string, error) {
	sources := make(map[string]string)
	if raw == "" {
		return sources, nil
	}
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, dsn, ok := strings.Cut(part, "=")
		if !ok || name == "" || dsn == "" {
			return nil, fmt.Errorf("invalid TARGET_SOURCES entry: %q", part)
		}
		sources[strings.TrimSpace(name)] = strings.TrimSpace(dsn)
	}
	return sources, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
