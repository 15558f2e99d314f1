// Package config 配置
package config

import (
	"fmt"
	"strconv"
	"time"

	envconfig "github.com/fracshare/trading/pkg/config"
)

// Config 服务配置
type Config struct {
	ServiceName string
	HTTPPort    int
	WSPort      int
	LogLevel    string

	// PostgreSQL
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	// Redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Streams
	FillStream string

	// Private events (pub/sub)
	PrivateUserEventChannel string

	// Auth
	AuthTokenSecret string
	InternalToken   string
	MetricsToken    string

	// WebSocket
	WSAllowedOrigins []string

	// Matching
	MinSellPrice int64

	WorkerID int64

	ShutdownTimeout time.Duration
}

// Load 加载配置
func Load() *Config {
	return &Config{
		ServiceName: envconfig.GetEnv("SERVICE_NAME", "fracshare-trading"),
		HTTPPort:    envconfig.GetEnvInt("HTTP_PORT", 8080),
		WSPort:      envconfig.GetEnvInt("WS_PORT", 8090),
		LogLevel:    envconfig.GetEnv("LOG_LEVEL", "info"),

		DBHost:     envconfig.GetEnv("DB_HOST", "localhost"),
		DBPort:     envconfig.GetEnvInt("DB_PORT", 5432),
		DBUser:     envconfig.GetEnv("DB_USER", "trading"),
		DBPassword: envconfig.GetEnv("DB_PASSWORD", "trading123"),
		DBName:     envconfig.GetEnv("DB_NAME", "trading"),

		RedisAddr:     envconfig.GetEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: envconfig.GetEnv("REDIS_PASSWORD", ""),
		RedisDB:       envconfig.GetEnvInt("REDIS_DB", 0),

		FillStream: envconfig.GetEnv("FILL_STREAM", "trading:fills"),

		PrivateUserEventChannel: envconfig.GetEnv("PRIVATE_USER_EVENT_CHANNEL", "private:user:{userId}:events"),

		AuthTokenSecret: envconfig.GetEnv("AUTH_TOKEN_SECRET", "dev-auth-token-secret-32-bytes-minimum"),
		InternalToken:   envconfig.GetEnv("INTERNAL_TOKEN", "dev-internal-token-change-me"),
		MetricsToken:    envconfig.GetEnv("METRICS_TOKEN", "dev-metrics-token-change-me"),

		WSAllowedOrigins: envconfig.GetEnvSlice("WS_ALLOWED_ORIGINS", nil),

		MinSellPrice: envconfig.GetEnvInt64("MIN_SELL_PRICE", 1000),

		WorkerID: envconfig.GetEnvInt64("WORKER_ID", 1),

		ShutdownTimeout: envconfig.GetEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
	}
}

// Validate 校验配置。生产环境拒绝开发占位密钥。
func (c *Config) Validate(production bool) error {
	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP_PORT %d", c.HTTPPort)
	}
	if c.WSPort <= 0 || c.WSPort > 65535 {
		return fmt.Errorf("invalid WS_PORT %d", c.WSPort)
	}
	if c.MinSellPrice < 0 {
		return fmt.Errorf("invalid MIN_SELL_PRICE %d", c.MinSellPrice)
	}
	if c.WorkerID < 0 || c.WorkerID > 1023 {
		return fmt.Errorf("invalid WORKER_ID %d", c.WorkerID)
	}

	if !production {
		return nil
	}
	for name, value := range map[string]string{
		"AUTH_TOKEN_SECRET": c.AuthTokenSecret,
		"INTERNAL_TOKEN":    c.InternalToken,
		"METRICS_TOKEN":     c.MetricsToken,
	} {
		if envconfig.IsInsecureDevSecret(value) {
			return fmt.Errorf("%s uses a dev placeholder value", name)
		}
		if len(value) < envconfig.MinSecretLength {
			return fmt.Errorf("%s must be at least %d bytes", name, envconfig.MinSecretLength)
		}
	}
	return nil
}

// DSN 返回数据库连接字符串
func (c *Config) DSN() string {
	return "host=" + c.DBHost +
		" port=" + strconv.Itoa(c.DBPort) +
		" user=" + c.DBUser +
		" password=" + c.DBPassword +
		" dbname=" + c.DBName +
		" sslmode=disable"
}
