// =============================================================================
// 📋 TutorFlow 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回完整的默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Tutor:     DefaultTutorConfig(),
		Store:     DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		LLM:       DefaultLLMConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    5 * time.Minute,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    20,
		RateLimitBurst:  40,
	}
}

// DefaultTutorConfig 返回默认会话配置：3 次作答、50% 错误率、连续 3 次错误
func DefaultTutorConfig() TutorConfig {
	return TutorConfig{
		MinAttempts:      3,
		WrongFraction:    0.5,
		ConsecutiveWrong: 3,
		MaxIterations:    5,
		HistorySize:      10,
		Selection:        "prompt",
		Termination:      "prompt",
		IdleTimeout:      30 * time.Minute,
		SaveTimeout:      5 * time.Second,
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: "memory",
		TTL:  24 * time.Hour,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "tutorflow:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "sqlite",
		Name:                "tutorflow.db",
		SSLMode:             "disable",
		MaxOpenConns:        10,
		MaxIdleConns:        5,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Primary: ModelConfig{
			Provider:   "openai",
			BaseURL:    "https://api.openai.com",
			Model:      "gpt-4o",
			APIVersion: "2024-08-01-preview",
		},
		Secondary: ModelConfig{
			Provider:   "openai",
			Model:      "o1",
			APIVersion: "2024-12-01-preview",
			Reasoning:  true,
		},
		Timeout:    2 * time.Minute,
		MaxRetries: 3,
		Breaker: BreakerConfig{
			Threshold:        5,
			ResetTimeout:     30 * time.Second,
			HalfOpenMaxCalls: 1,
		},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "tutorflow",
		SampleRate:   0.1,
	}
}
