// Package config 负责加载和管理应用程序的配置。
package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// 全局配置变量，存储从配置文件加载的所有设置。
var Conf Config

// Config 是整个应用程序的配置结构体，与 config.yaml 文件结构对应。
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Chat       ChatConfig       `mapstructure:"chat"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	AI         AIConfig         `mapstructure:"ai"`
}

// ServerConfig 存储服务器相关的配置。
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// LogConfig 存储日志相关的配置。
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// DatabaseConfig 存储所有数据库连接的配置。
type DatabaseConfig struct {
	MySQL MySQLConfig `mapstructure:"mysql"`
	Redis RedisConfig `mapstructure:"redis"`
}

// MySQLConfig 存储 MySQL 数据库的配置。
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RedisConfig 存储 Redis 的配置。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// KafkaConfig 存储 Kafka 相关的配置（反馈记录管道）。
type KafkaConfig struct {
	Brokers string `mapstructure:"brokers"`
	Topic   string `mapstructure:"topic"`
}

// ChatConfig 存储聊天管道相关的配置。
type ChatConfig struct {
	// 每个连接每分钟允许的用户消息数。
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
	// 单条消息净化后的最大长度（字符数）。
	MaxMessageLength int `mapstructure:"max_message_length"`
}

// ModerationConfig 存储内容审核分类器相关的配置。
type ModerationConfig struct {
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	// 判定阈值，范围 [0,1]。
	Threshold float64 `mapstructure:"threshold"`
	// 直接指定 safety parameter（[0.005,0.1]），非零时优先于由阈值推导。
	SafetyParam float64 `mapstructure:"safety_param"`
	// 单次分类请求超时（秒），0 表示默认 10 秒。
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// AIConfig 存储对话 AI 相关的配置。
type AIConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
	BaseURL string `mapstructure:"base_url"`
	Model   string `mapstructure:"model"`
	// AI 在聊天中的显示名。
	Name string `mapstructure:"name"`
	// 人设规则，作为 system 提示词的开头部分。
	Persona string `mapstructure:"persona"`
	// AI 回复的最大长度（字符数），超出部分截断。
	MaxResponseLength int `mapstructure:"max_response_length"`
	// 构建提示词时回放的历史轮数。
	ConversationHistorySize int `mapstructure:"conversation_history_size"`
	// 单次生成请求超时（秒），0 表示默认 30 秒。
	TimeoutSeconds int `mapstructure:"timeout_seconds"`
}

// Init 初始化配置加载，从指定的路径读取 YAML 文件并解析到 Conf 变量中。
func Init(configPath string) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		panic(fmt.Errorf("读取配置文件失败: %w", err))
	}

	if err := viper.Unmarshal(&Conf); err != nil {
		panic(fmt.Errorf("无法将配置解析到结构体中: %w", err))
	}

	applyDefaults(&Conf)
}

// applyDefaults 填充未配置项的默认值。
func applyDefaults(c *Config) {
	if c.Chat.RateLimitPerMinute <= 0 {
		c.Chat.RateLimitPerMinute = 30
	}
	if c.Chat.MaxMessageLength <= 0 {
		c.Chat.MaxMessageLength = 1000
	}
	if c.Moderation.Threshold <= 0 || c.Moderation.Threshold > 1 {
		c.Moderation.Threshold = 0.5
	}
	if c.AI.MaxResponseLength <= 0 {
		c.AI.MaxResponseLength = 500
	}
	if c.AI.ConversationHistorySize <= 0 {
		c.AI.ConversationHistorySize = 10
	}
	if c.AI.Name == "" {
		c.AI.Name = "AI助手"
	}
}
