package config

import (
	"strings"
	"time"

	"github.com/blues/pes/internal/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Task      TaskConfig      `mapstructure:"task"`
	Lock      LockConfig      `mapstructure:"lock"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Payment   PaymentConfig   `mapstructure:"payment"`
	Rail      RailConfig      `mapstructure:"rail"`
	Chain     ChainConfig     `mapstructure:"chain"`
}

type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // 日志级别: debug, info, warn, error, fatal
	Output string `mapstructure:"output"` // 输出目标: stdout, stderr, file
	File   string `mapstructure:"file"`   // 日志文件路径（当output为file时使用）
}

// GetLevel 实现 logger.Config 接口
func (l LogConfig) GetLevel() string {
	return l.Level
}

// GetOutput 实现 logger.Config 接口
func (l LogConfig) GetOutput() string {
	return l.Output
}

// GetFile 实现 logger.Config 接口
func (l LogConfig) GetFile() string {
	return l.File
}

// TaskConfig 定时任务配置
type TaskConfig struct {
	Interval     int `mapstructure:"interval"`      // 秒
	PoolSize     int `mapstructure:"pool_size"`     // 打款协程池大小
	BatchSize    int `mapstructure:"batch_size"`    // 每轮处理的打款数量
	RailTimeout  int `mapstructure:"rail_timeout"`  // 打款通道调用超时（秒）
	ReconcileGap int `mapstructure:"reconcile_gap"` // 链上对账间隔（秒）
}

// LockConfig 项目级互斥配置
type LockConfig struct {
	Backend     string        `mapstructure:"backend"` // memory, redis
	WaitTimeout time.Duration `mapstructure:"wait_timeout"`
	TTL         time.Duration `mapstructure:"ttl"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AuthConfig 调用方身份校验配置
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// PaymentConfig 支付方（退款）配置
type PaymentConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// RailConfig 打款通道配置
type RailConfig struct {
	Bank   ProviderConfig `mapstructure:"bank"`
	PayPal ProviderConfig `mapstructure:"paypal"`
}

// ProviderConfig 单个打款服务商，BaseURL 为空时走人工处理
type ProviderConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// ChainConfig 加密货币打款链配置
type ChainConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ChainType     string `mapstructure:"chain_type"`    // 链类型 (ethereum, polygon, etc.)
	ChainId       int64  `mapstructure:"chain_id"`      // 链ID
	RpcUrl        string `mapstructure:"rpc_url"`       // RPC节点URL
	PrivateKey    string `mapstructure:"private_key"`   // 出款账户私钥
	TokenAddress  string `mapstructure:"token_address"` // 稳定币合约地址
	TokenDecimals int32  `mapstructure:"token_decimals"`
	Confirmations uint64 `mapstructure:"confirmations"`
}

// Load 读取配置文件、.env 与环境变量
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		logger.Debug("No .env file loaded: %v", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/pes")

	setDefaults(v)

	// 自动读取环境变量，例如 PES_DATABASE_HOST
	v.SetEnvPrefix("pes")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		logger.Warn("Could not read config file: %v", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		logger.Fatal("Unable to decode config into struct: %v", err)
	}

	return &config
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "escrow")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.file", "logs/app.log")
	v.SetDefault("task.interval", 60)
	v.SetDefault("task.pool_size", 8)
	v.SetDefault("task.batch_size", 100)
	v.SetDefault("task.rail_timeout", 15)
	v.SetDefault("task.reconcile_gap", 30)
	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.wait_timeout", 5*time.Second)
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("auth.issuer", "pes")
	v.SetDefault("ratelimit.requests_per_second", 20)
	v.SetDefault("ratelimit.burst", 40)
	v.SetDefault("payment.timeout", 10*time.Second)
	v.SetDefault("chain.chain_type", "ethereum")
	v.SetDefault("chain.token_decimals", 6)
	v.SetDefault("chain.confirmations", 12)
}
