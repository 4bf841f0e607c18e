package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// AppConfig 应用基础信息
type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

// HTTPConfig 控制面 HTTP 服务配置
type HTTPConfig struct {
	Addr         string          `mapstructure:"addr"`
	ReadTimeout  time.Duration   `mapstructure:"readTimeout"`
	WriteTimeout time.Duration   `mapstructure:"writeTimeout"`
	RateLimit    RateLimitConfig `mapstructure:"rateLimit"`
}

// RateLimitConfig 控制面全局限流配置
type RateLimitConfig struct {
	Enabled        bool    `mapstructure:"enabled"`
	RequestsPerSec float64 `mapstructure:"requestsPerSec"`
	Burst          int     `mapstructure:"burst"`
}

// AuthConfig 控制面 API Key 认证配置
type AuthConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	APIKeys []string `mapstructure:"apiKeys"`
}

// LumberjackConfig 日志滚动（lumberjack）配置
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig 日志级别与输出配置
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig Prometheus 指标暴露配置
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

// CSMSConfig 上游 CSMS 连接配置（模拟站点默认值，可被单站配置覆盖）
type CSMSConfig struct {
	Endpoint         string        `mapstructure:"endpoint"`
	CallTimeout      time.Duration `mapstructure:"callTimeout"`
	ReconnectInitial time.Duration `mapstructure:"reconnectInitial"`
	ReconnectMax     time.Duration `mapstructure:"reconnectMax"`
	ReconnectJitter  float64       `mapstructure:"reconnectJitter"`
	// OutboundRate 每站出站帧速率上限（帧/秒），0 表示不限速
	OutboundRate  float64 `mapstructure:"outboundRate"`
	OutboundBurst int     `mapstructure:"outboundBurst"`
}

// BreakerConfig 熔断器参数
type BreakerConfig struct {
	FailureThreshold int           `mapstructure:"failureThreshold"`
	SuccessThreshold int           `mapstructure:"successThreshold"`
	ResetTimeout     time.Duration `mapstructure:"resetTimeout"`
	CallTimeout      time.Duration `mapstructure:"callTimeout"`
}

// HealthConfig 健康评分策略（权重可调，阈值保持单调性约束）
type HealthConfig struct {
	OfflinePenalty      int `mapstructure:"offlinePenalty"`
	ErrorPenalty        int `mapstructure:"errorPenalty"`
	ErrorPenaltyCap     int `mapstructure:"errorPenaltyCap"`
	InconsistentPenalty int `mapstructure:"inconsistentPenalty"`
	WarningThreshold    int `mapstructure:"warningThreshold"`
	CriticalThreshold   int `mapstructure:"criticalThreshold"`
}

// SimulationConfig 模拟行为默认参数
type SimulationConfig struct {
	HeartbeatInterval time.Duration `mapstructure:"heartbeatInterval"`
	VehicleTick       time.Duration `mapstructure:"vehicleTick"`
	HistoryCapacity   int           `mapstructure:"historyCapacity"`
	BatchOpTimeout    time.Duration `mapstructure:"batchOpTimeout"`
	// ScenarioFile 启动时批量建站的场景文件（YAML），为空则不加载
	ScenarioFile string `mapstructure:"scenarioFile"`
}

// Config 顶层配置结构
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	HTTP       HTTPConfig       `mapstructure:"http"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	CSMS       CSMSConfig       `mapstructure:"csms"`
	Breaker    BreakerConfig    `mapstructure:"breaker"`
	Health     HealthConfig     `mapstructure:"health"`
	Simulation SimulationConfig `mapstructure:"simulation"`
}

// Load 从 YAML/TOML/JSON 文件与环境变量加载配置。
// 若 path 为空，则回退到 configs/example.yaml；环境变量前缀 SIM_。
func Load(path string) (*Config, error) {
	v := viper.New()

	if path == "" {
		path = v.GetString("SIM_CONFIG")
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.SetConfigName("example")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// 环境变量覆盖：前缀 SIM_，并将点号替换为下划线
	v.SetEnvPrefix("SIM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// 首次运行允许缺少配置文件，依赖默认值与环境变量
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "ocpp-fleet-simulator")
	v.SetDefault("app.env", "dev")

	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.readTimeout", "5s")
	v.SetDefault("http.writeTimeout", "10s")
	v.SetDefault("http.rateLimit.enabled", true)
	v.SetDefault("http.rateLimit.requestsPerSec", 50)
	v.SetDefault("http.rateLimit.burst", 100)

	v.SetDefault("auth.enabled", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file.filename", "logs/simulator.log")
	v.SetDefault("logging.file.maxSize", 100)
	v.SetDefault("logging.file.maxBackups", 7)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("csms.endpoint", "ws://localhost:9000/ocpp")
	v.SetDefault("csms.callTimeout", "30s")
	v.SetDefault("csms.reconnectInitial", "1s")
	v.SetDefault("csms.reconnectMax", "60s")
	v.SetDefault("csms.reconnectJitter", 0.2)
	v.SetDefault("csms.outboundRate", 20)
	v.SetDefault("csms.outboundBurst", 40)

	v.SetDefault("breaker.failureThreshold", 5)
	v.SetDefault("breaker.successThreshold", 2)
	v.SetDefault("breaker.resetTimeout", "30s")
	v.SetDefault("breaker.callTimeout", "10s")

	v.SetDefault("health.offlinePenalty", 30)
	v.SetDefault("health.errorPenalty", 5)
	v.SetDefault("health.errorPenaltyCap", 40)
	v.SetDefault("health.inconsistentPenalty", 15)
	v.SetDefault("health.warningThreshold", 80)
	v.SetDefault("health.criticalThreshold", 40)

	v.SetDefault("simulation.heartbeatInterval", "60s")
	v.SetDefault("simulation.vehicleTick", "5s")
	v.SetDefault("simulation.historyCapacity", 100)
	v.SetDefault("simulation.batchOpTimeout", "10s")
	v.SetDefault("simulation.scenarioFile", "")
}
