package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App          AppConfig          `json:"app"`
	Redis        RedisConfig        `json:"redis"`
	Store        StoreConfig        `json:"store"`
	Email        EmailConfig        `json:"email"`
	Intelligence IntelligenceConfig `json:"intelligence"`
	Tracking     TrackingConfig     `json:"tracking"`
	Batch        BatchConfig        `json:"batch"`
	Entitlement  EntitlementConfig  `json:"entitlement"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env       string  `json:"env"`        // 运行环境: local / prod
	LogLevel  string  `json:"log_level"`  // 日志级别: debug / info / warn / error
	HTTPAddr  string  `json:"http_addr"`  // API 服务监听地址
	RateLimit float64 `json:"rate_limit"` // 限流速率（token/s）
	RateBurst float64 `json:"rate_burst"` // 限流桶容量
}

// RedisConfig Redis 缓存配置。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// StoreConfig 文件存储配置。
type StoreConfig struct {
	Dir string `json:"dir"` // 监控状态落盘目录
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
	ToEmail   string `json:"to_email"`
}

// IntelligenceConfig 外部智能分析服务配置。
type IntelligenceConfig struct {
	APIKey      string        `json:"api_key"`     // 服务凭证
	BaseURL     string        `json:"base_url"`    // 服务端点
	Model       string        `json:"model"`       // 模型标识
	MaxTokens   int           `json:"max_tokens"`  // 单次响应 token 上限
	Temperature float64       `json:"temperature"` // 采样温度
	Timeout     time.Duration `json:"timeout"`     // 单次请求超时（如 "30s"）
}

// TrackingConfig 价格监控配置。
type TrackingConfig struct {
	FreeInterval      time.Duration `json:"free_interval"`       // 免费档轮询间隔（如 "1h"）
	PremiumInterval   time.Duration `json:"premium_interval"`    // 高级档轮询间隔（如 "15m"）
	InterProductDelay time.Duration `json:"inter_product_delay"` // 单轮内相邻商品的间隔
	DropThresholdPct  float64       `json:"drop_threshold_pct"`  // 触发降价提醒的跌幅百分比
	DedupWindow       time.Duration `json:"dedup_window"`        // 提醒去重窗口
	QuoteSeed         int64         `json:"quote_seed"`          // 模拟报价随机种子
}

// BatchConfig 每日批处理作业配置。
type BatchConfig struct {
	RunAtHour   int `json:"run_at_hour"`   // 每日执行小时（本地时间）
	RunAtMinute int `json:"run_at_minute"` // 每日执行分钟
}

// EntitlementConfig 订阅配置。
type EntitlementConfig struct {
	Tier string `json:"tier"` // free / premium
}

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	// 如果配置文件不存在，使用默认配置
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		// 即使没有配置文件，也允许环境变量覆盖默认值
		applyEnvOverrides(cfg)
		return cfg, nil
	}

	// 读取配置文件
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// 解析 JSON
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	// 应用默认值（对于未设置的字段）
	applyDefaults(cfg)

	// 环境变量优先覆盖配置
	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault 加载配置，如果失败则返回默认配置（不报错）。
func LoadOrDefault(configPath ...string) *Config {
	cfg, err := Load(configPath...)
	if err != nil {
		fallback := getDefaultConfig()
		applyEnvOverrides(fallback)
		return fallback
	}
	return cfg
}

// Save 保存配置到 JSON 文件。
//
// 参数:
//
//	path: 保存路径
//	cfg: 配置对象
//
// 返回值:
//
//	error: 保存失败返回错误
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:       "local",
			LogLevel:  "info",
			HTTPAddr:  ":8082",
			RateLimit: 3,
			RateBurst: 5,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			Password: "",
		},
		Store: StoreConfig{
			Dir: "data",
		},
		Email: EmailConfig{
			SMTPHost:  "smtp.gmail.com",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
			ToEmail:   "",
		},
		Intelligence: IntelligenceConfig{
			APIKey:      "",
			BaseURL:     "https://api.anthropic.com/v1/messages",
			Model:       "claude-3-5-haiku-latest",
			MaxTokens:   1024,
			Temperature: 0.3,
			Timeout:     30 * time.Second,
		},
		Tracking: TrackingConfig{
			FreeInterval:      time.Hour,
			PremiumInterval:   15 * time.Minute,
			InterProductDelay: 500 * time.Millisecond,
			DropThresholdPct:  10,
			DedupWindow:       6 * time.Hour,
			QuoteSeed:         0,
		},
		Batch: BatchConfig{
			RunAtHour:   3,
			RunAtMinute: 0,
		},
		Entitlement: EntitlementConfig{
			Tier: "free",
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.RateLimit == 0 {
		cfg.App.RateLimit = defaults.App.RateLimit
	}
	if cfg.App.RateBurst == 0 {
		cfg.App.RateBurst = defaults.App.RateBurst
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = defaults.Redis.Addr
	}
	if cfg.Store.Dir == "" {
		cfg.Store.Dir = defaults.Store.Dir
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Intelligence.BaseURL == "" {
		cfg.Intelligence.BaseURL = defaults.Intelligence.BaseURL
	}
	if cfg.Intelligence.Model == "" {
		cfg.Intelligence.Model = defaults.Intelligence.Model
	}
	if cfg.Intelligence.MaxTokens == 0 {
		cfg.Intelligence.MaxTokens = defaults.Intelligence.MaxTokens
	}
	if cfg.Intelligence.Temperature == 0 {
		cfg.Intelligence.Temperature = defaults.Intelligence.Temperature
	}
	if cfg.Intelligence.Timeout == 0 {
		cfg.Intelligence.Timeout = defaults.Intelligence.Timeout
	}
	if cfg.Tracking.FreeInterval == 0 {
		cfg.Tracking.FreeInterval = defaults.Tracking.FreeInterval
	}
	if cfg.Tracking.PremiumInterval == 0 {
		cfg.Tracking.PremiumInterval = defaults.Tracking.PremiumInterval
	}
	if cfg.Tracking.InterProductDelay == 0 {
		cfg.Tracking.InterProductDelay = defaults.Tracking.InterProductDelay
	}
	if cfg.Tracking.DropThresholdPct == 0 {
		cfg.Tracking.DropThresholdPct = defaults.Tracking.DropThresholdPct
	}
	if cfg.Tracking.DedupWindow == 0 {
		cfg.Tracking.DedupWindow = defaults.Tracking.DedupWindow
	}
	if cfg.Batch.RunAtHour == 0 && cfg.Batch.RunAtMinute == 0 {
		cfg.Batch.RunAtHour = defaults.Batch.RunAtHour
		cfg.Batch.RunAtMinute = defaults.Batch.RunAtMinute
	}
	if cfg.Entitlement.Tier == "" {
		cfg.Entitlement.Tier = defaults.Entitlement.Tier
	}
}

func applyEnvOverrides(cfg *Config) {
	viper.AutomaticEnv()

	_ = viper.BindEnv("redis_addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = viper.BindEnv("smtp_pass", "SMTP_PASS")
	_ = viper.BindEnv("intel_api_key", "INTEL_API_KEY")

	if v := os.Getenv("APP_ENV"); v != "" {
		cfg.App.Env = v
	}
	if v := os.Getenv("APP_LOG_LEVEL"); v != "" {
		cfg.App.LogLevel = v
	}
	if v := os.Getenv("APP_HTTP_ADDR"); v != "" {
		cfg.App.HTTPAddr = v
	}
	if v := os.Getenv("APP_RATE_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateLimit = f
		}
	}
	if v := os.Getenv("APP_RATE_BURST"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.App.RateBurst = f
		}
	}

	if v := viper.GetString("redis_addr"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := viper.GetString("redis_password"); v != "" {
		cfg.Redis.Password = v
	}

	if v := os.Getenv("STORE_DIR"); v != "" {
		cfg.Store.Dir = v
	}

	if v := os.Getenv("SMTP_HOST"); v != "" {
		cfg.Email.SMTPHost = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if v := os.Getenv("SMTP_USER"); v != "" {
		cfg.Email.SMTPUser = v
	}
	if v := viper.GetString("smtp_pass"); v != "" {
		cfg.Email.SMTPPass = v
	}
	if v := os.Getenv("SMTP_FROM"); v != "" {
		cfg.Email.FromEmail = v
	}
	if v := os.Getenv("SMTP_TO"); v != "" {
		cfg.Email.ToEmail = v
	}

	if v := viper.GetString("intel_api_key"); v != "" {
		cfg.Intelligence.APIKey = v
	}
	if v := os.Getenv("INTEL_BASE_URL"); v != "" {
		cfg.Intelligence.BaseURL = v
	}
	if v := os.Getenv("INTEL_MODEL"); v != "" {
		cfg.Intelligence.Model = v
	}
	if v := os.Getenv("INTEL_MAX_TOKENS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Intelligence.MaxTokens = i
		}
	}
	if v := os.Getenv("INTEL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Intelligence.Timeout = d
		}
	}

	if v := os.Getenv("TRACK_FREE_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tracking.FreeInterval = d
		}
	}
	if v := os.Getenv("TRACK_PREMIUM_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tracking.PremiumInterval = d
		}
	}
	if v := os.Getenv("TRACK_INTER_PRODUCT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tracking.InterProductDelay = d
		}
	}
	if v := os.Getenv("TRACK_DROP_THRESHOLD_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Tracking.DropThresholdPct = f
		}
	}
	if v := os.Getenv("TRACK_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Tracking.DedupWindow = d
		}
	}

	if v := os.Getenv("BATCH_RUN_AT_HOUR"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Batch.RunAtHour = i
		}
	}
	if v := os.Getenv("BATCH_RUN_AT_MINUTE"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Batch.RunAtMinute = i
		}
	}

	if v := os.Getenv("ENTITLEMENT_TIER"); v != "" {
		cfg.Entitlement.Tier = v
	}
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (c *IntelligenceConfig) UnmarshalJSON(data []byte) error {
	type Alias IntelligenceConfig
	aux := &struct {
		Timeout string `json:"timeout"`
		*Alias
	}{
		Alias: (*Alias)(c),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.Timeout != "" {
		duration, err := time.ParseDuration(aux.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout format: %w", err)
		}
		c.Timeout = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (c IntelligenceConfig) MarshalJSON() ([]byte, error) {
	type Alias IntelligenceConfig
	return json.Marshal(&struct {
		Timeout string `json:"timeout"`
		*Alias
	}{
		Timeout: c.Timeout.String(),
		Alias:   (*Alias)(&c),
	})
}

// UnmarshalJSON 自定义 JSON 解析，支持时间Duration字符串。
func (t *TrackingConfig) UnmarshalJSON(data []byte) error {
	type Alias TrackingConfig
	aux := &struct {
		FreeInterval      string `json:"free_interval"`
		PremiumInterval   string `json:"premium_interval"`
		InterProductDelay string `json:"inter_product_delay"`
		DedupWindow       string `json:"dedup_window"`
		*Alias
	}{
		Alias: (*Alias)(t),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.FreeInterval != "" {
		duration, err := time.ParseDuration(aux.FreeInterval)
		if err != nil {
			return fmt.Errorf("invalid free_interval format: %w", err)
		}
		t.FreeInterval = duration
	}
	if aux.PremiumInterval != "" {
		duration, err := time.ParseDuration(aux.PremiumInterval)
		if err != nil {
			return fmt.Errorf("invalid premium_interval format: %w", err)
		}
		t.PremiumInterval = duration
	}
	if aux.InterProductDelay != "" {
		duration, err := time.ParseDuration(aux.InterProductDelay)
		if err != nil {
			return fmt.Errorf("invalid inter_product_delay format: %w", err)
		}
		t.InterProductDelay = duration
	}
	if aux.DedupWindow != "" {
		duration, err := time.ParseDuration(aux.DedupWindow)
		if err != nil {
			return fmt.Errorf("invalid dedup_window format: %w", err)
		}
		t.DedupWindow = duration
	}

	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (t TrackingConfig) MarshalJSON() ([]byte, error) {
	type Alias TrackingConfig
	return json.Marshal(&struct {
		FreeInterval      string `json:"free_interval"`
		PremiumInterval   string `json:"premium_interval"`
		InterProductDelay string `json:"inter_product_delay"`
		DedupWindow       string `json:"dedup_window"`
		*Alias
	}{
		FreeInterval:      t.FreeInterval.String(),
		PremiumInterval:   t.PremiumInterval.String(),
		InterProductDelay: t.InterProductDelay.String(),
		DedupWindow:       t.DedupWindow.String(),
		Alias:             (*Alias)(&t),
	})
}
