package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	K8s       K8sConfig       `mapstructure:"k8s"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	Charset  string `mapstructure:"charset"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// K8sConfig Kubernetes配置
type K8sConfig struct {
	Kubeconfig     string        `mapstructure:"kubeconfig"`      // 启动时将其中每个 context 导入为集群
	ClustersFile   string        `mapstructure:"clusters_file"`   // YAML 格式的集群列表
	RequestTimeout time.Duration `mapstructure:"request_timeout"` // REST 客户端超时
}

// CacheConfig 数据新鲜度缓存配置
type CacheConfig struct {
	Store           string        `mapstructure:"store"` // database, badger, memory
	BadgerPath      string        `mapstructure:"badger_path"`
	TTL             time.Duration `mapstructure:"ttl"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
}

// DiscoveryConfig 推理栈发现配置
type DiscoveryConfig struct {
	Interval       time.Duration `mapstructure:"interval"`
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`
	SnapshotTTL    time.Duration `mapstructure:"snapshot_ttl"`
	WarmStartDelay time.Duration `mapstructure:"warm_start_delay"`
	PodSelector    string        `mapstructure:"pod_selector"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load 加载配置（纯环境变量模式）
func Load() *Config {
	// 先加载 .env 到系统环境变量
	if err := godotenv.Load(); err != nil {
		log.Printf("未找到 .env 文件，使用系统环境变量: %v", err)
	}

	cfg, err := load(viper.New())
	if err != nil {
		log.Fatalf("配置解析失败: %v", err)
	}
	log.Printf("配置: %+v", *cfg)
	return cfg
}

// load 在指定 viper 实例上绑定默认值与环境变量并解析
func load(v *viper.Viper) (*Config, error) {
	setDefaults(v)

	// 读取环境变量
	v.AutomaticEnv()

	// 绑定服务器环境变量
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.mode", "SERVER_MODE")

	// 绑定数据库环境变量
	_ = v.BindEnv("database.driver", "DB_DRIVER")
	_ = v.BindEnv("database.dsn", "DB_DSN")
	_ = v.BindEnv("database.host", "DB_HOST")
	_ = v.BindEnv("database.port", "DB_PORT")
	_ = v.BindEnv("database.username", "DB_USERNAME")
	_ = v.BindEnv("database.password", "DB_PASSWORD")
	_ = v.BindEnv("database.database", "DB_DATABASE")
	_ = v.BindEnv("database.charset", "DB_CHARSET")

	// 绑定日志环境变量
	_ = v.BindEnv("log.level", "LOG_LEVEL")

	// 绑定 K8s 环境变量
	_ = v.BindEnv("k8s.kubeconfig", "KUBECONFIG")
	_ = v.BindEnv("k8s.clusters_file", "K8S_CLUSTERS_FILE")
	_ = v.BindEnv("k8s.request_timeout", "K8S_REQUEST_TIMEOUT")

	// 绑定缓存环境变量
	_ = v.BindEnv("cache.store", "CACHE_STORE")
	_ = v.BindEnv("cache.badger_path", "CACHE_BADGER_PATH")
	_ = v.BindEnv("cache.ttl", "CACHE_TTL")
	_ = v.BindEnv("cache.refresh_interval", "CACHE_REFRESH_INTERVAL")

	// 绑定发现引擎环境变量
	_ = v.BindEnv("discovery.interval", "DISCOVERY_INTERVAL")
	_ = v.BindEnv("discovery.query_timeout", "DISCOVERY_QUERY_TIMEOUT")
	_ = v.BindEnv("discovery.snapshot_ttl", "DISCOVERY_SNAPSHOT_TTL")
	_ = v.BindEnv("discovery.warm_start_delay", "DISCOVERY_WARM_START_DELAY")
	_ = v.BindEnv("discovery.pod_selector", "DISCOVERY_POD_SELECTOR")

	_ = v.BindEnv("metrics.enabled", "METRICS_ENABLED")

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

// setDefaults 设置默认配置值
func setDefaults(v *viper.Viper) {
	// 服务器默认配置
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")

	// 数据库默认配置
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "./data/llmd-polaris.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.username", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "llmd_polaris")
	v.SetDefault("database.charset", "utf8mb4")

	// 日志默认配置
	v.SetDefault("log.level", "info")

	// K8s默认配置
	v.SetDefault("k8s.kubeconfig", "")
	v.SetDefault("k8s.clusters_file", "")
	v.SetDefault("k8s.request_timeout", 30*time.Second)

	// 缓存默认配置
	v.SetDefault("cache.store", "database")
	v.SetDefault("cache.badger_path", "./data/cache")
	v.SetDefault("cache.ttl", 5*time.Minute)
	v.SetDefault("cache.refresh_interval", 60*time.Second)

	// 发现引擎默认配置（子查询超时 15 秒，快照有效期 5 分钟）
	v.SetDefault("discovery.interval", 30*time.Second)
	v.SetDefault("discovery.query_timeout", 15*time.Second)
	v.SetDefault("discovery.snapshot_ttl", 5*time.Minute)
	v.SetDefault("discovery.warm_start_delay", 2*time.Second)
	v.SetDefault("discovery.pod_selector", "llm-d.ai/inferenceServing=true")

	v.SetDefault("metrics.enabled", true)
}
