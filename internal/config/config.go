package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"ElizaDID/pkg/logger"
)

// 支持的结果存储驱动。
const (
	RecordDriverMemory = "memory"
	RecordDriverMySQL  = "mysql"
	RecordDriverSQLite = "sqlite"
)

// EnvAgentKey 允许通过环境变量提供代理私钥，避免写入配置文件。
const EnvAgentKey = "ELIZADID_AGENT_KEY"

// Config 描述了 ElizaDID 守护进程在启动阶段需要加载的全部配置。
type Config struct {
	Agent    AgentConfig    `yaml:"agent" json:"agent"`
	Identity IdentityConfig `yaml:"identity" json:"identity"`
	Web3     Web3Config     `yaml:"web3" json:"web3"`
	Record   RecordConfig   `yaml:"record" json:"record"`
	Events   EventsConfig   `yaml:"events" json:"events"`
	Alerting AlertingConfig `yaml:"alerting" json:"alerting"`
	Metrics  MetricsConfig  `yaml:"metrics" json:"metrics"`
	API      APIConfig      `yaml:"api" json:"api"`
	Logging  logger.Config  `yaml:"logging" json:"logging"`
}

// AgentConfig 描述代理自身的身份与调度参数。
type AgentConfig struct {
	KeyType         string        `yaml:"key_type" json:"key_type"`
	PrivateKey      string        `yaml:"private_key" json:"private_key"`
	DID             string        `yaml:"did" json:"did"`
	Challenge       string        `yaml:"challenge" json:"challenge"`
	ExecutorTimeout time.Duration `yaml:"executor_timeout" json:"executor_timeout"`
}

// IdentityConfig 控制身份解析链。
type IdentityConfig struct {
	RegistryPath string            `yaml:"registry_path" json:"registry_path"`
	Cache        IdentityCacheConf `yaml:"cache" json:"cache"`
}

// IdentityCacheConf 配置 Redis 身份缓存，Address 为空表示不启用。
type IdentityCacheConf struct {
	Address  string        `yaml:"address" json:"address"`
	Password string        `yaml:"password" json:"password"`
	DB       int           `yaml:"db" json:"db"`
	Prefix   string        `yaml:"prefix" json:"prefix"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

// Web3Config 包含访问区块链节点所需的信息。
type Web3Config struct {
	ChainsPath string `yaml:"chains_path" json:"chains_path"`
	RPCURL     string `yaml:"rpc_url" json:"rpc_url"`
}

// RecordConfig 描述调度结果存储。
type RecordConfig struct {
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn" json:"dsn"`
}

// EventsConfig 描述调度结果事件的发布方式。
type EventsConfig struct {
	Encoding string         `yaml:"encoding" json:"encoding"`
	Redis    RedisConfig    `yaml:"redis" json:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq" json:"rabbitmq"`
}

// RedisConfig 配置 Redis 事件发布，Address 为空表示不启用。
type RedisConfig struct {
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	List     string `yaml:"list" json:"list"`
	MaxLen   int64  `yaml:"max_len" json:"max_len"`
	Channel  string `yaml:"channel" json:"channel"`
}

// RabbitMQConfig 配置 RabbitMQ 事件发布，URL 为空表示不启用。
type RabbitMQConfig struct {
	URL        string `yaml:"url" json:"url"`
	Exchange   string `yaml:"exchange" json:"exchange"`
	RoutingKey string `yaml:"routing_key" json:"routing_key"`
	Durable    bool   `yaml:"durable" json:"durable"`
}

// AlertingConfig 配置告警渠道。日志渠道始终启用。
type AlertingConfig struct {
	Webhook WebhookConfig `yaml:"webhook" json:"webhook"`
}

// WebhookConfig 描述 Webhook 告警端点。
type WebhookConfig struct {
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// MetricsConfig 配置 Prometheus 指标。
type MetricsConfig struct {
	Namespace string `yaml:"namespace" json:"namespace"`
}

// APIConfig 控制 HTTP 服务的监听地址。
type APIConfig struct {
	Address string `yaml:"address" json:"address"`
}

// Load 根据扩展名解析 YAML 或 JSON 配置文件，并补全默认值。
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(content, &cfg)
	default:
		err = yaml.Unmarshal(content, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if key := strings.TrimSpace(os.Getenv(EnvAgentKey)); key != "" {
		c.Agent.PrivateKey = key
	}
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值，相对路径以配置文件目录为基准。
func (c *Config) applyDefaults(baseDir string) {
	if c.Agent.KeyType == "" {
		c.Agent.KeyType = "secp256k1"
	}
	if c.Agent.Challenge == "" {
		c.Agent.Challenge = "init"
	}

	c.Identity.RegistryPath = resolvePath(baseDir, c.Identity.RegistryPath)
	if c.Identity.Cache.TTL <= 0 {
		c.Identity.Cache.TTL = 5 * time.Minute
	}

	c.Web3.ChainsPath = resolvePath(baseDir, c.Web3.ChainsPath)

	c.Record.Driver = strings.ToLower(strings.TrimSpace(c.Record.Driver))
	if c.Record.Driver == "" {
		c.Record.Driver = RecordDriverMemory
	}
	if c.Record.Driver == RecordDriverSQLite {
		if c.Record.DSN == "" {
			c.Record.DSN = filepath.Join(baseDir, "data", "outcomes.db")
		} else {
			c.Record.DSN = resolvePath(baseDir, c.Record.DSN)
		}
	}

	if c.Events.Encoding == "" {
		c.Events.Encoding = "json"
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "elizadid"
	}

	if c.API.Address == "" {
		c.API.Address = ":8080"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Audit.Enabled {
		if c.Logging.Audit.Path == "" {
			c.Logging.Audit.Path = filepath.Join(baseDir, "logs", "audit.log")
		} else {
			c.Logging.Audit.Path = resolvePath(baseDir, c.Logging.Audit.Path)
		}
	}
}

// Validate 检查配置的一致性。
func (c *Config) Validate() error {
	switch c.Record.Driver {
	case RecordDriverMemory, RecordDriverSQLite:
	case RecordDriverMySQL:
		if c.Record.DSN == "" {
			return errors.New("record.dsn 不能为空 (mysql)")
		}
	default:
		return fmt.Errorf("不支持的结果存储驱动: %s", c.Record.Driver)
	}

	switch strings.ToLower(c.Events.Encoding) {
	case "json", "cbor":
	default:
		return fmt.Errorf("不支持的事件编码: %s", c.Events.Encoding)
	}

	if strings.TrimSpace(c.Agent.PrivateKey) == "" {
		return fmt.Errorf("agent.private_key 不能为空 (也可通过 %s 提供)", EnvAgentKey)
	}
	if c.Agent.ExecutorTimeout < 0 {
		return errors.New("agent.executor_timeout 不能为负数")
	}
	if c.Web3.ChainsPath == "" && c.Web3.RPCURL == "" {
		return errors.New("web3.chains_path 与 web3.rpc_url 至少需要一个")
	}
	return nil
}

func resolvePath(baseDir, path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}
