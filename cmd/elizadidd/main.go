package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"ElizaDID/internal/agent"
	"ElizaDID/internal/api"
	"ElizaDID/internal/config"
	"ElizaDID/internal/events"
	"ElizaDID/internal/executor"
	"ElizaDID/internal/identity"
	"ElizaDID/internal/observability/alerting"
	"ElizaDID/internal/observability/metrics"
	"ElizaDID/internal/record"
	"ElizaDID/internal/web3"
	"ElizaDID/internal/web3/provider"
	"ElizaDID/pkg/logger"
)

// main 是 ElizaDID 守护进程的入口。
func main() {
	flags := pflag.NewFlagSet("elizadidd", pflag.ExitOnError)
	configPath := flags.StringP("config", "c", "", "配置文件路径 (YAML 或 JSON)，默认读取 $ELIZADID_CONFIG 或 configs/elizadid.yaml")
	logLevel := flags.String("log-level", "", "覆盖配置中的日志级别 (debug|info|warn|error)")
	generateKey := flags.String("generate-key", "", "生成指定类型 (secp256k1|ed25519|schnorr) 的新密钥并退出")
	_ = flags.Parse(os.Args[1:])

	if *generateKey != "" {
		if err := printNewKey(os.Stdout, *generateKey); err != nil {
			log.Fatalf("生成密钥失败: %v", err)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, resolveConfigPath(*configPath), *logLevel); err != nil {
		log.Fatalf("elizadidd 运行失败: %v", err)
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("ELIZADID_CONFIG"); env != "" {
		return env
	}
	return filepath.Join("configs", "elizadid.yaml")
}

func run(ctx context.Context, configPath, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logs, err := logger.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}
	defer logs.Close()

	// 本地身份与签名校验。
	keyType, err := identity.ParseKeyType(cfg.Agent.KeyType)
	if err != nil {
		return err
	}
	signer, err := identity.LoadSigner(keyType, cfg.Agent.PrivateKey, cfg.Agent.DID)
	if err != nil {
		return err
	}
	resolver, closeResolver, err := buildResolver(ctx, cfg.Identity, logs.Named("identity"))
	if err != nil {
		return err
	}
	defer closeResolver()
	authorizer := identity.NewAuthorizer(resolver, identity.WithAuthorizerLogger(logs.Named("authorizer")))

	// 执行后端与执行器。
	defs := web3.ChainDefinitions{}
	if cfg.Web3.ChainsPath != "" {
		defs, err = web3.LoadChainDefinitions(cfg.Web3.ChainsPath)
		if err != nil {
			return err
		}
	}
	chains, err := provider.NewRegistry(ctx, defs, cfg.Web3.RPCURL, provider.DialEVM)
	if err != nil {
		return err
	}
	defer chains.Close()
	backend, err := chains.DefaultClient()
	if err != nil {
		return err
	}

	executors := executor.NewRegistry()
	if err := executor.RegisterChainExecutors(executors, chains, executor.WithTimeout(cfg.Agent.ExecutorTimeout)); err != nil {
		return err
	}

	// 结果存储与事件发布。
	store, err := openStore(ctx, cfg.Record)
	if err != nil {
		return err
	}
	defer store.Close()

	publishers, err := openPublishers(ctx, cfg.Events, signer.DID())
	if err != nil {
		return err
	}
	recorders := []record.Recorder{store}
	for _, publisher := range publishers {
		defer publisher.Close()
		recorders = append(recorders, publisher)
	}

	// 告警与指标。
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logs.Audit()}}
	if cfg.Alerting.Webhook.URL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:     cfg.Alerting.Webhook.URL,
			Headers: cfg.Alerting.Webhook.Headers,
			Logger:  logs.Named("alerting"),
		})
	}
	m := metrics.New(cfg.Metrics.Namespace)

	ag := agent.New(signer, authorizer, backend, executors,
		agent.WithLogger(logs.Named("agent")),
		agent.WithAuditLogger(logs.Audit()),
		agent.WithRecorder(record.Multi(recorders...)),
		agent.WithAlertDispatcher(alerting.NewFanout(notifiers...)),
		agent.WithMetrics(m),
		agent.WithChallenge(cfg.Agent.Challenge),
	)
	if err := ag.Initialize(ctx); err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := ag.Close(closeCtx); err != nil {
			logs.Error("关闭代理失败", slog.Any("error", err))
		}
	}()

	logs.Info("elizadidd 已就绪",
		slog.String("did", signer.DID()),
		slog.String("default_chain", chains.DefaultChain()),
		slog.Any("chains", chains.Chains()),
		slog.String("record_driver", cfg.Record.Driver),
		slog.Int("publishers", len(publishers)))

	server := api.NewServer(cfg.API.Address, ag,
		api.WithOutcomeStore(store),
		api.WithTypeLister(executors),
		api.WithMetrics(m),
		api.WithLogger(logs.Named("api")),
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildResolver 组装解析链：自证明 DID，其次是注册表文件，可选地套上 Redis 缓存。
func buildResolver(ctx context.Context, cfg config.IdentityConfig, logger *slog.Logger) (identity.Resolver, func(), error) {
	chain := identity.ChainResolver{identity.SelfCertifyingResolver{}}
	if cfg.RegistryPath != "" {
		static, err := identity.LoadStaticResolver(cfg.RegistryPath)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("已加载身份注册表", slog.String("path", cfg.RegistryPath), slog.Int("identities", static.Len()))
		chain = append(chain, static)
	}
	if cfg.Cache.Address == "" {
		return chain, func() {}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.Address,
		Password: cfg.Cache.Password,
		DB:       cfg.Cache.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("连接身份缓存失败: %w", err)
	}
	cached := identity.NewCachingResolver(chain, client, identity.CacheConfig{
		Prefix: cfg.Cache.Prefix,
		TTL:    cfg.Cache.TTL,
	}, logger)
	return cached, func() { _ = client.Close() }, nil
}

func openStore(ctx context.Context, cfg config.RecordConfig) (record.Store, error) {
	switch cfg.Driver {
	case config.RecordDriverMemory:
		return record.NewMemoryStore(), nil
	case config.RecordDriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.DSN), 0o755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
		return record.NewSQLStore(ctx, record.DriverSQLite, cfg.DSN)
	case config.RecordDriverMySQL:
		return record.NewSQLStore(ctx, record.DriverMySQL, cfg.DSN)
	default:
		return nil, fmt.Errorf("未知的结果存储驱动: %s", cfg.Driver)
	}
}

func openPublishers(ctx context.Context, cfg config.EventsConfig, agentDID string) ([]events.Publisher, error) {
	codec, err := events.NewCodec(cfg.Encoding)
	if err != nil {
		return nil, err
	}
	opts := events.Options{Agent: agentDID, Codec: codec}

	var publishers []events.Publisher
	closeAll := func() {
		for _, p := range publishers {
			_ = p.Close()
		}
	}
	if cfg.Redis.Address != "" {
		publisher, err := events.DialRedis(ctx, events.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			List:     cfg.Redis.List,
			MaxLen:   cfg.Redis.MaxLen,
			Channel:  cfg.Redis.Channel,
		}, opts)
		if err != nil {
			return nil, err
		}
		publishers = append(publishers, publisher)
	}
	if cfg.RabbitMQ.URL != "" {
		publisher, err := events.DialRabbitMQ(events.RabbitMQConfig{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			Durable:    cfg.RabbitMQ.Durable,
		}, opts)
		if err != nil {
			closeAll()
			return nil, err
		}
		publishers = append(publishers, publisher)
	}
	return publishers, nil
}

type exportableSigner interface {
	identity.Signer
	PrivateKeyBytes() []byte
}

func printNewKey(w io.Writer, rawType string) error {
	keyType, err := identity.ParseKeyType(rawType)
	if err != nil {
		return err
	}
	var signer exportableSigner
	switch keyType {
	case identity.KeyTypeSecp256k1:
		signer, err = identity.GenerateEthereumSigner()
	case identity.KeyTypeEd25519:
		signer, err = identity.GenerateEd25519Signer()
	case identity.KeyTypeSchnorr:
		signer, err = identity.GenerateSchnorrSigner()
	default:
		err = fmt.Errorf("不支持的密钥类型: %s", rawType)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "key_type: %s\nprivate_key: %s\ndid: %s\npublic_key: %s\n",
		keyType, hex.EncodeToString(signer.PrivateKeyBytes()), signer.DID(), signer.PublicKey().Hex())
	return err
}
