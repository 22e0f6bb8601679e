// Package config 載入服務設定: YAML 檔 + 環境變數覆寫 (.env 選填)
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/breaker"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/adapter/out/kafka"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-credit-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-credit-ledger/pkg/logger"
	"github.com/JoeShih716/go-credit-ledger/pkg/mysql"
	"github.com/JoeShih716/go-credit-ledger/pkg/postgres"
)

// Backend 帳本儲存方式
type Backend string

const (
	// Level 0: 資料庫列鎖
	BackendMySQL    Backend = "mysql"
	BackendPostgres Backend = "postgres"
	// Level 1: 記憶體 + 每帳戶互斥鎖 + WAL
	BackendMemoryMutex Backend = "memory-mutex"
	// Level 2: 記憶體 + 每帳戶單一寫入者 + WAL
	BackendMemoryLMAX Backend = "memory-lmax"
)

// 可覆寫設定檔的環境變數
const (
	EnvBackend      = "LEDGER_BACKEND"
	EnvDatabaseURL  = "DATABASE_URL"
	EnvMySQLDSN     = "MYSQL_DSN"
	EnvHTTPAddr     = "HTTP_ADDR"
	EnvGRPCAddr     = "GRPC_ADDR"
	EnvKafkaBrokers = "KAFKA_BROKERS"
	EnvLogLevel     = "LOG_LEVEL"
)

type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Storage  StorageConfig   `yaml:"storage"`
	MySQL    mysql.Config    `yaml:"mysql"`
	Postgres postgres.Config `yaml:"postgres"`
	Clients  map[int64]int64 `yaml:"clients"`
	Kafka    kafka.Config    `yaml:"kafka"`
	Breaker  breaker.Config  `yaml:"breaker"`
	Log      logger.Config   `yaml:"log"`
}

type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	// GRPCAddr 空字串表示不啟動 gRPC
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type StorageConfig struct {
	Backend Backend `yaml:"backend"`
	// Timeout 單次儲存操作的等待上限
	Timeout time.Duration `yaml:"timeout"`
	// WALPath 記憶體帳本的 WAL 檔案，空字串表示不落地
	WALPath string `yaml:"wal_path"`
}

// Load 讀取設定檔，再套用環境變數與預設值
//
// 參數:
//
//	path: YAML 檔路徑，空字串表示只用環境變數與預設值
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	// .env 不存在不算錯誤；已存在的環境變數不會被覆蓋
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvBackend); ok && v != "" {
		c.Storage.Backend = Backend(v)
	}
	if v, ok := lookup(EnvDatabaseURL); ok && v != "" {
		c.Postgres.DSN = v
	}
	if v, ok := lookup(EnvMySQLDSN); ok && v != "" {
		c.MySQL.DSNOverride = v
	}
	if v, ok := lookup(EnvHTTPAddr); ok && v != "" {
		c.Server.HTTPAddr = v
	}
	if v, ok := lookup(EnvGRPCAddr); ok {
		c.Server.GRPCAddr = v
	}
	if v, ok := lookup(EnvKafkaBrokers); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.Log.Level = v
	}
}

// ApplyDefaults 補全未設定的欄位
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = ":8080"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendMemoryMutex
	}
	if c.Storage.Timeout == 0 {
		c.Storage.Timeout = usecase.DefaultStorageTimeout
	}
	if len(c.Clients) == 0 {
		c.Clients = domain.DefaultClients()
	}
	c.MySQL.ApplyDefaults()
	c.Postgres.ApplyDefaults()
	c.Breaker.ApplyDefaults()
}

// Validate 檢查設定是否可用
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case BackendMemoryMutex, BackendMemoryLMAX, BackendMySQL:
	case BackendPostgres:
		if c.Postgres.DSN == "" {
			return fmt.Errorf("postgres backend requires postgres.dsn or %s", EnvDatabaseURL)
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	if c.Storage.Timeout < 0 {
		return fmt.Errorf("storage timeout must not be negative: %s", c.Storage.Timeout)
	}
	if _, err := domain.NewRegistry(c.Clients); err != nil {
		return fmt.Errorf("clients: %w", err)
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
