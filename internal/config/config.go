package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Configはアプリ全体の設定
type Config struct {
	Port  string // サーバーポート（8080）
	GoEnv string // dev/prod

	DBDriver         string // postgres / sqlite
	DatabaseURL      string // あれば最優先
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     int
	PostgresSSLMode  string
	SQLitePath       string

	RedisAddr     string // 空ならメモリ実装
	RedisPassword string

	JWTSecret   string   // 認証基盤と共有する署名シークレット
	AdminEmails []string // 管理者として扱うメールアドレス

	CartTTL         time.Duration // カートの保存期間
	CatalogCacheTTL time.Duration // 商品一覧キャッシュ
	CheckoutMode    string        // tx / saga

	StorageDisk      string // local / s3
	StorageLocalRoot string
	StorageURL       string
	S3Bucket         string
	S3Region         string
	S3Key            string
	S3Secret         string
	S3Endpoint       string
	S3URL            string
}

// LoadDotEnv は .env があれば読み込む（無ければ何もしない）。
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// Loadは環境変数
func Load() (Config, error) {
	pgPort, err := atoiDefault("POSTGRES_PORT", 5432)
	if err != nil {
		return Config{}, err
	}
	cartTTL, err := durationDefault("CART_TTL", 7*24*time.Hour)
	if err != nil {
		return Config{}, err
	}
	catalogTTL, err := durationDefault("CATALOG_CACHE_TTL", 30*time.Second)
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Port:  getenv("PORT", "8080"),
		GoEnv: getenv("GO_ENV", "dev"),

		DBDriver:         strings.ToLower(getenv("DB_DRIVER", "postgres")),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		PostgresUser:     getenv("POSTGRES_USER", "postgres"),
		PostgresPassword: getenv("POSTGRES_PASSWORD", "postgres"),
		PostgresDB:       getenv("POSTGRES_DB", "storefront"),
		PostgresHost:     getenv("POSTGRES_HOST", "localhost"),
		PostgresPort:     pgPort,
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),
		SQLitePath:       getenv("SQLITE_PATH", "storefront.db"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		AdminEmails: splitList(os.Getenv("ADMIN_EMAILS")),

		CartTTL:         cartTTL,
		CatalogCacheTTL: catalogTTL,
		CheckoutMode:    strings.ToLower(getenv("CHECKOUT_COMMIT_MODE", "tx")),

		StorageDisk:      strings.ToLower(getenv("STORAGE_DISK", "local")),
		StorageLocalRoot: getenv("STORAGE_LOCAL_ROOT", "storage"),
		StorageURL:       getenv("STORAGE_URL", "http://localhost:8080/storage"),
		S3Bucket:         os.Getenv("S3_BUCKET"),
		S3Region:         getenv("S3_REGION", "us-east-1"),
		S3Key:            os.Getenv("S3_KEY"),
		S3Secret:         os.Getenv("S3_SECRET"),
		S3Endpoint:       os.Getenv("S3_ENDPOINT"),
		S3URL:            os.Getenv("S3_URL"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// 必須チェック
func (c Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("DB_DRIVER must be postgres or sqlite: %q", c.DBDriver)
	}
	switch c.CheckoutMode {
	case "tx", "saga":
	default:
		return fmt.Errorf("CHECKOUT_COMMIT_MODE must be tx or saga: %q", c.CheckoutMode)
	}
	switch c.StorageDisk {
	case "local":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when STORAGE_DISK=s3")
		}
	default:
		return fmt.Errorf("STORAGE_DISK must be local or s3: %q", c.StorageDisk)
	}
	return nil
}

// 本番か
func (c Config) IsProduction() bool {
	return c.GoEnv == "prod" || c.GoEnv == "production"
}

// 管理者メールか（大文字小文字は区別しない）
func (c Config) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, a := range c.AdminEmails {
		if a == email {
			return true
		}
	}
	return false
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func atoiDefault(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func durationDefault(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be duration: %w", key, err)
	}
	return d, nil
}

func splitList(v string) []string {
	out := []string{}
	for _, s := range strings.Split(v, ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
