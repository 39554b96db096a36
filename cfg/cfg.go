package cfg

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

const (
	BackendLocal = "local"
	BackendS3    = "s3"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Host             string
	Port             string
	Environment      string
	LogLevel         string
	DatabasePath     string
	StorageBackend   string
	ContentPath      string
	S3               S3Cfg
	MaxContentSize   int64
	MaxTranscodeSize int64
	KeyLength        int
	GzipLevel        int
	WorkerPoolSize   int
	KeepAliveTimeout time.Duration
	TLS              TLSCfg
	RedisURL         string
	RedisTLS         bool
	RedisUsername    string
	RedisPassword    Secret
	RedisTimeout     time.Duration
	LRUCacheSize     int
	MetadataCacheTTL time.Duration
	RateLimit        RateLimitCfg
	TrustedProxies   []string
	AllowedOrigins   []string
	MetricsUser      string
	MetricsPass      Secret
	ContextTimeout   time.Duration
	DBMaxOpenConns   int
	DBMaxIdleConns   int
	DBQueryTimeout   time.Duration
}

type S3Cfg struct {
	Endpoint  string
	Region    string
	Bucket    string
	Prefix    string
	AccessKey string
	SecretKey Secret
	PathStyle bool
}

type TLSCfg struct {
	Enabled  bool
	CertFile string
	KeyFile  string
}

type RateLimitCfg struct {
	RPM               int
	Burst             int
	ConservativeLimit int
}

// Load reads configuration from the environment. A .env file in the
// working directory, when present, fills in variables not already set.
func Load() (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "load .env")
	}
	c := &Cfg{}
	c.Host = getEnv("HOST", "0.0.0.0")
	c.Port = getEnv("PORT", "8080")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabasePath = getEnv("DATABASE_PATH", "bitbin.db")
	c.StorageBackend = strings.ToLower(getEnv("STORAGE_BACKEND", BackendLocal))
	c.ContentPath = getEnv("CONTENT_PATH", "content")
	c.S3 = S3Cfg{
		Endpoint:  getEnv("S3_ENDPOINT", ""),
		Region:    getEnv("S3_REGION", "us-east-1"),
		Bucket:    getEnv("S3_BUCKET", ""),
		Prefix:    getEnv("S3_PREFIX", ""),
		AccessKey: getEnv("S3_ACCESS_KEY", ""),
		SecretKey: NewSecret(getEnv("S3_SECRET_KEY", "")),
		PathStyle: getEnv("S3_PATH_STYLE", "false") == "true",
	}
	var err error
	c.MaxContentSize, err = getInt64("MAX_CONTENT_SIZE", 10*1024*1024)
	if err != nil {
		return nil, err
	}
	c.MaxTranscodeSize, err = getInt64("MAX_TRANSCODE_SIZE", 64*1024*1024)
	if err != nil {
		return nil, err
	}
	c.KeyLength, err = getInt("KEY_LENGTH", 7)
	if err != nil {
		return nil, err
	}
	c.GzipLevel, err = getInt("GZIP_LEVEL", 6)
	if err != nil {
		return nil, err
	}
	c.WorkerPoolSize, err = getInt("WORKER_POOL_SIZE", 0)
	if err != nil {
		return nil, err
	}
	c.KeepAliveTimeout, err = getDuration("KEEP_ALIVE_TIMEOUT", 15*time.Second)
	if err != nil {
		return nil, err
	}
	c.TLS = TLSCfg{
		Enabled:  getEnv("TLS", "false") == "true",
		CertFile: getEnv("TLS_CERT_FILE", ""),
		KeyFile:  getEnv("TLS_KEY_FILE", ""),
	}
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 1000)
	if err != nil {
		return nil, err
	}
	c.MetadataCacheTTL, err = getDuration("METADATA_CACHE_TTL", time.Hour)
	if err != nil {
		return nil, err
	}
	c.RateLimit.RPM, err = getInt("RATE_LIMIT_RPM", 60)
	if err != nil {
		return nil, err
	}
	c.RateLimit.Burst, err = getInt("RATE_LIMIT_BURST", 10)
	if err != nil {
		return nil, err
	}
	c.RateLimit.ConservativeLimit, err = getInt("RATE_LIMIT_CONSERVATIVE", 5)
	if err != nil {
		return nil, err
	}
	c.TrustedProxies = getSlice("TRUSTED_PROXIES", []string{})
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 100)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	return c, nil
}
func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return errors.New("PORT must be a number")
	}
	if c.Host != "" && net.ParseIP(c.Host) == nil && c.Host != "localhost" {
		return fmt.Errorf("invalid HOST: %s", c.Host)
	}
	if c.DatabasePath == "" {
		return errors.New("DATABASE_PATH is required")
	}
	switch c.StorageBackend {
	case BackendLocal:
		if c.ContentPath == "" {
			return errors.New("CONTENT_PATH is required for the local backend")
		}
	case BackendS3:
		if c.S3.Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 backend")
		}
		if (c.S3.AccessKey == "") != (c.S3.SecretKey.Value() == "") {
			return errors.New("S3_ACCESS_KEY and S3_SECRET_KEY must be set together")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}
	if c.MaxContentSize <= 0 {
		return errors.New("MAX_CONTENT_SIZE must be positive")
	}
	if c.MaxTranscodeSize < c.MaxContentSize {
		return errors.New("MAX_TRANSCODE_SIZE must be at least MAX_CONTENT_SIZE")
	}
	if c.KeyLength < 4 || c.KeyLength > 64 {
		return errors.New("KEY_LENGTH must be between 4 and 64")
	}
	if c.GzipLevel < gzip.HuffmanOnly || c.GzipLevel > gzip.BestCompression {
		return fmt.Errorf("GZIP_LEVEL must be between %d and %d", gzip.HuffmanOnly, gzip.BestCompression)
	}
	if c.WorkerPoolSize < 0 {
		return errors.New("WORKER_POOL_SIZE cannot be negative")
	}
	if c.KeepAliveTimeout < 0 {
		return errors.New("KEEP_ALIVE_TIMEOUT cannot be negative")
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("TLS_CERT_FILE and TLS_KEY_FILE are required when TLS=true")
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	if c.LRUCacheSize <= 0 {
		return errors.New("LRU_CACHE_SIZE must be positive")
	}
	if c.MetadataCacheTTL <= 0 {
		return errors.New("METADATA_CACHE_TTL must be positive")
	}
	if c.RateLimit.RPM <= 0 {
		return errors.New("RATE_LIMIT_RPM must be positive")
	}
	for _, proxy := range c.TrustedProxies {
		if strings.Contains(proxy, "/") {
			if _, _, err := net.ParseCIDR(proxy); err != nil {
				return fmt.Errorf("invalid CIDR in TRUSTED_PROXIES: %s", proxy)
			}
		} else {
			if net.ParseIP(proxy) == nil {
				return fmt.Errorf("invalid IP in TRUSTED_PROXIES: %s", proxy)
			}
		}
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}

// Addr is the listen address.
func (c *Cfg) Addr() string {
	return net.JoinHostPort(c.Host, c.Port)
}
func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.S3.SecretKey.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getInt64(key string, fallback int64) (int64, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
