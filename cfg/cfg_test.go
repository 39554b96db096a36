package cfg

import (
	"os"
	"strings"
	"testing"
	"time"
)

func validCfg(t *testing.T) *Cfg {
	t.Helper()
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return c
}

func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "PORT", "KEY_LENGTH", "STORAGE_BACKEND", "MAX_CONTENT_SIZE")
	c := validCfg(t)
	if c.Port != "8080" {
		t.Errorf("Port = %q", c.Port)
	}
	if c.KeyLength != 7 {
		t.Errorf("KeyLength = %d, want 7", c.KeyLength)
	}
	if c.StorageBackend != BackendLocal {
		t.Errorf("StorageBackend = %q, want local", c.StorageBackend)
	}
	if c.MaxContentSize != 10*1024*1024 {
		t.Errorf("MaxContentSize = %d", c.MaxContentSize)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORAGE_BACKEND", "S3")
	t.Setenv("S3_BUCKET", "bits")
	t.Setenv("KEEP_ALIVE_TIMEOUT", "0s")
	t.Setenv("TRUSTED_PROXIES", " 10.0.0.0/8 , ,127.0.0.1")
	c := validCfg(t)
	if c.Port != "9090" || c.StorageBackend != BackendS3 || c.S3.Bucket != "bits" {
		t.Errorf("unexpected cfg %+v", c)
	}
	if c.KeepAliveTimeout != 0 {
		t.Errorf("KeepAliveTimeout = %v, want 0", c.KeepAliveTimeout)
	}
	if len(c.TrustedProxies) != 2 {
		t.Errorf("TrustedProxies = %q", c.TrustedProxies)
	}
	if err := Validate(c); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadRejectsBadNumbers(t *testing.T) {
	t.Setenv("KEY_LENGTH", "seven")
	if _, err := Load(); err == nil {
		t.Error("expected error for non-numeric KEY_LENGTH")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Cfg)
		want   string
	}{
		{"bad port", func(c *Cfg) { c.Port = "http" }, "PORT"},
		{"unknown backend", func(c *Cfg) { c.StorageBackend = "ftp" }, "STORAGE_BACKEND"},
		{"s3 without bucket", func(c *Cfg) { c.StorageBackend = BackendS3; c.S3.Bucket = "" }, "S3_BUCKET"},
		{"half s3 credentials", func(c *Cfg) {
			c.StorageBackend = BackendS3
			c.S3.Bucket = "b"
			c.S3.AccessKey = "id"
		}, "S3_ACCESS_KEY"},
		{"short key", func(c *Cfg) { c.KeyLength = 2 }, "KEY_LENGTH"},
		{"gzip level", func(c *Cfg) { c.GzipLevel = 42 }, "GZIP_LEVEL"},
		{"transcode below content", func(c *Cfg) { c.MaxTranscodeSize = c.MaxContentSize - 1 }, "MAX_TRANSCODE_SIZE"},
		{"tls without files", func(c *Cfg) { c.TLS.Enabled = true }, "TLS_CERT_FILE"},
		{"redis scheme", func(c *Cfg) { c.RedisURL = "http://x" }, "REDIS_URL"},
		{"bad proxy", func(c *Cfg) { c.TrustedProxies = []string{"nope"} }, "TRUSTED_PROXIES"},
		{"production metrics", func(c *Cfg) { c.Environment = "production" }, "METRICS_USER"},
		{"negative keep-alive", func(c *Cfg) { c.KeepAliveTimeout = -time.Second }, "KEEP_ALIVE_TIMEOUT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCfg(t)
			c.Port = "8080"
			c.StorageBackend = BackendLocal
			c.Environment = "development"
			c.TrustedProxies = nil
			tt.mutate(c)
			err := Validate(c)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestSecretRedacts(t *testing.T) {
	s := NewSecret("hunter2")
	if s.String() == "hunter2" || s.Value() != "hunter2" {
		t.Errorf("String = %q, Value = %q", s.String(), s.Value())
	}
	s.Wipe()
	if s.Value() == "hunter2" {
		t.Error("Wipe left the secret readable")
	}
}
