package config

import "time"

// AppInfo carries the process's own identity, surfaced in health checks and
// structured log fields.
type AppInfo struct {
	Name    string `json:"name" mapstructure:"name" ini:"name" yaml:"name"`
	Version string `json:"version" mapstructure:"version" ini:"version" yaml:"version"`
	Env     string `json:"env" mapstructure:"env" ini:"env" yaml:"env"`
}

func (*AppInfo) setDefault() {
	cv.SetDefault("app.name", "tol")
	cv.SetDefault("app.version", "dev")
	cv.SetDefault("app.env", "development")
}

// Server configures the HTTP listener the controller/router package binds.
type Server struct {
	Addr            string        `json:"addr" mapstructure:"addr" ini:"addr" yaml:"addr"`
	ReadTimeout     time.Duration `json:"read_timeout" mapstructure:"read_timeout" ini:"read_timeout" yaml:"read_timeout" default:"15s"`
	WriteTimeout    time.Duration `json:"write_timeout" mapstructure:"write_timeout" ini:"write_timeout" yaml:"write_timeout" default:"15s"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout" ini:"shutdown_timeout" yaml:"shutdown_timeout" default:"10s"`
}

func (*Server) setDefault() {
	cv.SetDefault("server.addr", ":8080")
	cv.SetDefault("server.read_timeout", "15s")
	cv.SetDefault("server.write_timeout", "15s")
	cv.SetDefault("server.shutdown_timeout", "10s")
}

// Auth configures JWT-based request identity (authn package).
type Auth struct {
	JwtSigningKey string        `json:"jwt_signing_key" mapstructure:"jwt_signing_key" ini:"jwt_signing_key" yaml:"jwt_signing_key"`
	JwtExpire     time.Duration `json:"jwt_expire" mapstructure:"jwt_expire" ini:"jwt_expire" yaml:"jwt_expire"`
	SuperuserRole string        `json:"superuser_role" mapstructure:"superuser_role" ini:"superuser_role" yaml:"superuser_role"`
}

func (*Auth) setDefault() {
	cv.SetDefault("auth.jwt_signing_key", "change-me")
	cv.SetDefault("auth.jwt_expire", "24h")
	cv.SetDefault("auth.superuser_role", "superuser")
}

// Mongo configures the storage package's MongoDB connection.
type Mongo struct {
	URI            string        `json:"uri" mapstructure:"uri" ini:"uri" yaml:"uri"`
	Database       string        `json:"database" mapstructure:"database" ini:"database" yaml:"database"`
	ConnectTimeout time.Duration `json:"connect_timeout" mapstructure:"connect_timeout" ini:"connect_timeout" yaml:"connect_timeout"`
}

func (*Mongo) setDefault() {
	cv.SetDefault("mongo.uri", "mongodb://127.0.0.1:27017")
	cv.SetDefault("mongo.database", "tol")
	cv.SetDefault("mongo.connect_timeout", "10s")
}

// Cache configures the txctx package's TTL query-result cache.
type Cache struct {
	TTL             time.Duration `json:"ttl" mapstructure:"ttl" ini:"ttl" yaml:"ttl"`
	CleanupInterval time.Duration `json:"cleanup_interval" mapstructure:"cleanup_interval" ini:"cleanup_interval" yaml:"cleanup_interval"`
}

func (*Cache) setDefault() {
	cv.SetDefault("cache.ttl", "30s")
	cv.SetDefault("cache.cleanup_interval", "1m")
}

// Minio configures the blob package's object storage backend.
type Minio struct {
	Endpoint  string `json:"endpoint" mapstructure:"endpoint" ini:"endpoint" yaml:"endpoint"`
	AccessKey string `json:"access_key" mapstructure:"access_key" ini:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" mapstructure:"secret_key" ini:"secret_key" yaml:"secret_key"`
	Bucket    string `json:"bucket" mapstructure:"bucket" ini:"bucket" yaml:"bucket"`
	UseSSL    bool   `json:"use_ssl" mapstructure:"use_ssl" ini:"use_ssl" yaml:"use_ssl"`
}

func (*Minio) setDefault() {
	cv.SetDefault("minio.endpoint", "127.0.0.1:9000")
	cv.SetDefault("minio.access_key", "minioadmin")
	cv.SetDefault("minio.secret_key", "minioadmin")
	cv.SetDefault("minio.bucket", "tol-blobs")
	cv.SetDefault("minio.use_ssl", false)
}

// Logger configures zap's construction.
type Logger struct {
	Level  string `json:"level" mapstructure:"level" ini:"level" yaml:"level"`
	Format string `json:"format" mapstructure:"format" ini:"format" yaml:"format"`
}

func (*Logger) setDefault() {
	cv.SetDefault("logger.level", "info")
	cv.SetDefault("logger.format", "json")
}

// Debug toggles verbose diagnostics not safe to leave on in production.
type Debug struct {
	Enable bool `json:"enable" mapstructure:"enable" ini:"enable" yaml:"enable"`
}

func (*Debug) setDefault() {
	cv.SetDefault("debug.enable", false)
}
