package config

import (
	"fmt"
	"time"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Auth      AuthConfig      `json:"auth"`
	Upload    UploadConfig    `json:"upload"`
	Staging   StagingConfig   `json:"staging"`
	Database  Database        `json:"database"`
	Redis     RedisConfig     `json:"redis"`
	Queue     QueueConfig     `json:"queue"`
	Converter ConverterConfig `json:"converter"`
	Worker    WorkerConfig    `json:"worker"`
	Archive   ArchiveConfig   `json:"archive"`
	Janitor   JanitorConfig   `json:"janitor"`
	Sentry    SentryConfig    `json:"sentry"`
}

type ServerConfig struct {
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// AuthConfig is the gateway's basic-auth realm. Every file and conversion
// route sits behind it; requests are rejected before any file I/O happens.
type AuthConfig struct {
	User     string `json:"user"`
	Password string `json:"password"`
}

type UploadConfig struct {
	MaxRequestBodyMB     int64 `json:"max_request_body"`
	MaxMultipartMemoryMB int64 `json:"max_multipart_memory"`
}

// StagingConfig describes the shared directory holding files across their
// upload-to-deletion lifecycle. The directory is flat and shared between the
// gateway and the worker's remote calls; two jobs carrying the same filename
// collide on the same paths.
type StagingConfig struct {
	Dir        string        `json:"dir"`
	TTLSeconds int           `json:"ttl_seconds"` // expiry marker lifetime
	Retention  time.Duration `json:"retention"`   // minimum age before the janitor may delete
}

type Database struct {
	DSN string `json:"dsn"` // empty disables the job audit trail
}

type RedisConfig struct {
	Password            string        `json:"password"`
	DatabaseID          int           `json:"database_id"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	DialTimeout         time.Duration `json:"dial_timeout"`
	ReadTimeout         time.Duration `json:"read_timeout"`
	WriteTimeout        time.Duration `json:"write_timeout"`
	Nodes               []RedisNode   `json:"nodes"`
}

type RedisNode struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

func (n RedisNode) Addr() string { return fmt.Sprintf("%s:%d", n.Host, n.Port) }

// QueueConfig drives both the producer and the consumer side of the job
// stream. Messages are acked only after the handler returns; failed jobs are
// re-enqueued with backoff until MaxAttempts, then parked on the dead-letter
// stream (Stream + ".dead").
type QueueConfig struct {
	Stream         string        `json:"stream"`
	Group          string        `json:"group"`
	Consumer       string        `json:"consumer"`
	Workers        int           `json:"workers"`
	MaxAttempts    int           `json:"max_attempts"`
	MaxLen         int64         `json:"max_len"`
	BackoffBase    time.Duration `json:"backoff_base"`
	BlockTimeout   time.Duration `json:"block_timeout"`
	ReconnectDelay time.Duration `json:"reconnect_delay"`
}

type ConverterConfig struct {
	Binary   string        `json:"binary"`
	PoolSize int           `json:"pool_size"`
	Timeout  time.Duration `json:"timeout"` // zero means no limit on a single conversion
}

// WorkerConfig configures the consumer binary's callback into the gateway.
type WorkerConfig struct {
	PrinterAPIURL string `json:"printer_api_url"`
	User          string `json:"user"`
	Password      string `json:"password"`
}

type ArchiveConfig struct {
	AccountID   string `json:"account_id"`
	BucketName  string `json:"bucket_name"` // empty disables archiving
	AccessKeyID string `json:"access_key_id"`
	SecretKey   string `json:"secret_key"`
}

type JanitorConfig struct {
	Schedule string `json:"schedule"` // cron spec, e.g. "@every 10m"
}

type SentryConfig struct {
	SentryDSN   string `json:"sentry_dsn"`
	Environment string `json:"environment"`
}
