package config

import (
	"encoding/json"
	"os"
	"strconv"
	"time"
)

// Create new config instance with working defaults. A config file and the
// environment only override what they set explicitly.
func NewConfig() *Config {
	return &Config{
		Server: ServerConfig{
			// Read/write timeouts default to zero: a synchronous conversion
			// holds the response open for as long as the engine runs.
			Port: 5000,
		},
		Auth: AuthConfig{
			User:     "admin",
			Password: "password",
		},
		Upload: UploadConfig{
			MaxRequestBodyMB:     64,
			MaxMultipartMemoryMB: 16,
		},
		Staging: StagingConfig{
			Dir:        "/app/shared",
			TTLSeconds: 3600,
			Retention:  time.Hour,
		},
		Redis: RedisConfig{
			HealthCheckInterval: 30,
			DialTimeout:         5,
			ReadTimeout:         5,
			WriteTimeout:        5,
			Nodes:               []RedisNode{{Host: "localhost", Port: 6379}},
		},
		Queue: QueueConfig{
			Stream:         "pdf_jobs",
			Group:          "pdf_jobs-workers",
			Workers:        1,
			MaxAttempts:    3,
			MaxLen:         10000,
			BackoffBase:    2 * time.Second,
			BlockTimeout:   5 * time.Second,
			ReconnectDelay: 5 * time.Second,
		},
		Converter: ConverterConfig{
			Binary:   "libreoffice",
			PoolSize: 2,
		},
		Worker: WorkerConfig{
			PrinterAPIURL: "http://pdf-printer:5000/convert-in-shared-dir",
			User:          "admin",
			Password:      "password",
		},
		Janitor: JanitorConfig{
			Schedule: "@every 10m",
		},
	}
}

// Load configuration file in json format
func (c *Config) Read(file string) error {
	data, err := os.ReadFile(file)
	if err == nil {
		_ = json.Unmarshal(data, c)
	}
	return err
}

// ApplyEnv overlays the documented environment variables on top of whatever
// the defaults and the config file produced. Names and defaults mirror the
// deployment contract: REDIS_HOST/REDIS_PORT/REDIS_PASSWORD for the broker,
// QUEUE_NAME for the stream, PRINTER_API_URL for the worker callback,
// PDF_PRINTER_USER/PDF_PRINTER_PASS for the gateway realm, SHARED_DIR for
// the staging directory.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("REDIS_HOST"); v != "" {
		port := 6379
		if p := os.Getenv("REDIS_PORT"); p != "" {
			if n, err := strconv.Atoi(p); err == nil {
				port = n
			}
		}
		c.Redis.Nodes = []RedisNode{{Host: v, Port: port}}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("QUEUE_NAME"); v != "" {
		c.Queue.Stream = v
		c.Queue.Group = v + "-workers"
	}
	if v := os.Getenv("PRINTER_API_URL"); v != "" {
		c.Worker.PrinterAPIURL = v
	}
	if v := os.Getenv("PDF_PRINTER_USER"); v != "" {
		c.Auth.User = v
		c.Worker.User = v
	}
	if v := os.Getenv("PDF_PRINTER_PASS"); v != "" {
		c.Auth.Password = v
		c.Worker.Password = v
	}
	if v := os.Getenv("SHARED_DIR"); v != "" {
		c.Staging.Dir = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		c.Database.DSN = v
	}
	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		c.Archive.BucketName = v
	}
	if v := os.Getenv("WORKER_RECONNECT_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Queue.ReconnectDelay = d
		}
	}
}
