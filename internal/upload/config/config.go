package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
	"github.com/joho/godotenv"
)

// Storage backends selectable through storage.backend.
const (
	BackendFilesystem = "filesystem"
	BackendSQL        = "sql"
	BackendRedis      = "redis"
	BackendMongo      = "mongo"
	BackendS3         = "s3"
	BackendSegment    = "segment"
)

// Progress delivery modes selectable through progress.mode.
const (
	ProgressLocal = "local"
	ProgressRedis = "redis"
)

// Config holds upload service configuration
type Config struct {
	Server   ServerConfig   `json:"server" yaml:"server"`
	Upload   UploadConfig   `json:"upload" yaml:"upload"`
	Storage  StorageConfig  `json:"storage" yaml:"storage"`
	Progress ProgressConfig `json:"progress" yaml:"progress"`
	Redis    RedisConfig    `json:"redis" yaml:"redis"`
	Logger   logger.Config  `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	Addr      string `json:"addr" yaml:"addr"`
	StaticDir string `json:"static_dir" yaml:"static_dir"`
}

type UploadConfig struct {
	NodeID      int64 `json:"node_id" yaml:"node_id"`
	ChunkCount  int   `json:"chunk_count" yaml:"chunk_count"`
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`
	Workers     int   `json:"workers" yaml:"workers"`
	QueueSize   int   `json:"queue_size" yaml:"queue_size"`
}

type StorageConfig struct {
	Backend    string           `json:"backend" yaml:"backend"`
	Filesystem FilesystemConfig `json:"filesystem" yaml:"filesystem"`
	SQL        SQLConfig        `json:"sql" yaml:"sql"`
	Mongo      MongoConfig      `json:"mongo" yaml:"mongo"`
	S3         S3Config         `json:"s3" yaml:"s3"`
	Segment    SegmentConfig    `json:"segment" yaml:"segment"`
	Breaker    BreakerConfig    `json:"breaker" yaml:"breaker"`
}

type FilesystemConfig struct {
	Dir     string `json:"dir" yaml:"dir"`
	Stripes int    `json:"stripes" yaml:"stripes"`
}

type SQLConfig struct {
	Driver string `json:"driver" yaml:"driver"` // "mysql", "sqlite3"
	DSN    string `json:"dsn" yaml:"dsn"`
}

type MongoConfig struct {
	URI        string `json:"uri" yaml:"uri"`
	Database   string `json:"database" yaml:"database"`
	Collection string `json:"collection" yaml:"collection"`
}

type S3Config struct {
	Endpoint  string `json:"endpoint" yaml:"endpoint"`
	Region    string `json:"region" yaml:"region"`
	Bucket    string `json:"bucket" yaml:"bucket"`
	AccessKey string `json:"access_key" yaml:"access_key"`
	SecretKey string `json:"secret_key" yaml:"secret_key"`
}

type SegmentConfig struct {
	Dir             string `json:"dir" yaml:"dir"`
	MaxSegmentBytes int64  `json:"max_segment_bytes" yaml:"max_segment_bytes"`
	FSync           bool   `json:"fsync" yaml:"fsync"`
}

type BreakerConfig struct {
	Enabled          bool `json:"enabled" yaml:"enabled"`
	FailureThreshold int  `json:"failure_threshold" yaml:"failure_threshold"`
	OpenTimeoutMS    int  `json:"open_timeout_ms" yaml:"open_timeout_ms"`
}

type ProgressConfig struct {
	Mode      string `json:"mode" yaml:"mode"` // "local", "redis"
	Channel   string `json:"channel" yaml:"channel"`
	QueueSize int    `json:"queue_size" yaml:"queue_size"`
	Log       bool   `json:"log" yaml:"log"`
}

type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:      ":8888",
			StaticDir: "./static",
		},
		Upload: UploadConfig{
			NodeID:      1,
			ChunkCount:  10,
			MaxFileSize: 512 * 1024 * 1024, // 512MB
			Workers:     8,
			QueueSize:   32,
		},
		Storage: StorageConfig{
			Backend: BackendFilesystem,
			Filesystem: FilesystemConfig{
				Dir:     "uploads",
				Stripes: 64,
			},
			SQL: SQLConfig{
				Driver: "mysql",
				DSN:    "user:password@tcp(localhost:3306)/uploads?parseTime=true",
			},
			Mongo: MongoConfig{
				URI:        "mongodb://localhost:27017",
				Database:   "uploads",
				Collection: "files",
			},
			S3: S3Config{
				Endpoint: "http://localhost:8333",
				Region:   "us-east-1",
				Bucket:   "uploads",
			},
			Segment: SegmentConfig{
				Dir:             "data/segments",
				MaxSegmentBytes: 64 * 1024 * 1024, // 64MB
			},
			Breaker: BreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				OpenTimeoutMS:    10000,
			},
		},
		Progress: ProgressConfig{
			Mode:      ProgressLocal,
			Channel:   "upload:progress",
			QueueSize: 64,
			Log:       true,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Load loads configuration from file, then applies environment overrides.
func Load(path string) (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "upload", "config", env+".yaml")
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		log.Printf("Config file not found or failed to parse, using defaults if file not specified. Path: %s, Error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		parsedCfg = cfg
	}

	applyEnv(parsedCfg)
	return parsedCfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STORAGE_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.SQL.DSN = v
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Storage.SQL.Driver = v
	}
	if v := os.Getenv("MONGODB_URI"); v != "" {
		cfg.Storage.Mongo.URI = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("UPLOAD_CHUNK_COUNT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Upload.ChunkCount = n
		} else {
			log.Printf("Ignoring invalid UPLOAD_CHUNK_COUNT %q: %v", v, err)
		}
	}
}
