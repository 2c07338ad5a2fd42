package config

import (
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	JWT        JWTConfig
	Redis      RedisConfig
	Cloudinary CloudinaryConfig
	Firebase   FirebaseConfig
	Realtime   RealtimeConfig
}

type ServerConfig struct {
	Port         string
	Env          string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	RateLimitRPS float64
	RateBurst    int
}

type DatabaseConfig struct {
	Driver          string // mysql | sqlite
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

type JWTConfig struct {
	AccessSecret string
	AccessExpiry time.Duration
	Issuer       string
}

// RedisConfig enables cross-instance delivery of change events and typing signals.
// An empty Addr keeps everything in-process.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CloudinaryConfig struct {
	CloudName string
	APIKey    string
	APISecret string
	Folder    string
}

type FirebaseConfig struct {
	ServiceAccountPath string
}

type RealtimeConfig struct {
	TypingWindow     time.Duration
	TypingRate       float64 // signals per second per user
	TypingBurst      int
	HistoryWindow    int
	FanoutWorkers    int
	SubscriberBuffer int
}

// Load reads configuration from defaults, an optional .env file and CLASSROOM_* environment variables.
func Load() *Config {
	envFile := os.Getenv("CLASSROOM_ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			log.Fatalf("config.godotenv(%s): %v", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("CLASSROOM")
	v.AutomaticEnv()
	return fromViper(v)
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)
	v.SetDefault("port", "8099")
	v.SetDefault("env", "development")
	v.SetDefault("read_timeout", 10*time.Second)
	v.SetDefault("write_timeout", 10*time.Second)
	v.SetDefault("rate_limit_rps", 20.0)
	v.SetDefault("rate_limit_burst", 40)

	v.SetDefault("db_driver", "mysql")
	v.SetDefault("db_dsn", "classroom:classroom@tcp(localhost:3306)/classroom?charset=utf8mb4&parseTime=True&loc=UTC")
	v.SetDefault("db_max_idle_conns", 10)
	v.SetDefault("db_max_open_conns", 100)
	v.SetDefault("db_conn_max_lifetime", time.Hour)

	v.SetDefault("jwt_access_secret", "change-me-in-production")
	v.SetDefault("jwt_access_expiry", 15*time.Minute)
	v.SetDefault("jwt_issuer", "classroom")

	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)

	v.SetDefault("cloudinary_cloud_name", "")
	v.SetDefault("cloudinary_api_key", "")
	v.SetDefault("cloudinary_api_secret", "")
	v.SetDefault("cloudinary_folder", "classroom/attachments")

	v.SetDefault("firebase_service_account_path", "")

	v.SetDefault("typing_window", 3*time.Second)
	v.SetDefault("typing_rate", 2.0)
	v.SetDefault("typing_burst", 2)
	v.SetDefault("history_window", 50)
	v.SetDefault("fanout_workers", 8)
	v.SetDefault("subscriber_buffer", 16)
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Port:         v.GetString("port"),
			Env:          v.GetString("env"),
			ReadTimeout:  v.GetDuration("read_timeout"),
			WriteTimeout: v.GetDuration("write_timeout"),
			RateLimitRPS: v.GetFloat64("rate_limit_rps"),
			RateBurst:    v.GetInt("rate_limit_burst"),
		},
		Database: DatabaseConfig{
			Driver:          v.GetString("db_driver"),
			DSN:             v.GetString("db_dsn"),
			MaxIdleConns:    v.GetInt("db_max_idle_conns"),
			MaxOpenConns:    v.GetInt("db_max_open_conns"),
			ConnMaxLifetime: v.GetDuration("db_conn_max_lifetime"),
		},
		JWT: JWTConfig{
			AccessSecret: v.GetString("jwt_access_secret"),
			AccessExpiry: v.GetDuration("jwt_access_expiry"),
			Issuer:       v.GetString("jwt_issuer"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis_addr"),
			Password: v.GetString("redis_password"),
			DB:       v.GetInt("redis_db"),
		},
		Cloudinary: CloudinaryConfig{
			CloudName: v.GetString("cloudinary_cloud_name"),
			APIKey:    v.GetString("cloudinary_api_key"),
			APISecret: v.GetString("cloudinary_api_secret"),
			Folder:    v.GetString("cloudinary_folder"),
		},
		Firebase: FirebaseConfig{
			ServiceAccountPath: v.GetString("firebase_service_account_path"),
		},
		Realtime: RealtimeConfig{
			TypingWindow:     v.GetDuration("typing_window"),
			TypingRate:       v.GetFloat64("typing_rate"),
			TypingBurst:      v.GetInt("typing_burst"),
			HistoryWindow:    v.GetInt("history_window"),
			FanoutWorkers:    v.GetInt("fanout_workers"),
			SubscriberBuffer: v.GetInt("subscriber_buffer"),
		},
	}
}

// Default returns the configuration built from defaults only. Tests use it.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	return fromViper(v)
}
