package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"payment_recon/database"
	"payment_recon/logger"
)

// Settings 应用配置，全部来自环境变量
type Settings struct {
	Env        string
	ServerPort string

	DBDriver   string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPath     string

	JWTSecret   string
	JWTTokenTTL time.Duration

	TelegramBotToken string
	TelegramChatID   string
	TelegramAPIBase  string
	NotifyTimezone   string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	LoginMaxAttempts int
	LoginLockTime    time.Duration
	RateLimitMax     int
	CORSOrigins      string
	UploadLimitBytes int

	Log logger.LogConfig
}

// LoadEnvFile 加载.env文件，文件不存在时仅提示
func LoadEnvFile() {
	if err := godotenv.Load(); err != nil {
		log.Debug().Err(err).Msg("未加载.env文件，使用系统环境变量")
	}
}

// Load 从环境变量读取配置
func Load() *Settings {
	return &Settings{
		Env:        getEnv("ENV", "development"),
		ServerPort: getEnv("SERVER_PORT", "8080"),

		DBDriver:   strings.ToLower(getEnv("DB_DRIVER", "mysql")),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: getEnv("DB_PASSWORD", ""),
		DBName:     getEnv("DB_NAME", "payment_recon"),
		DBPath:     getEnv("DB_PATH", "payment_recon.db"),

		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTTokenTTL: time.Duration(getEnvInt("JWT_EXPIRES_HOURS", 24)) * time.Hour,

		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramChatID:   os.Getenv("TELEGRAM_CHAT_ID"),
		TelegramAPIBase:  getEnv("TELEGRAM_API_BASE", "https://api.telegram.org"),
		NotifyTimezone:   getEnv("NOTIFY_TIMEZONE", "Asia/Ho_Chi_Minh"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LoginMaxAttempts: getEnvInt("LOGIN_MAX_ATTEMPTS", 5),
		LoginLockTime:    time.Duration(getEnvInt("LOGIN_LOCK_MINUTES", 15)) * time.Minute,
		RateLimitMax:     getEnvInt("RATE_LIMIT_MAX", 100),
		CORSOrigins:      getEnv("CORS_ORIGINS", "*"),
		UploadLimitBytes: getEnvInt("UPLOAD_LIMIT_MB", 10) * 1024 * 1024,

		Log: logger.LogConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			Format:     getEnv("LOG_FORMAT", "console"),
			TimeFormat: getEnv("LOG_TIME_FORMAT", time.RFC3339),
			Output:     getEnv("LOG_OUTPUT", "stdout"),
		},
	}
}

// Database 转换为数据库连接配置
func (s *Settings) Database() database.Config {
	return database.Config{
		Driver:   s.DBDriver,
		Host:     s.DBHost,
		Port:     s.DBPort,
		User:     s.DBUser,
		Password: s.DBPassword,
		Name:     s.DBName,
		Path:     s.DBPath,
		Debug:    s.Env != "production",
	}
}

// IsProduction 是否生产环境
func (s *Settings) IsProduction() bool {
	return s.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Warn().Str("key", key).Str("value", value).Msg("环境变量不是整数，使用默认值")
		return defaultValue
	}
	return n
}
