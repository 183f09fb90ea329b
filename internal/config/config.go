package config

import (
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type Config struct {
	DB_URL         string
	Port           string
	JWTSecret      string
	Environment    string
	StorageDir     string
	MaxUploadBytes int64
	AuditLogFile   string
	FrontendURL    string
	CorsConfig     cors.Options
	Google         GoogleConfig
}

var Envs = initConfig()

func initConfig() Config {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("No", envFile, "file found")
	}

	return Config{
		DB_URL:         getEnv("DB_URL", ""),
		Port:           getEnv("PORT", "8080"),
		JWTSecret:      getEnv("JWT_SECRET", "not-so-secret-now-is-it?"),
		Environment:    getEnv("ENV", "development"),
		StorageDir:     getEnv("STORAGE_DIR", "storage"),
		MaxUploadBytes: getEnvInt64("MAX_UPLOAD_BYTES", 100<<20),
		AuditLogFile:   getEnv("AUDIT_LOG_FILE", "logs/audit.log"),
		FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:5173"),
		CorsConfig:     CorsConfig(),
		Google: GoogleConfig{
			ClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
			ClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
			RedirectURL:  getEnv("GOOGLE_REDIRECT_URL", "http://localhost:8080/api/v1/auth/google/callback"),
		},
	}
}

// Gets the env by key or fallbacks
func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func CorsConfig() cors.Options {
	return cors.Options{
		AllowedOrigins:   []string{getEnv("FRONTEND_URL", "http://localhost:5173")},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}
}
