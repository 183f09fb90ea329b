package api

import (
	"fmt"
	"net/http"

	_ "github.com/sjaiswal27/courierdrop/docs"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/rs/cors"
	"github.com/sjaiswal27/courierdrop/internal/api/handlers"
	"github.com/sjaiswal27/courierdrop/internal/api/middleware"
	apiservices "github.com/sjaiswal27/courierdrop/internal/api/services"
	"github.com/sjaiswal27/courierdrop/internal/audit"
	"github.com/sjaiswal27/courierdrop/internal/auth"
	"github.com/sjaiswal27/courierdrop/internal/config"
	"github.com/sjaiswal27/courierdrop/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Deps carries everything the router wires into handlers.
type Deps struct {
	DB        *gorm.DB
	Tokens    *auth.Service
	Audit     *audit.Logger
	Transfers *services.TransferService
	Files     *services.FileService
	Logger    *zap.Logger
}

func SetupRouter(d Deps) http.Handler {
	mainMux := http.NewServeMux()
	c := cors.New(config.Envs.CorsConfig)

	authHandler := &handlers.AuthHandler{
		DB:          d.DB,
		Tokens:      d.Tokens,
		Audit:       d.Audit,
		Google:      apiservices.NewGoogleOauthConfig(config.Envs.Google),
		FrontendURL: config.Envs.FrontendURL,
	}
	transferHandler := &handlers.TransferHandler{
		Transfers:      d.Transfers,
		MaxUploadBytes: config.Envs.MaxUploadBytes,
	}
	fileHandler := &handlers.FileHandler{
		Files:          d.Files,
		MaxUploadBytes: config.Envs.MaxUploadBytes,
	}

	// ---------- PUBLIC ROUTES ----------
	mainMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})
	mainMux.HandleFunc("/health/db", func(w http.ResponseWriter, r *http.Request) {
		sqlDB, err := d.DB.DB()
		if err != nil || sqlDB.Ping() != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	mainMux.HandleFunc("/docs/", httpSwagger.WrapHandler)

	authMux := http.NewServeMux()
	authMux.HandleFunc("/register", authHandler.Register)
	authMux.HandleFunc("/login", authHandler.Login)
	authMux.HandleFunc("/google/login", authHandler.GoogleLogin)
	authMux.HandleFunc("/google/callback", authHandler.GoogleCallback)
	authMux.HandleFunc("/logout", authHandler.Logout)

	mainMux.Handle("/api/v1/auth/",
		http.StripPrefix("/api/v1/auth", authMux),
	)

	// ---------- PROTECTED ROUTES ----------
	protectedMux := http.NewServeMux()

	transferMux := http.NewServeMux()
	transferMux.HandleFunc("/send", transferHandler.Send)
	transferMux.HandleFunc("/incoming/count", transferHandler.IncomingCount)
	transferMux.HandleFunc("/received", transferHandler.Received)
	transferMux.HandleFunc("/sent", transferHandler.Sent)
	transferMux.HandleFunc("/{id}/verify", transferHandler.Verify)
	transferMux.HandleFunc("/{id}/files", transferHandler.ListFiles)
	transferMux.HandleFunc("/{id}/files/{fileId}", transferHandler.DeleteFile)
	transferMux.HandleFunc("/{id}/files/{fileId}/download", transferHandler.Download)
	transferMux.HandleFunc("/{id}/download-all", transferHandler.DownloadAll)

	fileMux := http.NewServeMux()
	fileMux.HandleFunc("/upload", fileHandler.Upload)
	fileMux.HandleFunc("/{id}/download", fileHandler.Download)
	fileMux.HandleFunc("/{id}/assign", fileHandler.Assign)
	fileMux.HandleFunc("/{$}", fileHandler.List)

	protectedMux.Handle("/transfers/",
		http.StripPrefix("/transfers", transferMux),
	)
	protectedMux.Handle("/files/",
		http.StripPrefix("/files", fileMux),
	)
	protectedMux.HandleFunc("/files", fileHandler.List)
	protectedMux.HandleFunc("/users", authHandler.ListUsers)
	protectedMux.HandleFunc("/me", authHandler.Me)

	mainMux.Handle("/api/v1/",
		http.StripPrefix(
			"/api/v1",
			middleware.Auth(d.Tokens)(protectedMux),
		),
	)

	handler := c.Handler(mainMux)
	handler = middleware.Logger(d.Logger)(handler)
	return handler
}
