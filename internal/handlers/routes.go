package handlers

import (
	"net/http"

	"github.com/partsmarket/backend/internal/middleware"
)

// RegisterRoutes wires HTTP handlers into the provided ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps Dependencies) {
	health := HealthHandler{DB: deps.DB}
	auth := AuthHandler{Users: deps.Users, Sessions: deps.Sessions}
	telegram := TelegramHandler{Authenticator: deps.Telegram}
	images := ImageHandler{
		Compressor:     deps.Images,
		Storage:        deps.ImageStorage,
		Records:        deps.ImageRecords,
		MaxUploadBytes: deps.MaxUploadBytes,
		SizedMaxBytes:  deps.SizedMaxBytes,
	}

	limitAuth := middleware.RateLimit(deps.AuthLimiter, "auth", deps.RejectRecorder)
	limitImages := middleware.RateLimit(deps.UploadLimiter, "images", deps.RejectRecorder)

	mux.HandleFunc("/healthz", health.Handle)
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}

	mux.Handle("/api/v1/auth/login", limitAuth(http.HandlerFunc(auth.Login)))
	mux.Handle("/api/v1/auth/signup", limitAuth(http.HandlerFunc(auth.SignUp)))
	mux.Handle("/api/v1/auth/refresh", limitAuth(http.HandlerFunc(auth.Refresh)))
	mux.HandleFunc("/api/v1/auth/logout", auth.Logout)
	if deps.Telegram != nil {
		mux.Handle("/api/v1/auth/telegram", limitAuth(http.HandlerFunc(telegram.Login)))
	}

	mux.Handle("/api/v1/images", limitImages(http.HandlerFunc(images.Upload)))
	mux.Handle("/api/v1/images/sized", limitImages(http.HandlerFunc(images.UploadSized)))
}

// Dependencies aggregates collaborators required by HTTP handlers.
type Dependencies struct {
	DB             Pinger
	Users          UserStore
	Sessions       SessionManager
	Telegram       TelegramAuthenticator
	Images         ImageCompressor
	ImageStorage   ImageStorage
	ImageRecords   ImageRecorder
	MaxUploadBytes int64
	SizedMaxBytes  int
	AuthLimiter    middleware.RateLimiter
	UploadLimiter  middleware.RateLimiter
	RejectRecorder middleware.RejectRecorder
	Metrics        http.Handler
}
