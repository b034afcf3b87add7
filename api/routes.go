package api

import (
	"github.com/gorilla/mux"

	"github.com/lucaresi/stima/internal/config"
	"github.com/lucaresi/stima/internal/db"
	"github.com/lucaresi/stima/internal/estimator"
	"github.com/lucaresi/stima/internal/repository/sqlite"
	"github.com/lucaresi/stima/internal/saves"
)

func SetupRoutes(cfg *config.Config, version, buildTime string, db *db.DB, orc *estimator.Orchestrator, mgr *saves.Manager) *mux.Router {
	r := mux.NewRouter()

	// Middleware chain
	r.Use(LoggingMiddleware)
	r.Use(RecoveryMiddleware)

	// Repository
	repo := sqlite.New(db, nil)

	// Create handlers
	systemHandler := &SystemHandler{}
	authHandler := NewAuthHandler(repo, cfg.JWTSecret, cfg.TokenDuration)
	estimatesHandler := NewEstimatesHandler(orc)
	savesHandler := NewSavesHandler(mgr)

	// Open endpoints
	r.HandleFunc("/version", systemHandler.VersionHandler(version, buildTime)).Methods("GET")
	r.HandleFunc("/health", systemHandler.HealthHandler).Methods("GET")
	r.HandleFunc("/v1/auth/signup", authHandler.Signup).Methods("POST")
	r.HandleFunc("/v1/auth/signin", authHandler.Signin).Methods("POST")

	// API v1 Protected routes
	apiV1 := r.PathPrefix("/v1").Subrouter()
	apiV1.Use(JWTAuthMiddlewareWithSecret(cfg.JWTSecret))

	// Auth endpoints
	authV1 := apiV1.PathPrefix("/auth").Subrouter()
	authV1.HandleFunc("/signout", authHandler.Signout).Methods("POST")

	// Estimation job endpoints
	apiV1.HandleFunc("/estimates", estimatesHandler.Create).Methods("POST")
	apiV1.HandleFunc("/estimates/{jobID}/status", estimatesHandler.Status).Methods("GET")
	apiV1.HandleFunc("/estimates/{jobID}/report", estimatesHandler.Report).Methods("GET")
	apiV1.HandleFunc("/estimates/{jobID}/plan", estimatesHandler.Plan).Methods("GET")
	apiV1.HandleFunc("/estimates/{jobID}/context", estimatesHandler.Context).Methods("GET")
	apiV1.HandleFunc("/estimates/{jobID}/rerun", estimatesHandler.Rerun).Methods("POST")
	apiV1.HandleFunc("/estimates/{jobID}/chat", estimatesHandler.Chat).Methods("POST")

	// Save endpoints
	apiV1.HandleFunc("/saves", savesHandler.Create).Methods("POST")
	apiV1.HandleFunc("/saves", savesHandler.List).Methods("GET")
	apiV1.HandleFunc("/saves/{saveID}", savesHandler.Get).Methods("GET")
	apiV1.HandleFunc("/saves/{saveID}", savesHandler.Sync).Methods("PUT")
	apiV1.HandleFunc("/saves/{saveID}", savesHandler.Delete).Methods("DELETE")
	apiV1.HandleFunc("/saves/{saveID}/finalize", savesHandler.Finalize).Methods("POST")
	apiV1.HandleFunc("/saves/{saveID}/open", savesHandler.Open).Methods("POST")

	return r
}
