package api

import (
	"fmt"
	"log"
	"net/http"

	"github.com/keyfold/keyfold/internal/api/handlers"
	"github.com/keyfold/keyfold/internal/api/middleware"
	"github.com/keyfold/keyfold/internal/config"
	"github.com/rs/cors"
)

func SetupRouter() http.Handler {
	mainMux := http.NewServeMux()
	c := cors.New(config.Envs.CorsConfig)

	// ---------- PUBLIC ROUTES ----------
	mainMux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	authMux := http.NewServeMux()
	authMux.HandleFunc("POST /register", handlers.RegisterUser)
	authMux.HandleFunc("POST /login", handlers.LoginUser)
	authMux.HandleFunc("/google/login", handlers.HandleGoogleLogin)
	authMux.HandleFunc("/google/callback", handlers.HandleGoogleCallback)
	authMux.HandleFunc("POST /password-reset", handlers.PasswordResetRequest)
	authMux.HandleFunc("POST /password-reset/confirm", handlers.PasswordResetConfirm)
	authMux.HandleFunc("POST /password-reset/validate-token", handlers.PasswordResetValidateToken)
	authMux.Handle("POST /logout", middleware.AuthMiddleware(http.HandlerFunc(handlers.Logout)))

	mainMux.Handle("/api/v1/auth/",
		http.StripPrefix("/api/v1/auth", authMux),
	)

	// ---------- PROTECTED ROUTES ----------
	protectedMux := http.NewServeMux()

	protectedMux.HandleFunc("GET /accounts", handlers.ListAccounts)
	protectedMux.HandleFunc("POST /accounts", handlers.CreateAccount)
	protectedMux.HandleFunc("GET /accounts/{id}", handlers.GetAccount)
	protectedMux.HandleFunc("PATCH /accounts/{id}", handlers.UpdateAccount)
	protectedMux.HandleFunc("PUT /accounts/{id}", handlers.UpdateAccount)
	protectedMux.HandleFunc("DELETE /accounts/{id}", handlers.DeleteAccount)
	protectedMux.HandleFunc("POST /accounts/{id}/fetch-favicon", handlers.FetchAccountFavicon)

	protectedMux.HandleFunc("POST /favicon", handlers.FetchFavicon)
	protectedMux.HandleFunc("POST /export", handlers.ExportVault)

	mainMux.Handle("/api/v1/",
		http.StripPrefix(
			"/api/v1",
			middleware.AuthMiddleware(protectedMux),
		),
	)

	log.Println("Router initialized")
	handler := c.Handler(mainMux)
	handler = middleware.Logger(handler)
	return handler
}
