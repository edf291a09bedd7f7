package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/keyfold/keyfold/internal/api"
	"github.com/keyfold/keyfold/internal/config"
	"github.com/keyfold/keyfold/internal/repositories"
)

func main() {
	if err := config.Validate(config.Envs); err != nil {
		log.Fatal(err)
	}

	// Connect to database
	repositories.ConnectDatabase()

	// Object storage for encrypted vault exports
	r2 := config.Envs.R2
	if r2.AccessKeyID != "" {
		if err := repositories.InitR2(r2.AccessKeyID, r2.SecretAccessKey, r2.AccountID, r2.BucketName, r2.Region); err != nil {
			log.Fatalf("Could not initialize R2: %v", err)
		}
	} else {
		log.Println("R2 not configured, vault export disabled")
	}

	mux := api.SetupRouter()

	server := &http.Server{
		Addr:    fmt.Sprintf(":%s", config.Envs.Port),
		Handler: mux,
		// Timeouts prevent resource exhaustion from slow clients
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	log.Printf("Starting Keyfold server on port: %s", config.Envs.Port)

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on port %s: %v", config.Envs.Port, err)
	}
}
