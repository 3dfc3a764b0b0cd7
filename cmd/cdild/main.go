package main

import (
	"context"
	"log"

	"github.com/Swixixle/CLINICAL-DOCUMENTATION-INTEGRITY-LAYER-sub000/internal/config"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := config.NewLogger(cfg)

	srv, cleanup, err := buildServer(context.Background(), cfg, logger)
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	defer cleanup()

	if err := srv.Run(); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
