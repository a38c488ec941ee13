// Command devserver runs the development REST API the feedsync client talks to.
//
//	devserver              seed (or load SEED_FIXTURE) and serve on PORT
//	devserver token <user> print a bearer token for <user>
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"feedsync/internal/config"
	"feedsync/internal/database"
	"feedsync/internal/devserver"
	"feedsync/internal/observability"
)

func main() {
	ttl := flag.Duration("ttl", 24*time.Hour, "Lifetime of tokens minted by the token command")
	seedValue := flag.Int64("seed", 0, "Deterministic seed for generated data (0 = random)")
	users := flag.String("users", "", "Comma-separated usernames to create before generated profiles")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	observability.Configure(cfg.Env, cfg.LogLevel)

	if flag.Arg(0) == "token" {
		if flag.NArg() != 2 {
			log.Fatal("usage: devserver token <username>")
		}
		tok, err := devserver.MintToken(cfg.JWTSecret, flag.Arg(1), *ttl)
		if err != nil {
			log.Fatalf("Failed to mint token: %v", err)
		}
		fmt.Println(tok)
		return
	}

	shutdownTracing, err := observability.InitTracing(observability.TracingConfig{
		ServiceName:    "feedsync-devserver",
		ServiceVersion: "1.0.0",
		Environment:    cfg.Env,
		Enabled:        cfg.TracingEnabled,
		Exporter:       cfg.TracingExporter,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SamplerRatio:   cfg.TracingSampler,
	})
	if err != nil {
		log.Fatalf("Failed to initialise tracing: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if cfg.SeedFixture != "" {
		fx, err := devserver.LoadFixture(cfg.SeedFixture)
		if err != nil {
			log.Fatalf("Failed to load fixture: %v", err)
		}
		if err := fx.Apply(db); err != nil {
			log.Fatalf("Failed to apply fixture: %v", err)
		}
		log.Printf("Loaded fixture %s", cfg.SeedFixture)
	} else if cfg.SeedProfiles > 0 {
		opts := devserver.SeedOptions{
			Profiles:        cfg.SeedProfiles,
			PostsPerProfile: cfg.SeedPostsPerProfile,
			Seed:            *seedValue,
			Usernames:       splitList(*users),
		}
		if err := devserver.Seed(db, opts); err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
	}

	srv := devserver.New(cfg, db)

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
		if err := shutdownTracing(ctx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}()

	if err := srv.Start(); err != nil {
		log.Fatal(err)
	}
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
