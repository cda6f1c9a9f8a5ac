package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"ucaep.org/internal/auth"
	"ucaep.org/internal/config"
	"ucaep.org/internal/content"
	"ucaep.org/internal/dashboard"
	"ucaep.org/internal/httpapi"
	"ucaep.org/internal/obs"
	"ucaep.org/internal/store/pg"
	"ucaep.org/internal/stream"
	"ucaep.org/internal/upload"
)

var version = "1.2.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("UCAEP_COMMIT"))

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Fatalf("load config: %v", err)
		}
		log.Printf("no config file at %s, using defaults (detached)", *configPath)
		cfg = config.Default()
	}

	local, err := content.NewLocalStore(cfg.Local.Path)
	if err != nil {
		log.Fatalf("open local store: %v", err)
	}

	uploader, err := buildUploader(cfg)
	if err != nil {
		log.Fatalf("configure uploads: %v", err)
	}

	var (
		db     *sql.DB
		remote content.Store
	)
	if !cfg.Detached() {
		pgStore, err := pg.Open(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		db = pgStore.DB()
		remote = pgStore
	} else {
		log.Printf("running detached against %s", cfg.Local.Path)
	}

	svc := content.NewService(remote, local, content.WithUploader(uploader))

	sessions := buildSessions(cfg)

	str := stream.New()
	poller := dashboard.NewPoller(dashboard.NewAggregator(svc), cfg.Dashboard.RefreshInterval)

	pollCtx, stopPoller := context.WithCancel(context.Background())
	defer stopPoller()
	go poller.Run(pollCtx)

	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, svc, poller, str, sessions,
		httpapi.WithTokenTTL(cfg.Auth.TokenTTL),
		httpapi.WithRateLimit(int(cfg.Server.RateLimitRPS), cfg.Server.RateLimitBurst),
		httpapi.WithMaxBodyBytes(cfg.Server.MaxBodyBytes),
	)

	handler := api.Handler()
	if cfg.Uploads.Bucket == "" {
		// Disk uploads need the server itself to serve the files back.
		root := http.NewServeMux()
		root.Handle(cfg.Uploads.URLPrefix+"/", http.StripPrefix(cfg.Uploads.URLPrefix+"/",
			http.FileServer(http.Dir(cfg.Uploads.LocalDir))))
		root.Handle("/", handler)
		handler = root
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	log.Printf("Starting ucaep-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopPoller()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

func buildUploader(cfg *config.Config) (content.Uploader, error) {
	if cfg.Uploads.Bucket != "" {
		return upload.NewS3Uploader(context.Background(), cfg.Uploads.Bucket, cfg.Uploads.Region, cfg.Uploads.PublicURL)
	}
	return upload.NewDiskUploader(cfg.Uploads.LocalDir, cfg.Uploads.URLPrefix)
}

func buildSessions(cfg *config.Config) auth.SessionCache {
	if cfg.Redis.Addr == "" {
		return auth.NewMemoryCache()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return auth.NewRedisCache(client)
}
