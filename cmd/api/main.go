package main

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/joho/godotenv"
	"google.golang.org/grpc"

	"doctrack.org/internal/dispatch"
	"doctrack.org/internal/httpapi"
	"doctrack.org/internal/migrate"
	"doctrack.org/internal/notify"
	"doctrack.org/internal/obs"
	"doctrack.org/internal/profile"
	"doctrack.org/internal/store/pg"
)

var version = "0.3.1"

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("DOCTRACK_COMMIT"))

	var (
		requests dispatch.Service
		profiles profile.Store
		store    *pg.Store
	)
	if dsn := os.Getenv("DOCTRACK_PG_DSN"); dsn != "" {
		var err error
		store, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		requests = store.Requests()
		profiles = store.Profiles()

		if os.Getenv("DOCTRACK_MIGRATE_ON_BOOT") == "true" {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			mgr := migrate.NewManager(store.DB(), "ops/migrations/sql", "ops/migrations/seeds")
			if err := mgr.Up(ctx); err != nil {
				cancel()
				log.Fatalf("migrate on boot: %v", err)
			}
			cancel()
		}
	} else {
		// In-memory mode for local development without Postgres.
		log.Printf("DOCTRACK_PG_DSN not set; running with in-memory stores")
		requests = dispatch.NewInMemory()
		profiles = profile.NewMemoryStore()
	}

	notifiers := []notify.Notifier{notify.LogNotifier{}}
	if topic := os.Getenv("DOCTRACK_SNS_TOPIC_ARN"); topic != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			log.Fatalf("load aws config: %v", err)
		}
		notifiers = append(notifiers, notify.NewSNSNotifier(sns.NewFromConfig(awsCfg), topic))
	}
	dispatcher := notify.NewDispatcher(notifiers...)

	probe := httpapi.ReadyProbe{}
	if store != nil {
		probe.DB = store.DB()
	}
	api := httpapi.New(httpapi.Config{
		Requests: requests,
		Profiles: profiles,
		Auth:     profile.NewResolver(profiles),
		Notify:   dispatcher,
		Ready:    probe,
		Version:  version,
	})

	addr := os.Getenv("DOCTRACK_HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// gRPC health endpoint for orchestrator probes.
	var grpcSrv *grpc.Server
	if grpcAddr := os.Getenv("DOCTRACK_GRPC_ADDR"); grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		httpapi.NewGRPCServer(probe).Register(grpcSrv)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
		log.Printf("gRPC health on %s", grpcAddr)
	}

	log.Printf("Starting doctrack-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	dispatcher.Close()
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}
