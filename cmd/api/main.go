package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"fieldstack.io/internal/apikey"
	"fieldstack.io/internal/httpapi"
	"fieldstack.io/internal/login"
	"fieldstack.io/internal/nonce"
	"fieldstack.io/internal/obs"
	"fieldstack.io/internal/ticket"
)

var version = "0.3.1"

func main() {
	obs.Init()

	production := os.Getenv("FIELDSTACK_ENV") == "production"

	var db *sql.DB
	if dsn := os.Getenv("FIELDSTACK_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	// Nonce windows: Redis when configured so every replica shares the
	// replay state, in-memory otherwise. Request and ticket nonces stay
	// in separate namespaces.
	var requestNonces, ticketNonces nonce.Store
	if addr := os.Getenv("FIELDSTACK_REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		requestNonces = nonce.NewRedisStore(client, "nonce:req")
		ticketNonces = nonce.NewRedisStore(client, "nonce:ticket")
	} else {
		reqStore := nonce.NewMemoryStore(time.Minute)
		defer reqStore.Close()
		tickStore := nonce.NewMemoryStore(time.Minute)
		defer tickStore.Close()
		requestNonces = reqStore
		ticketNonces = tickStore
	}

	var keyStore apikey.Store
	var accountStore login.AccountStore
	if db != nil {
		keyStore = apikey.NewPGStore(db)
		accountStore = login.NewPGAccountStore(db)
	} else {
		keyStore = apikey.NewMemoryStore()
		accountStore = login.NewMemoryAccountStore()
	}

	keys, err := apikey.NewRegistry(keyStore)
	if err != nil {
		log.Fatalf("key registry: %v", err)
	}

	ticketSecret := os.Getenv("FIELDSTACK_TICKET_SECRET")
	if ticketSecret == "" {
		log.Fatal("FIELDSTACK_TICKET_SECRET is required")
	}
	tickets, err := ticket.NewIssuer([]byte(ticketSecret), ticketNonces)
	if err != nil {
		log.Fatalf("ticket issuer: %v", err)
	}

	authenticator, err := login.NewAuthenticator(loginConfig(production), accountStore)
	if err != nil {
		log.Fatalf("authenticator: %v", err)
	}

	api := httpapi.New(httpapi.Config{
		Ready:         httpapi.ReadyProbe{DB: db},
		Version:       version,
		Keys:          keys,
		RequestNonces: requestNonces,
		Tickets:       tickets,
		Authenticator: authenticator,
		Production:    production,
	})

	srv := &http.Server{
		Addr:              ":8080",
		Handler:           httpapi.SecurityHeaders(httpapi.Logging(api.Handler())),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting fieldstack-auth %s on %s", version, srv.Addr)

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
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}

// loginConfig assembles the credential tiers from the environment. The
// primary and breakglass pairs are the provider/developer accounts with
// no database row.
func loginConfig(production bool) login.Config {
	cfg := login.Config{Production: production}
	addPair := func(list *[]login.EnvCredential, idEnv, secretEnv, class string) {
		id, secret := os.Getenv(idEnv), os.Getenv(secretEnv)
		if id != "" && secret != "" {
			*list = append(*list, login.EnvCredential{Identity: id, Secret: secret, Class: class})
		}
	}
	addPair(&cfg.Primary, "FIELDSTACK_PROVIDER_ID", "FIELDSTACK_PROVIDER_SECRET", login.ClassProvider)
	addPair(&cfg.Primary, "FIELDSTACK_DEVELOPER_ID", "FIELDSTACK_DEVELOPER_SECRET", login.ClassDeveloper)
	addPair(&cfg.Breakglass, "FIELDSTACK_BREAKGLASS_ID", "FIELDSTACK_BREAKGLASS_SECRET", login.ClassProvider)
	if !production && os.Getenv("FIELDSTACK_DEV_ALLOW_ANY") == "true" {
		cfg.AllowAny = true
	}
	if id, hash := os.Getenv("FIELDSTACK_EMERGENCY_ID"), os.Getenv("FIELDSTACK_EMERGENCY_HASH"); id != "" && hash != "" {
		cfg.Emergency = append(cfg.Emergency, login.EmergencyCredential{
			Identity:     id,
			Class:        login.ClassProvider,
			PasswordHash: hash,
		})
	}
	return cfg
}
