package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"loomspace.org/internal/access"
	"loomspace.org/internal/authn"
	"loomspace.org/internal/httpapi"
	"loomspace.org/internal/obs"
	"loomspace.org/internal/ratelimit"
	"loomspace.org/internal/session"
	"loomspace.org/internal/store/memory"
	"loomspace.org/internal/store/pg"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx := context.Background()

	var (
		credStore  session.Store
		hierarchy  access.HierarchyStore
		counter    ratelimit.Counter
		directory  authn.Directory
		readyProbe httpapi.ReadyProbe
	)
	var pgStore *pg.Store
	if dsn := os.Getenv("LOOMSPACE_PG_DSN"); dsn != "" {
		var err error
		pgStore, err = pg.Open(dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		if err := pgStore.EnsureSchema(ctx); err != nil {
			log.Fatalf("ensure schema: %v", err)
		}
		credStore = pgStore
		hierarchy = pgStore
		counter = pgStore
		directory = pgStore
		readyProbe = httpapi.ReadyProbe{DB: pgStore.DB()}
	} else {
		mem := memory.New()
		credStore = mem
		hierarchy = mem
		counter = ratelimit.NewMemoryCounter()
		directory = mem
		log.Printf("LOOMSPACE_PG_DSN not set, using in-memory store")
	}

	var authorityOpts []session.Option
	if key := os.Getenv("LOOMSPACE_TOKEN_SECRET"); key != "" {
		authorityOpts = append(authorityOpts, session.WithServiceTokenKey([]byte(key)))
	} else {
		log.Printf("LOOMSPACE_TOKEN_SECRET not set, service tokens disabled")
	}
	authority, err := session.NewAuthority(credStore, authorityOpts...)
	if err != nil {
		log.Fatalf("session authority: %v", err)
	}

	limiter, err := ratelimit.NewLimiter(counter)
	if err != nil {
		log.Fatalf("rate limiter: %v", err)
	}

	authenticator, err := authn.New(authn.Config{
		Authority: authority,
		Limiter:   limiter,
		Directory: directory,
	})
	if err != nil {
		log.Fatalf("authenticator: %v", err)
	}

	resolver, err := access.NewResolver(hierarchy)
	if err != nil {
		log.Fatalf("resolver: %v", err)
	}

	// Demo login credentials. Production delegates password verification to
	// the account subsystem.
	passwords := map[string]string{}
	if user, hash := os.Getenv("LOOMSPACE_ADMIN_USER"), os.Getenv("LOOMSPACE_ADMIN_PASSWORD_HASH"); user != "" && hash != "" {
		passwords[user] = hash
		if mem, ok := directory.(*memory.Store); ok {
			mem.SetAdmin(user, true)
		}
	}

	api := httpapi.New(httpapi.Config{
		Authenticator: authenticator,
		Authority:     authority,
		Resolver:      resolver,
		ReadyProbe:    readyProbe,
		Version:       version,
		Passwords:     passwords,
	})

	addr := os.Getenv("LOOMSPACE_LISTEN_ADDR")
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

	log.Printf("Starting loomspace-trust %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(shutdownCtx)
	if pgStore != nil {
		_ = pgStore.Close()
	}
	if mc, ok := counter.(*ratelimit.MemoryCounter); ok {
		mc.Close()
	}
	log.Println("Stopped")
}
