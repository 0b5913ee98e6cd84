// Command mailboxd runs the mailbox store-and-forward server: it serves
// store_blobs/get_blobs over HTTP and periodically reaps blobs older than
// its retention window.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/carlmjohnson/versioninfo"

	mailboxlog "github.com/skeinmail/mailbox/internal/log"
	"github.com/skeinmail/mailbox/internal/metrics"
	"github.com/skeinmail/mailbox/mailboxserver"
	"github.com/skeinmail/mailbox/storage"
)

// fileConfig layers optional overrides for the retention task under the
// --db-path/--addr flags, read from an optional TOML file.
type fileConfig struct {
	CleanupInterval string `toml:"cleanup_interval"`
	MaxAge          string `toml:"max_age"`
	LogLevels       string `toml:"log_levels"`
}

func main() {
	var (
		dbPath     string
		addr       string
		configPath string
		showVer    bool
	)
	flag.StringVar(&dbPath, "db-path", "mailbox.bolt", "path to the mailbox's bbolt database file")
	flag.StringVar(&addr, "addr", "0.0.0.0:3000", "address to listen on")
	flag.StringVar(&configPath, "config", "", "optional TOML file overriding retention/log defaults")
	flag.BoolVar(&showVer, "version", false, "print version information and exit")
	flag.Parse()

	if showVer {
		fmt.Println(versioninfo.Short())
		return
	}

	cfg := fileConfig{
		CleanupInterval: mailboxserver.DefaultCleanupInterval.String(),
		MaxAge:          mailboxserver.DefaultMaxAge.String(),
		LogLevels:       os.Getenv("MAILBOX_LOG"),
	}
	if configPath != "" {
		if _, err := toml.DecodeFile(configPath, &cfg); err != nil {
			fmt.Fprintf(os.Stderr, "mailboxd: reading config: %s\n", err)
			os.Exit(1)
		}
	}

	logBackend, err := mailboxlog.New(os.Stderr, cfg.LogLevels)
	if err != nil {
		fmt.Fprintf(os.Stderr, "mailboxd: %s\n", err)
		os.Exit(1)
	}
	log := logBackend.GetLogger("server")

	cleanupInterval, err := time.ParseDuration(cfg.CleanupInterval)
	if err != nil {
		log.Errorf("invalid cleanup_interval %q: %s", cfg.CleanupInterval, err)
		os.Exit(1)
	}
	maxAge, err := time.ParseDuration(cfg.MaxAge)
	if err != nil {
		log.Errorf("invalid max_age %q: %s", cfg.MaxAge, err)
		os.Exit(1)
	}

	store, err := storage.Open(dbPath)
	if err != nil {
		log.Errorf("opening store: %s", err)
		os.Exit(1)
	}
	defer store.Close()

	reg := metrics.New()
	retention := mailboxserver.SpawnRetention(store, logBackend.GetLogger("retention"), reg, cleanupInterval, maxAge)
	defer retention.Halt()

	srv := mailboxserver.New(store, logBackend.GetLogger("http"), reg, 0)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Handler(),
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)

	go func() {
		log.Noticef("listening on %s", addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("http server: %s", err)
		}
	}()

	<-sigCh
	log.Notice("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctx)
}
