// Command agent runs typewriter on this machine: it keeps documents in a
// local database, syncs them through a relay and serves the UI.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/spf13/pflag"

	"github.com/chee/typewriter/assetcache"
	"github.com/chee/typewriter/config"
	"github.com/chee/typewriter/discovery"
	"github.com/chee/typewriter/locator"
	"github.com/chee/typewriter/repo"
)

const sessionPath = "/session"

func newRouter(hub *Hub, open SessionOpener, assets http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(sessionPath, serveSession(hub, open))
	r.PathPrefix("/").Handler(assets)
	return r
}

// checkMount fails when the UI page has nowhere to attach. Only development
// checks.
func checkMount(cfg *config.Config) error {
	if cfg.Environment != config.Development {
		return nil
	}
	f, err := os.Open(filepath.Join(cfg.Agent.Assets, "index.html"))
	if err != nil {
		return err
	}
	defer f.Close()
	return cfg.VerifyMount(f)
}

// findRelay browses the local network for a relay.
var findRelay = discovery.FindRelay

// relayURL browses for a relay when discovery is on or no relay is
// configured. A configured relay is the fallback when nothing answers.
func relayURL(ctx context.Context, cfg *config.Config) (string, error) {
	if !cfg.Agent.Discover && cfg.Agent.RelayURL != "" {
		return cfg.Agent.RelayURL, nil
	}
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	found, err := findRelay(ctx)
	if err == nil {
		return found, nil
	}
	if cfg.Agent.RelayURL == "" {
		return "", err
	}
	glog.Infof("[agent]no relay on the local network (%v), using %s\n", err, cfg.Agent.RelayURL)
	return cfg.Agent.RelayURL, nil
}

func main() {
	fs := pflag.NewFlagSet("agent", pflag.ExitOnError)
	flags := config.AgentFlags(fs)
	fs.AddGoFlagSet(flag.CommandLine)
	fs.Parse(os.Args[1:])
	defer glog.Flush()

	cfg, err := flags.Load()
	if err != nil {
		glog.Fatalf("%v", err)
	}
	if err := checkMount(cfg); err != nil {
		glog.Fatalf("UI mount check failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	storage, err := repo.OpenBoltStorage(cfg.Agent.DataFile, cfg.Agent.Namespace)
	if err != nil {
		glog.Fatalf("Unable to open storage: %v", err)
	}
	defer storage.Close()
	if cfg.Agent.PeerName != "" {
		if err := storage.SetIdentity(cfg.Agent.PeerName); err != nil {
			glog.Fatalf("Unable to store name: %v", err)
		}
	}

	url, err := relayURL(ctx, cfg)
	if err != nil {
		glog.Fatalf("No relay: %v", err)
	}
	glog.Infof("[agent]syncing through %s\n", url)

	engine, err := repo.Start(ctx, repo.Config{
		Network:     repo.NewWebSocketNetwork(url),
		Storage:     storage,
		NetworkWait: cfg.Agent.NetworkWait,
	})
	if err != nil {
		glog.Fatalf("Unable to start repo: %v", err)
	}
	defer engine.Close()

	cache, err := assetcache.New(storage.DB(), cfg.Agent.CacheVersion, assetcache.Dir(cfg.Agent.Assets))
	if err != nil {
		glog.Fatalf("Unable to open asset cache: %v", err)
	}

	hub := newHub()
	go hub.run(ctx)
	go func() {
		select {
		case <-engine.NetworkReady():
			hub.Broadcast(onlineFrame())
		case <-ctx.Done():
		}
	}()

	open := sessionOpener(engine, locator.Options{ReadyTimeout: cfg.Agent.ReadyTimeout})
	srv := &http.Server{
		Addr:    cfg.Agent.Listen,
		Handler: newRouter(hub, open, cache),
	}

	if _, portString, err := net.SplitHostPort(cfg.Agent.Listen); err == nil {
		port, _ := strconv.Atoi(portString)
		if announcement, err := discovery.Announce(discovery.AgentService, port, sessionPath); err != nil {
			glog.Errorf("[agent]announce error = %v\n", err)
		} else {
			defer announcement.Shutdown()
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	glog.Infof("[agent]typewriter agent is running on %s\n", cfg.Agent.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		glog.Fatalf("Failed to start server: %v", err)
	}
	if err := engine.Flush(context.Background()); err != nil {
		glog.Errorf("[agent]flush error = %v\n", err)
	}
}
