// Command server is the typewriter sync relay. Agents connect over a
// websocket, changes are kept in Postgres and fanned out through Redis.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	"github.com/chee/typewriter/config"
	"github.com/chee/typewriter/discovery"
	"github.com/chee/typewriter/relay"
)

const wsPath = "/ws"

func newRouter(rel *relay.Relay, health func(ctx context.Context) error) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc(wsPath, rel.ServeWS)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		if err := health(ctx); err != nil {
			glog.Infof("[server]health error = %v\n", err)
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok\n"))
	}).Methods(http.MethodGet)
	return r
}

func main() {
	fs := pflag.NewFlagSet("server", pflag.ExitOnError)
	flags := config.RelayFlags(fs)
	fs.AddGoFlagSet(flag.CommandLine)
	fs.Parse(os.Args[1:])
	defer glog.Flush()

	cfg, err := flags.Load()
	if err != nil {
		glog.Fatalf("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Relay.RedisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		glog.Fatalf("Could not connect to Redis: %v", err)
	}
	defer rdb.Close()
	glog.Infof("[server]connected to redis at %s\n", cfg.Relay.RedisAddr)

	pool, err := pgxpool.New(ctx, cfg.Relay.DatabaseURL)
	if err != nil {
		glog.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()
	changeLog, err := relay.NewPostgresLog(ctx, pool)
	if err != nil {
		glog.Fatalf("Unable to prepare change log: %v", err)
	}
	glog.Infof("[server]connected to postgres\n")

	rel := relay.New(changeLog, relay.NewRedisBroker(rdb))
	health := func(ctx context.Context) error {
		return errors.Join(rdb.Ping(ctx).Err(), pool.Ping(ctx))
	}
	srv := &http.Server{
		Addr:    cfg.Relay.Listen,
		Handler: newRouter(rel, health),
	}

	if cfg.Relay.Announce {
		if _, portString, err := net.SplitHostPort(cfg.Relay.Listen); err == nil {
			port, _ := strconv.Atoi(portString)
			announcement, err := discovery.Announce(discovery.RelayService, port, wsPath)
			if err != nil {
				glog.Errorf("[server]announce error = %v\n", err)
			} else {
				defer announcement.Shutdown()
			}
		}
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	glog.Infof("[server]typewriter relay listening on %s\n", cfg.Relay.Listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		glog.Fatalf("Failed to start server: %v", err)
	}
}
