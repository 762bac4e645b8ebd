package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"chatrelay/internal/call"
	"chatrelay/internal/config"
	"chatrelay/internal/db"
	"chatrelay/internal/fanout"
	"chatrelay/internal/mw"
	"chatrelay/internal/presence"
	"chatrelay/internal/receipt"
	"chatrelay/internal/server"
	"chatrelay/internal/service"
	"chatrelay/internal/session"
	"chatrelay/internal/store"
	"chatrelay/internal/telemetry"
	"chatrelay/internal/turn"
	"chatrelay/internal/ws"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const shutdownTimeout = 15 * time.Second

func serveCmd() *cobra.Command {
	var migrate bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "migrate the schema before serving")
	return cmd
}

// backplane picks the fanout bridge and presence directory: NATS when
// configured, otherwise in-process for a single node.
func backplane(cfg config.Config) (fanout.Bridge, presence.Directory, error) {
	if cfg.NATSURL == "" {
		log.Info().Msg("single node: in-process fanout")
		return fanout.NewLocal(), presence.NewMemoryDirectory(cfg.PresenceNodeTTL()), nil
	}
	nc, err := fanout.Dial(cfg.NATSURL, cfg.NodeID)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}
	dir, err := presence.NewKVDirectory(nc, cfg.PresenceBucket, cfg.PresenceNodeTTL())
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("presence bucket: %w", err)
	}
	log.Info().Str("url", cfg.NATSURL).Str("node", cfg.NodeID).Msg("nats fanout")
	return fanout.NewNats(nc, cfg.NATSSubjectPrefix, true), dir, nil
}

func serve(ctx context.Context, cfg config.Config, migrate bool) error {
	shutdownTracing, err := telemetry.Setup(ctx, "chatrelay", cfg.OTELEndpoint)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("db connect: %w", err)
	}
	if migrate {
		if err := db.Migrate(gdb); err != nil {
			return fmt.Errorf("db migrate: %w", err)
		}
	}
	st := store.New(gdb)

	bridge, dir, err := backplane(cfg)
	if err != nil {
		return err
	}
	defer bridge.Close()

	pub := fanout.NewPublisher(bridge, fanout.DefaultBackoff)
	reg := session.NewRegistry(bridge, st)
	defer reg.Close()
	calls := call.NewCoordinator(st, pub, turn.NewIssuer(cfg.TURNSecret, cfg.TURNServer, cfg.TURNTTL()), call.Options{RingTimeout: cfg.RingTimeout()})
	defer calls.Close()
	msgs := service.NewMessageService(st, pub, reg)
	receipts := receipt.NewTracker(st, pub)
	pres := presence.NewTracker(cfg.NodeID, dir, reg, st, bridge)

	httpLimit := mw.NewRateLimiter(rate.Every(time.Second/20), 40, 10*time.Minute)
	wsLimit := mw.NewRateLimiter(rate.Every(time.Second/30), 60, 10*time.Minute)
	httpLimit.Start()
	wsLimit.Start()
	defer httpLimit.Stop()
	defer wsLimit.Stop()

	hub := ws.NewHub(ws.Deps{
		Registry:  reg,
		Presence:  pres,
		Receipts:  receipts,
		Calls:     calls,
		Typing:    msgs,
		Limiter:   wsLimit,
		JWTSecret: cfg.JWTSecret,
	})
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.SetupRouter(cfg, server.NewHandler(calls, msgs, receipts, pres), hub, httpLimit),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Str("node", cfg.NodeID).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server run: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return pres.Run(gctx, cfg.PresenceNodeTTL()/3)
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info().Msg("shutting down")
		err := srv.Shutdown(sctx)
		// hijacked websocket connections outlive Shutdown; withdraw this
		// node's presence so other nodes stop counting them
		if derr := pres.Drain(sctx); derr != nil {
			log.Error().Err(derr).Msg("presence drain")
		}
		return err
	})
	return g.Wait()
}
