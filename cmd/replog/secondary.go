package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	internalhttp "replog/internal/http"
	"replog/pkg/config"
	"replog/pkg/membership"
	"replog/pkg/metrics"
	"replog/pkg/rpc"
	"replog/pkg/secondary"
	"replog/pkg/types"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const registrationAttemptTimeout = 5 * time.Second

func newSecondaryCmd(flags *rootFlags) *cobra.Command {
	var (
		masterURL string
		selfURL   string
		delay     time.Duration
		errorRate float64
	)

	cmd := &cobra.Command{
		Use:   "secondary",
		Short: "Run a secondary node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("master") {
				cfg.Secondary.MasterURL = masterURL
			}
			if cmd.Flags().Changed("advertise") {
				cfg.Secondary.AdvertiseURL = selfURL
			}
			if cmd.Flags().Changed("delay") {
				cfg.Secondary.ReplicationDelay = delay
			}
			if cmd.Flags().Changed("error-rate") {
				cfg.Secondary.ErrorRate = errorRate
			}
			if cfg.Secondary.AdvertiseURL == "" {
				cfg.Secondary.AdvertiseURL = fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger := initLogger(&cfg)
			return runSecondary(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringVar(&masterURL, "master", "", "master URL to register with (overrides MASTER_URL)")
	cmd.Flags().StringVar(&selfURL, "advertise", "", "URL the master should use for this node (overrides SECONDARY_URL)")
	cmd.Flags().DurationVar(&delay, "delay", 0, "artificial delay before every apply (overrides REPLICATION_DELAY)")
	cmd.Flags().Float64Var(&errorRate, "error-rate", 0, "probability of a simulated 500 after apply (overrides ERROR_RATE)")
	return cmd
}

func runSecondary(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	id := types.NodeID(cfg.Secondary.ID)

	reg := newRegistry()
	m := metrics.NewSecondary()
	reg.MustRegister(m.Collectors()...)

	applier := secondary.New(secondary.Options{
		ID:      id,
		Delay:   cfg.Secondary.ReplicationDelay,
		Logger:  logger,
		Metrics: m,
	})

	srv := internalhttp.NewSecondaryServer(applier, cfg.Secondary.ErrorRate, m, internalhttp.Options{
		Port:              strconv.Itoa(cfg.Server.Port),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Gatherer:          reg,
		Logger:            logger,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("secondary started",
		"id", id,
		"port", cfg.Server.Port,
		"advertise", cfg.Secondary.AdvertiseURL,
		"delay", cfg.Secondary.ReplicationDelay,
		"error_rate", cfg.Secondary.ErrorRate,
	)

	var zkm *membership.ZKMembership
	if len(cfg.Membership.ZKServers) > 0 {
		var err error
		zkm, err = membership.NewZKMembership(cfg.Membership.ZKServers, cfg.Membership.Root, cfg.Membership.SessionTimeout, logger)
		if err != nil {
			_ = srv.Stop()
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Secondary.MasterURL != "" {
		g.Go(func() error {
			return registerWithMaster(gctx, cfg.Secondary.MasterURL, cfg.Secondary.AdvertiseURL, logger)
		})
	}
	if zkm != nil {
		g.Go(func() error {
			return zkm.Announce(gctx, id, cfg.Secondary.AdvertiseURL)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	runErr := g.Wait()

	logger.Info("secondary shutting down", "messages", applier.Status().MessageCount)
	return shutdown(cfg.Server.ShutdownTimeout, runErr,
		func(context.Context) error { return srv.Stop() },
		func(context.Context) error {
			if zkm == nil {
				return nil
			}
			return zkm.Close()
		},
	)
}

// registerWithMaster retries until the master accepts the registration or
// ctx is done. The server is already serving, so the master can start the
// catch-up right away.
func registerWithMaster(ctx context.Context, masterURL, selfURL string, logger *slog.Logger) error {
	client, err := rpc.NewMasterClient(masterURL, nil)
	if err != nil {
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 10 * time.Second
	b.MaxElapsedTime = 0

	attempt := func() (rpc.RegisterResponse, error) {
		actx, cancel := context.WithTimeout(ctx, registrationAttemptTimeout)
		defer cancel()
		resp, err := client.RegisterSecondary(actx, selfURL)
		if errors.Is(err, rpc.ErrBadRequest) {
			return resp, backoff.Permanent(err)
		}
		return resp, err
	}
	notify := func(err error, next time.Duration) {
		logger.Warn("registration with master failed", "master", masterURL, "retry_in", next, "error", err)
	}

	resp, err := backoff.RetryNotifyWithData(attempt, backoff.WithContext(b, ctx), notify)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("register with master: %w", err)
	}
	logger.Info("registered with master", "master", masterURL, "status", resp.Status, "total_secondaries", resp.TotalSecondaries)
	return nil
}
