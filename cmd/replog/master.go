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
	"replog/pkg/replication"
	"replog/pkg/rpc"
	"replog/pkg/types"

	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newMasterCmd(flags *rootFlags) *cobra.Command {
	var secondaries []string

	cmd := &cobra.Command{
		Use:   "master",
		Short: "Run the master node",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			if len(secondaries) > 0 {
				cfg.Master.Secondaries = secondaries
			}
			logger := initLogger(&cfg)
			return runMaster(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().StringSliceVar(&secondaries, "secondary", nil, "secondary base URL, repeatable (overrides SECONDARIES)")
	return cmd
}

func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func runMaster(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	reg := newRegistry()
	m := metrics.NewMaster()
	reg.MustRegister(m.Collectors()...)

	coord := replication.New(rpc.Factory(nil), replication.Options{
		ID:             types.NodeID(cfg.Master.ID),
		Timeout:        cfg.Master.WriteConcernTimeout,
		RequestTimeout: cfg.Master.RequestTimeout,
		RetryInitial:   cfg.Master.RetryInitial,
		RetryMax:       cfg.Master.RetryMax,
		Logger:         logger,
		Metrics:        m,
	})
	for _, s := range cfg.Master.Secondaries {
		if err := coord.RegisterSecondary(s); err != nil && !errors.Is(err, replication.ErrDuplicateSecondary) {
			return fmt.Errorf("register secondary %s: %w", s, err)
		}
	}

	var zkm *membership.ZKMembership
	if len(cfg.Membership.ZKServers) > 0 {
		var err error
		zkm, err = membership.NewZKMembership(cfg.Membership.ZKServers, cfg.Membership.Root, cfg.Membership.SessionTimeout, logger)
		if err != nil {
			return err
		}
	}

	srv := internalhttp.NewMasterServer(types.NodeID(cfg.Master.ID), coord, internalhttp.Options{
		Port:              strconv.Itoa(cfg.Server.Port),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ShutdownTimeout:   cfg.Server.ShutdownTimeout,
		Gatherer:          reg,
		Logger:            logger,
	})
	if err := srv.Start(); err != nil {
		return err
	}
	logger.Info("master started",
		"id", cfg.Master.ID,
		"port", cfg.Server.Port,
		"secondaries", coord.Secondaries(),
		"write_concern_timeout", cfg.Master.WriteConcernTimeout,
	)

	g, gctx := errgroup.WithContext(ctx)
	if zkm != nil {
		g.Go(func() error { return zkm.Watch(gctx, coord) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	runErr := g.Wait()

	logger.Info("master shutting down")
	return shutdown(cfg.Server.ShutdownTimeout, runErr,
		func(context.Context) error { return srv.Stop() },
		coord.Close,
		func(context.Context) error {
			if zkm == nil {
				return nil
			}
			return zkm.Close()
		},
	)
}

// shutdown runs every step even if earlier ones fail; all steps share one
// deadline.
func shutdown(timeout time.Duration, runErr error, steps ...func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var result *multierror.Error
	if runErr != nil {
		result = multierror.Append(result, runErr)
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
