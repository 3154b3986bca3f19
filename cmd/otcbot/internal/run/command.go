package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/opentelekomcloud/otcbot/cmd/otcbot/internal"
	"github.com/opentelekomcloud/otcbot/pkg/agent"
	"github.com/opentelekomcloud/otcbot/pkg/bus"
	"github.com/opentelekomcloud/otcbot/pkg/channels"
	"github.com/opentelekomcloud/otcbot/pkg/config"
	"github.com/opentelekomcloud/otcbot/pkg/invite"
	"github.com/opentelekomcloud/otcbot/pkg/logger"
	"github.com/opentelekomcloud/otcbot/pkg/metrics"
	"github.com/opentelekomcloud/otcbot/pkg/ratelimit"
	"github.com/opentelekomcloud/otcbot/pkg/registry"
	"github.com/opentelekomcloud/otcbot/pkg/router"
)

const limiterCleanupInterval = 10 * time.Minute

func NewRunCommand() *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect to Matrix and serve commands",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runCmd(debug)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")

	return cmd
}

func runCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := internal.SetupLogging(cfg, debug); err != nil {
		return err
	}
	defer logger.DisableFileLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoCF("otcbot", "Starting", map[string]any{
		"version":    internal.FormatVersion(),
		"homeserver": cfg.Matrix.Homeserver,
		"images":     len(cfg.Images()),
	})

	return Run(ctx, cfg)
}

// Run wires the bot together and blocks until ctx is cancelled or the
// transport fails.
func Run(ctx context.Context, cfg *config.Config) error {
	m := metrics.New()
	msgBus := bus.NewMessageBus()

	matrix, err := channels.NewMatrixChannel(cfg.Matrix, msgBus)
	if err != nil {
		return err
	}

	store, err := channels.OpenSyncStore(ctx, cfg.StoreDir())
	if err != nil {
		return err
	}
	defer store.Close()
	matrix.SetSyncStore(store)

	if err := matrix.Login(ctx); err != nil {
		return err
	}

	joiner := invite.NewJoiner(matrix.UserID(), matrix, invite.Options{
		LeaveOnAbandon: cfg.Matrix.LeaveOnAbandon,
		Metrics:        m,
	})
	importer := registry.NewImporter(cfg.Images(), matrix, registry.ProcessExecutor{}, registry.Options{
		Path:    cfg.Skopeo.Path,
		Timeout: cfg.Skopeo.Timeout,
		Metrics: m,
	})
	limiter := ratelimit.NewLimiter(ratelimit.Config{PerMinute: cfg.RateLimit.CommandsPerMinute})
	rt := router.New(matrix, importer, router.Options{
		AllowFrom: cfg.Matrix.AllowFrom,
		Limiter:   limiter,
		Metrics:   m,
	})

	loop := agent.NewAgentLoop(msgBus, NewHandlers(cfg.Matrix.JoinOnInvite, joiner, rt), agent.Options{Metrics: m})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return matrix.Run(gctx) })
	g.Go(func() error { return loop.Run(gctx) })
	g.Go(func() error {
		cleanupLimiter(gctx, limiter)
		return nil
	})
	if cfg.Metrics.Listen != "" {
		logger.InfoCF("otcbot", "Serving metrics", map[string]any{"listen": cfg.Metrics.Listen})
		g.Go(func() error { return m.Serve(gctx, cfg.Metrics.Listen) })
	}

	err = g.Wait()
	msgBus.Close()
	joiner.Wait()

	logger.InfoC("otcbot", "Stopped")
	return err
}

// NewHandlers builds the agent dispatch table.
func NewHandlers(joinOnInvite bool, joiner *invite.Joiner, rt *router.Router) agent.Handlers {
	return agent.Handlers{
		bus.EventMessage: rt.HandleMessage,
		bus.EventInvite: func(ctx context.Context, evt bus.Event) error {
			if !joinOnInvite {
				logger.DebugCF("otcbot", "Ignoring invite, join_on_invite is off", map[string]any{
					"room_id": evt.RoomID,
				})
				return nil
			}
			joiner.HandleInvite(ctx, evt.RoomID, evt.Target)
			return nil
		},
	}
}

func cleanupLimiter(ctx context.Context, limiter *ratelimit.Limiter) {
	ticker := time.NewTicker(limiterCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			limiter.Cleanup(limiterCleanupInterval)
		}
	}
}
