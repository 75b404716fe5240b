package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	appcfg "github.com/ca-srg/slackvote/internal/config"
	"github.com/ca-srg/slackvote/internal/observability"
	"github.com/ca-srg/slackvote/internal/server"
	"github.com/ca-srg/slackvote/internal/slackbot"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Slack events webhook",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := appcfg.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		// Flags override the environment
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serveHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = servePort
		}
		logger := log.New(os.Stdout, "slackvote ", log.LstdFlags)

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		shutdownTelemetry, err := observability.Init(ctx, cfg.OTel)
		if err != nil {
			return fmt.Errorf("failed to initialize observability: %w", err)
		}
		defer func() {
			if err := shutdownTelemetry(context.Background()); err != nil {
				logger.Printf("observability shutdown: %v", err)
			}
		}()

		handler, err := slackbot.NewHandler(newSlackClient(cfg.Slack), cfg.Slack, log.New(os.Stdout, "slackbot ", log.LstdFlags))
		if err != nil {
			return err
		}
		handler.SetErrorReporter(&slackbot.LogReporter{Logger: logger})
		if cfg.Slack.RateLimited() {
			handler.SetRateLimiter(slackbot.NewRateLimiter(
				cfg.Slack.RateUserPerMinute,
				cfg.Slack.RateChannelPerMinute,
				cfg.Slack.RateGlobalPerMinute,
			))
		}
		if cfg.Slack.BotUserID == "" {
			logger.Printf("BOT_USER_ID is not set; only bot_message subtypes are filtered (run `slackvote whoami` to find it)")
		}
		if !cfg.Slack.VerifySignatures() {
			logger.Printf("SLACK_SIGNING_SECRET is not set; inbound requests are not authenticated")
		}

		srv, err := server.New(cfg.Server, handler, logger)
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Run(gctx)
		})
		g.Go(func() error {
			<-gctx.Done()
			m := handler.Metrics()
			logger.Printf("event=shutdown events=%d polls=%d notices=%d errors=%d",
				m.Events.Load(), m.Polls.Load(), m.Notices.Load(), m.Errors.Load())
			return nil
		})

		logger.Printf("Starting slackvote (addr=%s)...", cfg.Server.Addr())
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (overrides SERVER_HOST)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (overrides PORT)")
}
