package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/talkincode/wagateway/internal/adminapi"
	"github.com/talkincode/wagateway/internal/app"
	"github.com/talkincode/wagateway/internal/webserver"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var resume bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and session controller",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cmd.Flags().Changed("resume") {
				cfg.Session.ResumeOnBoot = resume
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application := app.NewApplication(cfg)
			if err := application.Init(ctx); err != nil {
				return err
			}
			defer application.Release()

			webserver.Init(cfg)
			adminapi.Init(application.Sessions())

			if cfg.Session.ResumeOnBoot {
				application.ResumeSessions(ctx)
			}

			errCh := make(chan error, 1)
			go func() { errCh <- webserver.Listen() }()

			select {
			case err = <-errCh:
			case <-ctx.Done():
				zap.L().Info("shutting down")
			}
			if serr := webserver.Shutdown(10 * time.Second); serr != nil {
				zap.L().Warn("http shutdown", zap.Error(serr))
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&resume, "resume", false, "Restart instances that were connected at the last shutdown")
	return cmd
}
