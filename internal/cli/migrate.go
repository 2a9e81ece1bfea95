package cli

import (
	"github.com/spf13/cobra"
	"github.com/talkincode/wagateway/internal/app"
	"go.uber.org/zap"
)

func newMigrateCmd() *cobra.Command {
	var track bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the gateway tables and the device store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			application := app.NewApplication(cfg)
			if err := application.Init(cmd.Context()); err != nil {
				return err
			}
			defer application.Release()
			if track {
				if err := application.MigrateDB(true); err != nil {
					return err
				}
			}
			zap.L().Info("migration complete")
			return nil
		},
	}

	cmd.Flags().BoolVar(&track, "track", false, "Log the migration statements")
	return cmd
}
