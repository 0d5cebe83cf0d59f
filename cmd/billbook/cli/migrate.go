package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/billbook/billbook/internal/platform/db"
)

func newMigrateCommand() *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			if err := db.Migrate(cfg.PGDSN, down); err != nil {
				return err
			}
			logger.Info("migrations applied", slog.Bool("down", down))
			return nil
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "revert every migration instead of applying")
	return cmd
}
