package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/confidant/internal/export"
)

var (
	exportEmail string
	exportOut   string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write a user's check-ins to an XLSX workbook",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

func init() {
	exportCmd.Flags().StringVar(&exportEmail, "email", "", "Account email (required)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "Output path (default checkins-YYYYMMDD.xlsx)")
	_ = exportCmd.MarkFlagRequired("email")
}

func runExport(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, user, err := openUser(cmd.Context(), cfg, exportEmail)
	if err != nil {
		return err
	}
	defer st.Close()

	checkins, err := st.RecentCheckins(cmd.Context(), user.ID, 0)
	if err != nil {
		return fmt.Errorf("load check-ins: %w", err)
	}

	loc := cfg.Location()
	path := exportOut
	if path == "" {
		path = export.Filename(time.Now().In(loc))
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := export.WriteCheckins(f, checkins, loc); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d check-in(s) to %s\n", len(checkins), path)
	return nil
}
