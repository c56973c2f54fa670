package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/antoniostano/confidant/internal/config"
	"github.com/antoniostano/confidant/internal/domain"
	"github.com/antoniostano/confidant/internal/insights"
	"github.com/antoniostano/confidant/internal/progress"
	"github.com/antoniostano/confidant/internal/store"
)

var (
	progressEmail  string
	progressDays   int
	progressFormat string
)

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Print a user's mood and stress progress",
	Args:  cobra.NoArgs,
	RunE:  runProgress,
}

func init() {
	progressCmd.Flags().StringVar(&progressEmail, "email", "", "Account email (required)")
	progressCmd.Flags().IntVar(&progressDays, "days", 0, "Window in days (default PROGRESS_WINDOW_DAYS)")
	progressCmd.Flags().StringVar(&progressFormat, "format", "text", "Output format: text, json")
	_ = progressCmd.MarkFlagRequired("email")
}

// openUser opens the configured store and resolves an account by email.
func openUser(ctx context.Context, cfg config.Config, email string) (store.Store, domain.User, error) {
	st, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, domain.User{}, fmt.Errorf("store init failed: %w", err)
	}
	user, err := st.UserByEmail(ctx, email)
	if err != nil {
		_ = st.Close()
		return nil, domain.User{}, fmt.Errorf("lookup %s: %w", email, err)
	}
	return st, user, nil
}

func runProgress(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	st, user, err := openUser(cmd.Context(), cfg, progressEmail)
	if err != nil {
		return err
	}
	defer st.Close()

	days := cfg.ProgressWindowDays
	if progressDays > 0 {
		days = progressDays
	}
	svc := progress.NewService(st, nil, progress.Options{
		WindowDays: days,
		Location:   cfg.Location(),
		Logger:     logger.Named("progress"),
	})
	p, err := svc.Progress(cmd.Context(), user.ID)
	if err != nil {
		return err
	}
	logger.Debug("progress computed", zap.String("user_id", user.ID), zap.Int("days", days))

	switch progressFormat {
	case "json":
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(p)
	case "text":
		return writeProgressText(cmd.OutOrStdout(), user, p)
	default:
		return fmt.Errorf("unknown format %q (expected text|json)", progressFormat)
	}
}

func writeProgressText(out io.Writer, user domain.User, p insights.Progress) error {
	s := p.Statistics
	fmt.Fprintf(out, "%s <%s>\n", user.Name, user.Email)
	fmt.Fprintf(out, "check-ins: %d over %d day(s)\n", s.TotalCheckins, s.DaysTracked)
	fmt.Fprintf(out, "mood:   avg %.1f, %s\n", s.AverageMood, s.MoodTrend)
	fmt.Fprintf(out, "stress: avg %.1f, %s\n\n", s.AverageStress, s.StressTrend)

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DATE\tDAY\tMOOD\tSTRESS")
	for _, d := range p.ChartData {
		if !d.HasData {
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%.1f\t%.1f\n", d.Date, d.Day, *d.Mood, *d.Stress)
	}
	return tw.Flush()
}
