package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mediagenda/internal/report"
)

func exportCmd(opts *rootOptions) *cobra.Command {
	var (
		from, to string
		out      string
		tables   bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write an Excel report for a date range, or a dump of every table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, database, logger, err := bootstrap(opts)
			if err != nil {
				return err
			}
			defer database.Close()

			loc, err := cfg.Location()
			if err != nil {
				return fmt.Errorf("booking.timezone: %w", err)
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()

			if tables {
				if err := report.WriteTables(cmd.Context(), f, database); err != nil {
					return err
				}
				logger.Info().Str("file", out).Msg("tables exported")
				return nil
			}

			start, err := time.ParseInLocation("2006-01-02", from, loc)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			end, err := time.ParseInLocation("2006-01-02", to, loc)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}

			rep, err := report.NewService(database, loc).Build(cmd.Context(), start, end)
			if err != nil {
				return err
			}
			if err := report.WriteReport(f, rep); err != nil {
				return err
			}
			logger.Info().
				Str("file", out).
				Int("appointments", rep.Summary.Total).
				Msg("report exported")
			return nil
		},
	}

	today := time.Now().Format("2006-01-02")
	monthStart := time.Now().Format("2006-01") + "-01"
	cmd.Flags().StringVar(&from, "from", monthStart, "first day, YYYY-MM-DD")
	cmd.Flags().StringVar(&to, "to", today, "last day, YYYY-MM-DD")
	cmd.Flags().StringVarP(&out, "out", "o", "report.xlsx", "output file")
	cmd.Flags().BoolVar(&tables, "tables", false, "dump every table instead of the statistics report")
	return cmd
}
