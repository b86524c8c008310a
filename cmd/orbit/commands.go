package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/orbit/internal/service"
	"github.com/ajitpratap0/orbit/pkg/models"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file without starting anything",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("Configuration OK: %d connectors, %d schedules, store %q, canonical %q\n",
				len(cfg.Connectors), len(cfg.Schedules), cfg.Store.Driver, cfg.Canonical.Driver)
			return nil
		},
	}
}

func newConnectorsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connectors",
		Short: "List configured connectors and available families",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			connectors := append([]models.ConnectorDescriptor(nil), cfg.Connectors...)
			sort.Slice(connectors, func(i, j int) bool { return connectors[i].ID < connectors[j].ID })

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tFAMILY\tACTIVE\tCATEGORIES")
			for _, c := range connectors {
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", c.ID, c.Family, c.Active, strings.Join(c.Categories, ","))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			fmt.Println("\nAvailable connector families:")
			for _, family := range service.DefaultFamilies() {
				fmt.Printf("  - %s\n", family)
			}
			return nil
		},
	}
}

func newArchiveCmd() *cobra.Command {
	var period string
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Export terminal jobs of a trailing period to object storage",
		Long: `Export the terminal sync jobs of the last day, week, month or year as
zstd-compressed JSON lines to the configured S3 bucket.

Example:
  orbit archive --config orbit.yaml --period week`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup()
			if err != nil {
				return err
			}
			ctx := context.Background()
			app, err := service.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = app.Close() }()

			res, err := app.Service.Archive(ctx, models.Period(period))
			if err != nil {
				return err
			}
			fmt.Printf("Archived %d jobs (%d bytes) to s3://%s/%s\n", res.Jobs, res.Bytes, res.Bucket, res.Key)
			return nil
		},
	}
	cmd.Flags().StringVar(&period, "period", string(models.PeriodDay), "Trailing period to export (day, week, month, year)")
	return cmd
}
