package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/discordwell/cliaas/pkg/export"
)

func newExportCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export synced data",
	}

	var cfg export.Config
	var dir string
	s3Cmd := &cobra.Command{
		Use:   "s3 [connector...]",
		Short: "Upload a snapshot of the file store to S3",
		Long: `Upload every file under the store directory to S3, partitioned by
connector and snapshot date. With no arguments every connector directory
is exported.

Example:
  cliaas export s3 --bucket helpdesk-backups --prefix prod zendesk`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("bucket") {
				cfg.Bucket = a.cfg.Export.Bucket
			}
			if !cmd.Flags().Changed("prefix") {
				cfg.Prefix = a.cfg.Export.Prefix
			}
			if !cmd.Flags().Changed("region") {
				cfg.Region = a.cfg.Export.Region
			}
			if !cmd.Flags().Changed("endpoint") {
				cfg.Endpoint = a.cfg.Export.Endpoint
			}
			if !cmd.Flags().Changed("dir") {
				dir = a.cfg.Store.Dir
				if a.cfg.Sync.OutDir != "" {
					dir = a.cfg.Sync.OutDir
				}
			}

			exporter, err := export.NewS3Exporter(cmd.Context(), cfg, a.log)
			if err != nil {
				return err
			}
			res, err := exporter.ExportDir(cmd.Context(), dir, args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "uploaded %d objects (%d bytes) to s3://%s\n", len(res.Objects), res.Bytes(), cfg.Bucket)
			return nil
		},
	}
	s3Cmd.Flags().StringVar(&cfg.Bucket, "bucket", "", "Destination bucket")
	s3Cmd.Flags().StringVar(&cfg.Prefix, "prefix", "", "Key prefix")
	s3Cmd.Flags().StringVar(&cfg.Region, "region", "", "AWS region")
	s3Cmd.Flags().StringVar(&cfg.Endpoint, "endpoint", "", "Custom S3-compatible endpoint")
	s3Cmd.Flags().StringVar(&dir, "dir", "", "Store directory to export (default from config)")

	cmd.AddCommand(s3Cmd)
	return cmd
}
