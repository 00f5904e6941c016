package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/discordwell/cliaas/pkg/config"
	"github.com/discordwell/cliaas/pkg/errors"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage cliaas configuration",
	}

	var path string
	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a starter configuration file",
		Annotations: map[string]string{skipConfig: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(path); err == nil && !force {
				return errors.Newf(errors.ErrorTypeConfig, "%s already exists (use --force to overwrite)", path)
			}
			if err := config.Save(path, config.Template()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&path, "path", "p", config.DefaultFileName, "Where to write the file")
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := yaml.Marshal(redacted(a.cfg))
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(b)
			return err
		},
	}

	cmd.AddCommand(initCmd, showCmd)
	return cmd
}

// publicKeys are credential keys safe to print
var publicKeys = map[string]bool{
	"subdomain": true,
	"base_url":  true,
	"email":     true,
	"org_id":    true,
	"token_url": true,
}

// redacted copies cfg with credential values and store secrets masked
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	out.Connectors = make(map[string]map[string]string, len(cfg.Connectors))
	for name, creds := range cfg.Connectors {
		masked := make(map[string]string, len(creds))
		for k, v := range creds {
			if publicKeys[k] || v == "" {
				masked[k] = v
			} else {
				masked[k] = "****"
			}
		}
		out.Connectors[name] = masked
	}
	if out.Store.DSN != "" {
		out.Store.DSN = "****"
	}
	if out.Events.URL != "" {
		out.Events.URL = "****"
	}
	return &out
}
