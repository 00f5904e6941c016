package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "cliaas",
		Short: "cliaas - helpdesk sync engine",
		Long: `cliaas pulls tickets and conversations from helpdesk vendors
(Zendesk, Freshdesk, Groove, HelpCrunch, Intercom, Help Scout, Zoho Desk,
HubSpot, Kayako, Front) and keeps a normalized copy up to date.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			a.close()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to configuration file (default ./cliaas.yaml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newVersionCommand(),
		newConnectorsCommand(a),
		newSyncCommand(a),
		newConfigCommand(a),
		newExportCommand(a),
	)
	return root
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "version",
		Short:       "Show version information",
		Annotations: map[string]string{skipConfig: "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cliaas v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
