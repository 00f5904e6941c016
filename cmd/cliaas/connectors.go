package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/discordwell/cliaas/pkg/connector/registry"
)

func newConnectorsCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connectors",
		Short: "Inspect supported helpdesk connectors",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List supported connectors and their credential keys",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg := a.registry()
			configured := make(map[string]bool)
			for _, name := range a.cfg.ConfiguredConnectors() {
				configured[name] = true
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "CONNECTOR\tNAME\tCREDENTIALS\tCONFIGURED")
			for _, s := range reg.Sources() {
				v, _ := reg.Variant(s)
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", s, v.DisplayName, strings.Join(reg.RequiredKeys(s), ","), configured[string(s)])
			}
			return w.Flush()
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "check <connector>",
		Short: "Verify a connector's credentials are complete",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			creds, err := a.cfg.Credentials(args[0])
			if err != nil {
				return err
			}
			s, err := a.registry().Validate(args[0], registry.Credentials(creds))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: credentials complete\n", s)
			return nil
		},
	})
	return cmd
}
