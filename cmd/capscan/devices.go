package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newDevicesCmd(root *rootOptions) *cobra.Command {
	var flagJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the cameras capscan can open",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(root.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			infos, err := a.devices.Devices(cmd.Context())
			if err != nil {
				return err
			}
			if flagJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tLABEL\tFACING\tSIZE\tIN USE")
			for _, d := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%dx%d\t%v\n", d.ID, d.Label, d.Facing, d.Width, d.Height, d.InUse)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&flagJSON, "json", false, "print JSON")
	return cmd
}
