package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/smazurov/fetchrig/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the devices command.
func CreateDevicesCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 capture devices",
		Long: `Enumerates the V4L2 capture devices on this machine. The stable ID column can be used ` +
			`in camera.devices to pin the camera order.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			found, err := v4l2.FindDevices()
			if err != nil {
				return fmt.Errorf("enumerate devices: %w", err)
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(found)
			}

			if len(found) == 0 {
				fmt.Fprintln(os.Stderr, "No capture devices found")
				return nil
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "PATH\tNAME\tSTABLE ID")
			for _, d := range found {
				fmt.Fprintf(w, "%s\t%s\t%s\n", d.DevicePath, d.DeviceName, d.DeviceID)
			}
			return w.Flush()
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Print devices as JSON")
	return cmd
}
