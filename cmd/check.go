package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/fetchrig/internal/camera"
	"github.com/smazurov/fetchrig/internal/config"
	"github.com/smazurov/fetchrig/internal/ffmpeg"
	"github.com/smazurov/fetchrig/internal/logging"
	"github.com/spf13/cobra"
)

// errCheckFailed is returned when any precondition fails. Details are
// already printed by then.
var errCheckFailed = errors.New("preflight check failed")

// CreateCheckCmd creates the check command.
func CreateCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the rig can start",
		Long: `Loads the configuration and verifies the startup preconditions without opening the cameras: ` +
			`the configuration is valid, exactly two cameras are present and ffmpeg offers the configured encoder.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := config.DefaultPath()
			if f := cmd.Flag("config"); f != nil && f.Value.String() != "" {
				path = f.Value.String()
			}
			out := cmd.OutOrStdout()
			logger := logging.GetLogger("check")
			failed := false
			report := func(name string, err error) {
				if err != nil {
					failed = true
					fmt.Fprintf(out, "FAIL  %-14s %v\n", name, err)
					return
				}
				fmt.Fprintf(out, "ok    %s\n", name)
			}

			rigConfig, err := config.LoadRig(path)
			if err == nil {
				err = rigConfig.Validate(logger)
			}
			report("configuration", err)
			if err != nil {
				return errCheckFailed
			}

			drivers, err := camera.Discover(rigConfig.Camera, logger)
			if err == nil && len(drivers) != camera.Count {
				err = fmt.Errorf("%w: %d detected, exactly %d required", camera.ErrCameraCount, len(drivers), camera.Count)
			}
			report("cameras", err)
			for i, d := range drivers {
				fmt.Fprintf(out, "      camera %d: %s (%s)\n", i, d.Info().Name, d.Info().Path)
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			encoders, err := ffmpeg.ListVideoEncoders(ctx, rigConfig.Encoder.Binary)
			if err == nil && !ffmpeg.HasEncoder(encoders, rigConfig.Encoder.Codec) {
				err = fmt.Errorf("%s does not offer %s", rigConfig.Encoder.Binary, rigConfig.Encoder.Codec)
			}
			report("encoder", err)

			if rigConfig.Session.Subject == "" {
				fmt.Fprintln(out, "note  no session.subject set, pass --subject when starting")
			}

			if failed {
				return errCheckFailed
			}
			return nil
		},
	}
	return cmd
}
