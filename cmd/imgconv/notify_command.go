package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"imgconv/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification to the configured ntfy topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			decorated := isTerminal(out)
			err = notifications.Test(cmd.Context(), notifications.NewService(cfg))
			switch {
			case errors.Is(err, notifications.ErrDisabled):
				fmt.Fprintln(out, renderStatusLine("Notifications", statusWarn, "set notifications.ntfy_topic to enable", decorated))
				return nil
			case err != nil:
				fmt.Fprintln(out, renderStatusLine("Notifications", statusError, err.Error(), decorated))
				return err
			}
			fmt.Fprintln(out, renderStatusLine("Notifications", statusOK, "test notification sent to "+cfg.Notifications.NtfyTopic, decorated))
			return nil
		},
	}
}
