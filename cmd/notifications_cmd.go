package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "notifications [on|off|status]",
		Short:     "Turn desktop notifications on or off",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"on", "off", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			action := "status"
			if len(args) == 1 {
				action = args[0]
			}
			switch action {
			case "on":
				a.Prefs.SetNotificationsDisabled(ctx, false)
			case "off":
				a.Prefs.SetNotificationsDisabled(ctx, true)
			case "status":
			default:
				return fail("unknown action %q (want on, off or status)", action)
			}

			state := "on"
			if a.Prefs.NotificationsDisabled(ctx) {
				state = "off"
			}
			fmt.Printf("Notifications are %s.\n", state)
			return nil
		},
	}
	return cmd
}
