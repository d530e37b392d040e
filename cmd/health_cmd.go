package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func healthCmd() *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the backend services are reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			statuses := a.Health.CheckAll(ctx)

			ok, bad := color.New(color.FgGreen).SprintFunc(), color.New(color.FgRed).SprintFunc()
			tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "SERVICE\tSTATUS\tDETAIL\n")
			unhealthy := 0
			for _, st := range statuses {
				state := ok("up")
				detail := st.Detail
				if !st.Healthy {
					unhealthy++
					state = bad("down")
					if st.Err != nil {
						detail = st.Err.Error()
					}
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", st.Service, state, truncate(detail, 60))
			}
			tw.Flush()

			if unhealthy > 0 {
				return fail("%d of %d services unavailable", unhealthy, len(statuses))
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall check timeout")
	return cmd
}
