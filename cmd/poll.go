package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	service "github.com/Sponsorn/mythic-tournament/internal/app"
)

var (
	failStyle = color.New(color.FgRed)
	infoStyle = color.New(color.Faint)
	runStyle  = color.New(color.FgGreen, color.Bold)
)

func (c *cli) pollCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "poll",
		Short: "Run one ingestion pass and print its notices",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if !c.cfg.HasCredentials() {
				return fmt.Errorf("reporting API credentials are not configured")
			}
			svc := service.New(c.cfg)
			if err := svc.Open(ctx); err != nil {
				return err
			}
			defer svc.Stop()

			res, err := svc.CollectAndSync(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, n := range res.Notices {
				printNotice(out, n)
			}
			fmt.Fprintf(out, "new runs: %d\n", res.NewCount)
			return nil
		},
	}
}

func printNotice(w io.Writer, n string) {
	switch {
	case strings.HasPrefix(n, "[WCL] "):
		failStyle.Fprintln(w, n)
	case strings.HasPrefix(n, "[WCL Info]"):
		infoStyle.Fprintln(w, n)
	default:
		runStyle.Fprintln(w, n)
	}
}
