package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/Sponsorn/mythic-tournament/internal/domain/model"
)

func (c *cli) teamsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teams",
		Short: "Manage the roster",
	}
	cmd.AddCommand(c.teamsListCmd(), c.teamsAddCmd(), c.teamsSlotCmd())
	return cmd
}

func (c *cli) teamsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List teams by slot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			teams, err := store.Teams(cmd.Context())
			if err != nil {
				return err
			}
			if len(teams) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no teams")
				return nil
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLOT\tTEAM\tBRACKET\tLEADER\tREPORT\tBACKUP")
			for _, t := range teams {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", t.Slot, t.Name, t.Bracket, t.Leader, t.ReportURL, t.BackupURL)
			}
			return tw.Flush()
		},
	}
}

func (c *cli) teamsAddCmd() *cobra.Command {
	var t model.Team
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Create or update a team",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.UpsertTeam(cmd.Context(), t)
			if err != nil {
				return err
			}
			printSlotResult(cmd, res)
			return nil
		},
	}
	cmd.Flags().StringVar(&t.Name, "name", "", "team name")
	cmd.Flags().StringVar(&t.Leader, "leader", "", "team leader")
	cmd.Flags().StringVar(&t.ReportURL, "report", "", "primary report url or code")
	cmd.Flags().StringVar(&t.BackupURL, "backup", "", "backup report url or code")
	cmd.Flags().StringVar(&t.Bracket, "bracket", "A", "bracket A-D")
	cmd.Flags().IntVar(&t.Slot, "slot", 0, "display slot (0 picks the lowest free)")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func (c *cli) teamsSlotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "slot <team> <n>",
		Short: "Move a team to another display slot",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("slot %q is not a number", args[1])
			}
			store, err := c.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()

			res, err := store.SetSlot(cmd.Context(), args[0], n)
			if err != nil {
				return err
			}
			printSlotResult(cmd, res)
			return nil
		},
	}
}

func printSlotResult(cmd *cobra.Command, res model.SlotResult) {
	out := cmd.OutOrStdout()
	if res.Status == model.StatusConflict {
		color.New(color.FgYellow).Fprintf(out, "slot %d is held by %s; %s got slot %d\n",
			res.Requested, res.ConflictWith, res.Team.Name, res.Team.Slot)
		return
	}
	color.New(color.FgGreen).Fprintf(out, "%s %s (slot %d, bracket %s)\n",
		res.Status, res.Team.Name, res.Team.Slot, res.Team.Bracket)
}
