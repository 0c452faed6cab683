package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"zt-go/internal/compliance"
	"zt-go/internal/model"

	"github.com/spf13/cobra"
)

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show days used and remaining in the rolling window",
	RunE: func(cmd *cobra.Command, args []string) error {
		var ref *model.Date
		if s, _ := cmd.Flags().GetString("date"); s != "" {
			d, err := model.ParseDate(s)
			if err != nil {
				return fmt.Errorf("--date: %w", err)
			}
			ref = &d
		}

		a, err := newApp("Status")
		if err != nil {
			return err
		}
		defer a.Close()

		snap, err := a.Service().Status(ref)
		if err != nil {
			return err
		}
		pending, err := a.Service().PendingCount()
		if err != nil {
			return err
		}

		printSnapshot(snap)
		fmt.Printf("Pending sync:   %d\n", pending)
		return nil
	},
}

func printSnapshot(snap *compliance.Snapshot) {
	fmt.Printf("Window:         %s .. %s\n", snap.WindowStart, snap.WindowEnd)
	fmt.Printf("Days used:      %d\n", snap.DaysUsed)
	fmt.Printf("Days remaining: %d\n", snap.DaysRemaining)
	fmt.Printf("Status:         %s\n", snap.Status)
	if snap.LastVerified.IsZero() {
		fmt.Println("Last verified:  never")
	} else {
		fmt.Printf("Last verified:  %s\n", snap.LastVerified.Local().Format("2006-01-02 15:04"))
	}

	if len(snap.RecentTrips) > 0 {
		fmt.Println()
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "START\tEND\tCOUNTRY\tDAYS IN WINDOW")
		for _, rt := range snap.RecentTrips {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\n", rt.Trip.StartDate, rt.Trip.EndDate, rt.Trip.Country, rt.Duration)
		}
		w.Flush()
	}
	for _, an := range snap.Anomalies {
		fmt.Printf("warning: %s\n", an)
	}
}

// verify command
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Cross-check local state with the authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Verify")
		if err != nil {
			return err
		}
		defer a.Close()

		v, err := a.Service().Verify(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Printf("Local:  %d used, %d remaining (%s)\n", v.Local.DaysUsed, v.Local.DaysRemaining, v.Local.Status)
		fmt.Printf("Server: %d used, %d remaining (%s)\n", v.Server.DaysUsed, v.Server.DaysRemaining, v.Server.Status)
		if v.Pending > 0 {
			fmt.Printf("%d change(s) not yet synced\n", v.Pending)
		}
		for _, d := range v.Differences {
			fmt.Printf("difference: %s\n", d)
		}
		for _, id := range v.MissingRemote {
			fmt.Printf("missing on server: %s\n", id)
		}
		for _, id := range v.MissingLocal {
			fmt.Printf("missing locally: %s\n", id)
		}

		if !v.Consistent() {
			return fmt.Errorf("local and server state disagree")
		}
		fmt.Println("Consistent.")
		return nil
	},
}

func init() {
	statusCmd.Flags().String("date", "", "Evaluate as of this date (YYYY-MM-DD), defaults to today")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
}
