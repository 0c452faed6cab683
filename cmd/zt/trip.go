package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"zt-go/internal/model"
	"zt-go/internal/zt"

	"github.com/spf13/cobra"
)

// trip command
var tripCmd = &cobra.Command{
	Use:   "trip",
	Short: "Manage trips",
}

var tripAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a trip",
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := tripInputFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := newApp("TripAdd")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Begin(fmt.Sprintf("%s %s..%s", in.Country, in.StartDate, in.EndDate)); err != nil {
			return err
		}
		t, err := a.Service().AddTrip(in)
		if err != nil {
			a.Fail(err)
			return err
		}

		fmt.Printf("Added trip %s: %s %s..%s (%d days)\n", t.LocalID, t.Country, t.StartDate, t.EndDate, t.Duration())
		return nil
	},
}

var tripListCmd = &cobra.Command{
	Use:   "list",
	Short: "List trips",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("TripList")
		if err != nil {
			return err
		}
		defer a.Close()

		trips, err := a.Service().ListTrips()
		if err != nil {
			return err
		}
		if len(trips) == 0 {
			fmt.Println("No trips recorded.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTART\tEND\tDAYS\tCOUNTRY\tCATEGORY\tSYNC\tNOTES")
		for _, t := range trips {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
				t.LocalID, t.StartDate, t.EndDate, t.Duration(), t.Country, t.Category, t.SyncStatus, t.Notes)
		}
		return w.Flush()
	},
}

var tripEditCmd = &cobra.Command{
	Use:   "edit LOCAL_ID",
	Short: "Change a trip",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		edit, err := tripEditFromFlags(cmd)
		if err != nil {
			return err
		}

		a, err := newApp("TripEdit")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Begin(args[0]); err != nil {
			return err
		}
		t, err := a.Service().EditTrip(args[0], edit)
		if err != nil {
			a.Fail(err)
			return err
		}

		fmt.Printf("Updated trip %s: %s %s..%s\n", t.LocalID, t.Country, t.StartDate, t.EndDate)
		return nil
	},
}

var tripRemoveCmd = &cobra.Command{
	Use:     "rm LOCAL_ID",
	Aliases: []string{"remove"},
	Short:   "Delete a trip",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("TripRemove")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Begin(args[0]); err != nil {
			return err
		}
		if err := a.Service().RemoveTrip(args[0]); err != nil {
			a.Fail(err)
			return err
		}

		fmt.Printf("Removed trip %s\n", args[0])
		return nil
	},
}

func tripInputFromFlags(cmd *cobra.Command) (zt.TripInput, error) {
	var in zt.TripInput

	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")
	country, _ := cmd.Flags().GetString("country")
	category, _ := cmd.Flags().GetString("category")
	notes, _ := cmd.Flags().GetString("notes")

	var err error
	if in.StartDate, err = model.ParseDate(start); err != nil {
		return in, fmt.Errorf("--start: %w", err)
	}
	in.EndDate = in.StartDate
	if end != "" {
		if in.EndDate, err = model.ParseDate(end); err != nil {
			return in, fmt.Errorf("--end: %w", err)
		}
	}
	if category != "" {
		if in.Category, err = model.ParseCategory(category); err != nil {
			return in, err
		}
	}
	in.Country = strings.ToUpper(country)
	in.Notes = notes
	in.LocationSource = model.SourceManual
	return in, nil
}

func tripEditFromFlags(cmd *cobra.Command) (zt.TripEdit, error) {
	var edit zt.TripEdit
	flags := cmd.Flags()

	if flags.Changed("start") {
		s, _ := flags.GetString("start")
		d, err := model.ParseDate(s)
		if err != nil {
			return edit, fmt.Errorf("--start: %w", err)
		}
		edit.StartDate = &d
	}
	if flags.Changed("end") {
		s, _ := flags.GetString("end")
		d, err := model.ParseDate(s)
		if err != nil {
			return edit, fmt.Errorf("--end: %w", err)
		}
		edit.EndDate = &d
	}
	if flags.Changed("country") {
		s, _ := flags.GetString("country")
		s = strings.ToUpper(s)
		edit.Country = &s
	}
	if flags.Changed("category") {
		s, _ := flags.GetString("category")
		c, err := model.ParseCategory(s)
		if err != nil {
			return edit, err
		}
		edit.Category = &c
	}
	if flags.Changed("notes") {
		s, _ := flags.GetString("notes")
		edit.Notes = &s
	}
	edit.ClearLocation, _ = flags.GetBool("clear-location")
	return edit, nil
}

func init() {
	tripAddCmd.Flags().String("start", "", "First day of the trip (YYYY-MM-DD)")
	tripAddCmd.Flags().String("end", "", "Last day of the trip, defaults to --start")
	tripAddCmd.Flags().String("country", "", "ISO 3166-1 alpha-2 country code")
	tripAddCmd.Flags().String("category", "", "schengen, non_schengen, home or transit")
	tripAddCmd.Flags().String("notes", "", "Free-form notes")
	tripAddCmd.MarkFlagRequired("start")
	tripAddCmd.MarkFlagRequired("country")

	tripEditCmd.Flags().String("start", "", "New first day")
	tripEditCmd.Flags().String("end", "", "New last day")
	tripEditCmd.Flags().String("country", "", "New country code")
	tripEditCmd.Flags().String("category", "", "New category")
	tripEditCmd.Flags().String("notes", "", "New notes")
	tripEditCmd.Flags().Bool("clear-location", false, "Drop the recorded coordinates")

	tripCmd.AddCommand(tripAddCmd)
	tripCmd.AddCommand(tripListCmd)
	tripCmd.AddCommand(tripEditCmd)
	tripCmd.AddCommand(tripRemoveCmd)
	rootCmd.AddCommand(tripCmd)
}
