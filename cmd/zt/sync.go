package main

import (
	"fmt"
	"runtime"

	"zt-go/internal/location"
	"zt-go/internal/model"
	"zt-go/internal/zt"

	"github.com/spf13/cobra"
)

// sync command
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending changes and pull server changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Sync")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Begin(""); err != nil {
			return err
		}
		out, err := a.Service().Sync(cmd.Context(), zt.SyncOptions{RetryFailed: true})
		if err != nil {
			a.Fail(err)
			return err
		}

		fmt.Printf("Pushed %d, acknowledged %d, rejected %d, applied %d from server\n",
			out.Pushed, out.Synced, out.Failed, out.Applied)
		if out.ReadingsSynced+out.ReadingsFailed > 0 {
			fmt.Printf("Readings: %d synced, %d failed\n", out.ReadingsSynced, out.ReadingsFailed)
		}
		if out.Conflicts > 0 {
			fmt.Printf("%d conflict(s) need attention: run `zt conflicts list`\n", out.Conflicts)
		}
		return nil
	},
}

// checkin command
var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Capture the current location now",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		manual := flags.Changed("lat") || flags.Changed("lng")
		if manual && !(flags.Changed("lat") && flags.Changed("lng")) {
			return fmt.Errorf("--lat and --lng must be given together")
		}

		a, err := newApp("CheckIn")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Begin(""); err != nil {
			return err
		}

		var res *zt.CapturedLocation
		if manual {
			lat, _ := flags.GetFloat64("lat")
			lng, _ := flags.GetFloat64("lng")
			acc, _ := flags.GetFloat64("accuracy")
			provider, perr := location.NewManual(lat, lng, acc, zt.RealClock{})
			if perr != nil {
				a.Fail(perr)
				return perr
			}
			res, err = a.Service().CaptureFrom(cmd.Context(), provider)
		} else {
			res, err = a.Service().Capture(cmd.Context())
		}
		if err != nil {
			a.Fail(err)
			return err
		}

		r := res.Reading
		place := r.Country
		if place == "" {
			place = "unknown country"
		}
		fmt.Printf("Reading %.5f,%.5f (%s)\n", r.Lat, r.Lng, place)
		if res.GeocodeErr != nil {
			fmt.Printf("warning: reverse geocoding failed: %v\n", res.GeocodeErr)
		}
		if res.Trip != nil {
			fmt.Printf("Trip %s %s: %s..%s\n", res.Trip.LocalID, res.Action, res.Trip.StartDate, res.Trip.EndDate)
		}
		return nil
	},
}

// conflicts command
var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unresolved conflicts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ConflictList")
		if err != nil {
			return err
		}
		defer a.Close()

		conflicts, err := a.Service().Conflicts()
		if err != nil {
			return err
		}
		if len(conflicts) == 0 {
			fmt.Println("No conflicts.")
			return nil
		}

		for _, c := range conflicts {
			fmt.Printf("%s  (server id %d, %s)\n", c.LocalID, c.TripID, c.Reason)
			fmt.Printf("  local:  %s\n", describeTrip(c.Local))
			fmt.Printf("  server: %s\n", describeTrip(c.Server))
		}
		return nil
	},
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve LOCAL_ID",
	Short: "Resolve a conflict by keeping one version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		keep, _ := cmd.Flags().GetString("keep")
		res, err := model.ParseResolution(keep)
		if err != nil {
			return err
		}

		a, err := newApp("ConflictResolve")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Begin(args[0] + " keep=" + string(res)); err != nil {
			return err
		}
		if err := a.Service().ResolveConflict(args[0], res); err != nil {
			a.Fail(err)
			return err
		}

		fmt.Printf("Resolved %s, kept %s version\n", args[0], res)
		return nil
	},
}

func describeTrip(t *model.Trip) string {
	if t == nil {
		return "(deleted)"
	}
	if t.Deleted {
		return fmt.Sprintf("(deleted) %s %s..%s", t.Country, t.StartDate, t.EndDate)
	}
	s := fmt.Sprintf("%s %s..%s %s", t.Country, t.StartDate, t.EndDate, t.Category)
	if t.Notes != "" {
		s += fmt.Sprintf(" %q", t.Notes)
	}
	return s
}

// device command
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Manage this device's registration with the authority",
}

var deviceRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register this device",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		info := zt.DeviceInfo{}
		info.Platform, _ = flags.GetString("platform")
		info.AppVersion, _ = flags.GetString("app-version")
		info.OSVersion, _ = flags.GetString("os-version")
		info.PushToken, _ = flags.GetString("push-token")

		a, err := newApp("DeviceRegister")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().RegisterDevice(cmd.Context(), info); err != nil {
			return err
		}
		fmt.Printf("Registered device %s\n", a.Config().DeviceID)
		return nil
	},
}

var deviceUnregisterCmd = &cobra.Command{
	Use:   "unregister",
	Short: "Remove this device's registration",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DeviceUnregister")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Service().UnregisterDevice(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Unregistered device %s\n", a.Config().DeviceID)
		return nil
	},
}

func init() {
	checkinCmd.Flags().Float64("lat", 0, "Latitude, skips the location provider")
	checkinCmd.Flags().Float64("lng", 0, "Longitude, skips the location provider")
	checkinCmd.Flags().Float64("accuracy", 0, "Accuracy in meters for a manual fix")

	conflictsResolveCmd.Flags().String("keep", "", "Version to keep: local or server")
	conflictsResolveCmd.MarkFlagRequired("keep")
	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)

	deviceRegisterCmd.Flags().String("platform", runtime.GOOS, "Platform name")
	deviceRegisterCmd.Flags().String("app-version", version, "Application version")
	deviceRegisterCmd.Flags().String("os-version", "", "Operating system version")
	deviceRegisterCmd.Flags().String("push-token", "", "Push notification token")
	deviceCmd.AddCommand(deviceRegisterCmd)
	deviceCmd.AddCommand(deviceUnregisterCmd)

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(checkinCmd)
	rootCmd.AddCommand(conflictsCmd)
	rootCmd.AddCommand(deviceCmd)
}
