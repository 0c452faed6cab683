package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"zt-go/internal/app"

	"github.com/spf13/cobra"
)

// daemon command
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled captures, background sync and the local API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := newApp("Daemon")
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.NewDaemon()
		if err != nil {
			return err
		}
		for _, j := range d.Scheduler().Jobs() {
			fmt.Printf("registered %-16s family=%s\n", j.Name, j.Family)
		}
		return d.Run(ctx)
	},
}

// authority command
var authorityCmd = &cobra.Command{
	Use:   "authority",
	Short: "Reference authority server",
}

var authorityServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the in-memory reference authority",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Server.Listen = listen
		}
		return app.ServeAuthority(ctx, cfg)
	},
}

func init() {
	authorityServeCmd.Flags().String("listen", "", "Listen address, overrides server.listen")
	authorityCmd.AddCommand(authorityServeCmd)

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(authorityCmd)
}
