package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"zt-go/internal/authority"
	"zt-go/internal/config"
	"zt-go/internal/zt"
)

// ServeAuthority runs the in-memory reference authority until ctx is
// cancelled. It needs no local store.
func ServeAuthority(ctx context.Context, cfg *config.Config) error {
	opID := "authority-" + time.Now().UTC().Format("20060102T150405Z")
	slogger, logFile, err := newLogger(cfg.LogDir, opID, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logFile.Close()
	logger := &slogAdapter{l: slogger}

	rule := ruleFromConfig(cfg.Rule)
	if err := rule.Validate(); err != nil {
		return fmt.Errorf("invalid rule: %w", err)
	}
	server := authority.NewServer(zt.RealClock{}, logger, rule)
	if len(cfg.Server.Tokens) == 0 {
		logger.Warn("authority running without tokens: every request is accepted")
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           authority.NewHandler(server, cfg.Server.Tokens).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("authority listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("authority server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down authority: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info("authority stopped")
	return nil
}
