package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kasirinaja/ledger/internal/checkout"
	"kasirinaja/ledger/internal/config"
	"kasirinaja/ledger/internal/domain"
	"kasirinaja/ledger/internal/ledger"
	"kasirinaja/ledger/internal/offline"
)

func main() {
	cfg := config.LoadTerminal()
	if cfg.Password == "" {
		log.Fatal("TERMINAL_PASSWORD must be set")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	queue, err := offline.Open(ctx, cfg.QueuePath)
	if err != nil {
		log.Fatalf("open offline queue %s: %v", cfg.QueuePath, err)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Printf("close queue: %v", err)
		}
	}()

	client := ledger.NewHTTPClient(ledger.ClientConfig{
		BaseURL:  cfg.LedgerURL,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.LedgerTimeout,
	})

	session := domain.Session{
		BusinessID: cfg.BusinessID,
		DeviceID:   cfg.DeviceID,
		StaffID:    cfg.Username,
		StaffName:  cfg.Username,
		Role:       resolveRole(ctx, client),
	}

	drainer := checkout.NewDrainer(client, queue, cfg.DrainInterval, cfg.Retention())
	protocol := checkout.NewProtocol(client, queue, checkout.WithCommitHook(drainer.Notify))
	go drainer.Run(ctx)

	term := newConsole(client, protocol, drainer, queue, session, os.Stdout)
	term.refreshCatalog(ctx)
	log.Printf("terminal %s signed in as %s (%s), ledger %s", session.DeviceID, session.StaffName, session.Role, cfg.LedgerURL)

	done := make(chan struct{})
	go func() {
		term.run(ctx, os.Stdin)
		close(done)
	}()

	select {
	case <-ctx.Done():
	case <-done:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if stats, err := queue.Stats(shutdownCtx); err == nil && stats.Pending > 0 {
		log.Printf("%d sales still queued; they will sync on next start", stats.Pending)
	}
}

type roleSource interface {
	Role(ctx context.Context) (string, error)
}

// resolveRole asks the ledger which role the terminal credentials carry. A
// terminal that starts offline runs as a cashier until restarted online.
func resolveRole(ctx context.Context, src roleSource) string {
	role, err := src.Role(ctx)
	if err != nil || role == "" {
		log.Printf("[terminal] WARN: could not resolve role, continuing as cashier: %v", err)
		return domain.RoleCashier
	}
	return role
}
