// Command shoplist manages shopping lists from the terminal.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lucaslls20/Lista-de-Compras/internal/backend"
	"github.com/Lucaslls20/Lista-de-Compras/internal/config"
	"github.com/Lucaslls20/Lista-de-Compras/shopping"
)

func main() {
	owner := flag.String("owner", "", "owner id (default $SHOPLIST_OWNER)")
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printHelp(os.Stdout)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fail(os.Stderr, err.Error())
		os.Exit(1)
	}
	if *owner != "" {
		cfg.Owner = *owner
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b, err := backend.Open(ctx, cfg, logger)
	if err != nil {
		fail(os.Stderr, err.Error())
		os.Exit(1)
	}
	go func() {
		if err := b.RunStreams(ctx); err != nil {
			logger.Error("change streams stopped", "error", err)
		}
	}()

	identity := shopping.StaticIdentity(cfg.Owner)
	cascade := shopping.NewCascadeDeleter(b.Store, shopping.DefaultRegistry(), logger)
	r := &runner{
		stores:     shopping.NewStoreRepository(b.Store, cascade, identity, logger),
		items:      shopping.NewItemRepository(b.Store, identity, logger),
		out:        os.Stdout,
		errOut:     os.Stderr,
		watchRetry: 5 * time.Minute,
	}

	code := r.run(ctx, args)
	stop()
	if err := b.Close(); err != nil {
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(code)
}
