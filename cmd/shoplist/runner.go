package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Lucaslls20/Lista-de-Compras/shopping"
)

// runner executes one subcommand against the repositories.
type runner struct {
	stores *shopping.StoreRepository
	items  *shopping.ItemRepository
	out    io.Writer
	errOut io.Writer

	// watchRetry bounds how long watch keeps resubscribing after
	// connection errors.
	watchRetry time.Duration
}

// run dispatches a subcommand and returns an exit code (0 ok, 1 error, 2 usage).
func (r *runner) run(ctx context.Context, args []string) int {
	if len(args) == 0 {
		printHelp(r.out)
		return 2
	}
	cmd, a := args[0], args[1:]

	switch cmd {
	case "help", "-h", "--help":
		printHelp(r.out)
		return 0

	case "stores":
		return r.doStores(ctx)

	case "add-store":
		if len(a) == 0 {
			return r.usage("shoplist add-store <title...>")
		}
		return r.doAddStore(ctx, strings.Join(a, " "))

	case "rm-store":
		if len(a) != 1 {
			return r.usage("shoplist rm-store <storeId>")
		}
		return r.check(r.stores.DeleteStore(ctx, a[0], ""), "store deleted")

	case "rm-all-stores":
		n, err := r.stores.DeleteAllStores(ctx, "")
		return r.check(err, fmt.Sprintf("%d stores deleted", n))

	case "items":
		if len(a) != 1 {
			return r.usage("shoplist items <storeId>")
		}
		return r.doItems(ctx, a[0])

	case "add":
		if len(a) < 2 {
			return r.usage("shoplist add <storeId> <title...>")
		}
		return r.doAddItem(ctx, a[0], strings.Join(a[1:], " "))

	case "toggle":
		if len(a) < 1 || len(a) > 2 {
			return r.usage("shoplist toggle <itemId> [currentCompleted]")
		}
		return r.doToggle(ctx, a)

	case "rm":
		if len(a) != 1 {
			return r.usage("shoplist rm <itemId>")
		}
		return r.check(r.items.DeleteItem(ctx, a[0], ""), "item deleted")

	case "clear":
		if len(a) != 1 {
			return r.usage("shoplist clear <storeId>")
		}
		n, err := r.items.ClearCompleted(ctx, a[0], "")
		return r.check(err, fmt.Sprintf("%d completed items cleared", n))

	case "watch":
		if len(a) > 1 {
			return r.usage("shoplist watch [storeId]")
		}
		storeID := ""
		if len(a) == 1 {
			storeID = a[0]
		}
		return r.check(r.doWatch(ctx, storeID), "")
	}

	fail(r.errOut, "unknown subcommand: "+cmd)
	printHelp(r.errOut)
	return 2
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `shoplist - shopping lists from the command line

Usage:
  shoplist [-owner id] <subcommand> [args]

Subcommands:
  stores                          List your stores
  add-store <title...>            Create a store
  rm-store <storeId>              Delete a store and its items
  rm-all-stores                   Delete every store and item you own
  items <storeId>                 List a store's items
  add <storeId> <title...>        Add an item to a store
  toggle <itemId> [completed]     Flip an item's completed flag
  rm <itemId>                     Delete an item
  clear <storeId>                 Delete a store's completed items
  watch [storeId]                 Print stores (or items) as they change

The owner defaults to $SHOPLIST_OWNER.
`)
}

func (r *runner) usage(msg string) int {
	fail(r.errOut, "usage: "+msg)
	return 2
}

// check reports err, or prints success when msg is set.
func (r *runner) check(err error, msg string) int {
	if err != nil {
		fail(r.errOut, err.Error())
		if errors.Is(err, shopping.ErrInvalidArgument) || errors.Is(err, shopping.ErrAuthRequired) {
			return 2
		}
		return 1
	}
	if msg != "" {
		ok(r.out, msg)
	}
	return 0
}

func (r *runner) doStores(ctx context.Context) int {
	b, err := r.stores.ListStores(ctx, "")
	if err != nil {
		return r.check(err, "")
	}
	stores, err := b.Current(ctx)
	if err != nil {
		return r.check(err, "")
	}
	r.renderStores(stores)
	return 0
}

func (r *runner) doAddStore(ctx context.Context, title string) int {
	id, err := r.stores.CreateStore(ctx, title, "")
	return r.check(err, "added store "+id)
}

func (r *runner) doItems(ctx context.Context, storeID string) int {
	store, err := r.stores.GetStore(ctx, storeID, "")
	if err != nil {
		return r.check(err, "")
	}
	b, err := r.items.ListItems(ctx, storeID, "")
	if err != nil {
		return r.check(err, "")
	}
	items, err := b.Current(ctx)
	if err != nil {
		return r.check(err, "")
	}
	r.renderItems(store.Title, items)
	return 0
}

func (r *runner) doAddItem(ctx context.Context, storeID, title string) int {
	id, err := r.items.AddItem(ctx, storeID, "", title)
	return r.check(err, "added item "+id)
}

func (r *runner) doToggle(ctx context.Context, a []string) int {
	var current bool
	if len(a) == 2 {
		v, err := strconv.ParseBool(a[1])
		if err != nil {
			fail(r.errOut, "toggle: not a boolean: "+a[1])
			return 2
		}
		current = v
	} else {
		item, err := r.items.GetItem(ctx, a[0], "")
		if err != nil {
			return r.check(err, "")
		}
		current = item.Completed
	}
	state := "done"
	if current {
		state = "pending"
	}
	return r.check(r.items.ToggleCompleted(ctx, a[0], current), "marked "+state)
}

// doWatch prints every snapshot until ctx is done. Connection errors are
// retried with exponential backoff; anything else ends the watch.
func (r *runner) doWatch(ctx context.Context, storeID string) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = r.watchRetry

	var title string
	if storeID != "" {
		store, err := r.stores.GetStore(ctx, storeID, "")
		if err != nil {
			return err
		}
		title = store.Title
	}

	watchOnce := func() error {
		if storeID == "" {
			b, err := r.stores.ListStores(ctx, "")
			if err != nil {
				return err
			}
			for stores, err := range b.Snapshots(ctx) {
				if err != nil {
					return err
				}
				bo.Reset()
				r.renderStores(stores)
			}
			return nil
		}
		b, err := r.items.ListItems(ctx, storeID, "")
		if err != nil {
			return err
		}
		for items, err := range b.Snapshots(ctx) {
			if err != nil {
				return err
			}
			bo.Reset()
			r.renderItems(title, items)
		}
		return nil
	}

	err := backoff.RetryNotify(func() error {
		err := watchOnce()
		if err != nil && !errors.Is(err, shopping.ErrConnection) {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		fmt.Fprintln(r.errOut, mutedStyle.Render(fmt.Sprintf("connection lost, retrying in %s: %v", wait.Round(time.Millisecond), err)))
	})
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (r *runner) renderStores(stores []shopping.Store) {
	lines := []string{titleStyle.Render(fmt.Sprintf("Stores (%d)", len(stores)))}
	if len(stores) == 0 {
		lines = append(lines, mutedStyle.Render("no stores yet, add one with `shoplist add-store Market`"))
	}
	for _, s := range stores {
		lines = append(lines, fmt.Sprintf("%s  %s", s.Title, mutedStyle.Render(s.ID+"  "+s.DateAdded.Local().Format(time.DateTime))))
	}
	panel(r.out, lines)
}

func (r *runner) renderItems(storeTitle string, items []shopping.Item) {
	var done int
	for _, it := range items {
		if it.Completed {
			done++
		}
	}
	header := fmt.Sprintf("%s  %s %d  %s %d",
		titleStyle.Render(storeTitle),
		successStyle.Render("✔"), done,
		pendingStyle.Render("•"), len(items)-done,
	)
	lines := []string{header, mutedStyle.Render(progressBar(done, len(items), 24)), ""}
	if len(items) == 0 {
		lines = append(lines, mutedStyle.Render("nothing to buy"))
	}
	for _, it := range items {
		if it.Completed {
			lines = append(lines, fmt.Sprintf("%s %s  %s", boxChecked, doneStyle.Render(it.Title), mutedStyle.Render(it.ID)))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s %s  %s", boxUnchecked, it.Title, mutedStyle.Render(it.ID)))
	}
	panel(r.out, lines)
}
