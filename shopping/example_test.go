package shopping_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
	"github.com/Lucaslls20/Lista-de-Compras/shopping"
)

func Example() {
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	src := docstore.NewMemory(docstore.DefaultConfig())
	cascade := shopping.NewCascadeDeleter(src, shopping.DefaultRegistry(), logger)
	stores := shopping.NewStoreRepository(src, cascade, shopping.StaticIdentity("u1"), logger)
	items := shopping.NewItemRepository(src, shopping.StaticIdentity("u1"), logger)

	sid, _ := stores.CreateStore(ctx, "Market", "")
	iid, _ := items.AddItem(ctx, sid, "", "Milk")
	_ = items.ToggleCompleted(ctx, iid, false)

	list, _ := items.ListItems(ctx, sid, "")
	current, _ := list.Current(ctx)
	for _, it := range current {
		fmt.Printf("%s completed=%v\n", it.Title, it.Completed)
	}

	_ = stores.DeleteStore(ctx, sid, "")
	current, _ = list.Current(ctx)
	fmt.Println("items after delete:", len(current))
	// Output:
	// Milk completed=true
	// items after delete: 0
}
