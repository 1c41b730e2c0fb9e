package docstore_test

import (
	"testing"

	"github.com/Lucaslls20/Lista-de-Compras/docstore"
)

func TestNewRegistry(t *testing.T) {
	r := docstore.NewRegistry()
	if r == nil {
		t.Fatal("expected non-nil Registry")
	}
	if len(r.AllRelationships()) != 0 {
		t.Error("expected empty registry")
	}
}

func TestRegistry_ChildrenOf(t *testing.T) {
	r := docstore.NewRegistry()
	r.Register(docstore.Relationship{
		ParentCollection: "stores",
		ChildCollection:  "shoppingItems",
		ParentKeyField:   "storeId",
	})

	children := r.ChildrenOf("stores")
	if len(children) != 1 {
		t.Fatalf("expected 1 child for stores, got %d", len(children))
	}
	if children[0].ParentKeyField != "storeId" {
		t.Errorf("expected ParentKeyField 'storeId', got %q", children[0].ParentKeyField)
	}

	if len(r.ChildrenOf("shoppingItems")) != 0 {
		t.Error("expected no children for shoppingItems")
	}
}

func TestRegistry_HasChildren(t *testing.T) {
	r := docstore.NewRegistry()
	r.Register(docstore.Relationship{
		ParentCollection: "stores",
		ChildCollection:  "shoppingItems",
		ParentKeyField:   "storeId",
	})

	if !r.HasChildren("stores") {
		t.Error("expected stores to have children")
	}
	if r.HasChildren("shoppingItems") {
		t.Error("expected shoppingItems to have no children")
	}
	if r.HasChildren("unknown") {
		t.Error("expected unknown collection to have no children")
	}
}
