package merger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bcnelson/storefront-gateway/internal/domain"
	"github.com/bcnelson/storefront-gateway/internal/merger"
	"github.com/bcnelson/storefront-gateway/internal/storage/memory"
)

func createCart(t *testing.T, store *memory.Store, id string, customerID *string) *domain.Cart {
	t.Helper()
	now := time.Now()
	cart := &domain.Cart{ID: id, CustomerID: customerID, IsGuest: customerID == nil, IsActive: true, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateCart(context.Background(), cart); err != nil {
		t.Fatalf("CreateCart failed: %v", err)
	}
	return cart
}

func addItem(t *testing.T, store *memory.Store, id, cartID, productID string, qty int, offset time.Duration) {
	t.Helper()
	now := time.Now().Add(offset)
	item := &domain.CartItem{ID: id, CartID: cartID, ProductID: productID, Quantity: qty, CreatedAt: now, UpdatedAt: now}
	if err := store.CreateCartItem(context.Background(), item); err != nil {
		t.Fatalf("CreateCartItem failed: %v", err)
	}
}

func quantities(t *testing.T, store *memory.Store, cartID string) map[string]int {
	t.Helper()
	items, err := store.ListCartItems(context.Background(), cartID)
	if err != nil {
		t.Fatalf("ListCartItems failed: %v", err)
	}
	result := make(map[string]int)
	for _, item := range items {
		if _, dup := result[item.ProductID]; dup {
			t.Errorf("Product %s appears on more than one line", item.ProductID)
		}
		result[item.ProductID] = item.Quantity
	}
	return result
}

func TestMerge_AddsQuantitiesAndCopiesNewLines(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	customerID := "cust-1"

	guest := createCart(t, store, "guest", nil)
	customer := createCart(t, store, "customer", &customerID)

	addItem(t, store, "g1", guest.ID, "sku-shirt", 2, 0)
	addItem(t, store, "g2", guest.ID, "sku-hat", 1, time.Second)
	addItem(t, store, "c1", customer.ID, "sku-shirt", 1, 0)
	addItem(t, store, "c2", customer.ID, "sku-socks", 3, time.Second)

	if err := merger.New(0).Merge(ctx, store, guest, customer); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	got := quantities(t, store, customer.ID)
	expected := map[string]int{"sku-shirt": 3, "sku-hat": 1, "sku-socks": 3}
	if len(got) != len(expected) {
		t.Fatalf("Expected %d lines, got %d (%v)", len(expected), len(got), got)
	}
	for product, qty := range expected {
		if got[product] != qty {
			t.Errorf("Expected %s quantity %d, got %d", product, qty, got[product])
		}
	}

	// Guest cart is left for the caller to delete
	if guestItems := quantities(t, store, guest.ID); len(guestItems) != 2 {
		t.Errorf("Expected guest cart to keep its 2 lines, got %d", len(guestItems))
	}
}

func TestMerge_FoldsDuplicateGuestLines(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	customerID := "cust-1"

	guest := createCart(t, store, "guest", nil)
	customer := createCart(t, store, "customer", &customerID)

	addItem(t, store, "g1", guest.ID, "sku-mug", 1, 0)
	addItem(t, store, "g2", guest.ID, "sku-mug", 4, time.Second)

	if err := merger.New(0).Merge(ctx, store, guest, customer); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	got := quantities(t, store, customer.ID)
	if got["sku-mug"] != 5 {
		t.Errorf("Expected sku-mug quantity 5, got %d", got["sku-mug"])
	}
}

func TestMerge_CapsQuantity(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	customerID := "cust-1"

	guest := createCart(t, store, "guest", nil)
	customer := createCart(t, store, "customer", &customerID)

	addItem(t, store, "g1", guest.ID, "sku-pen", 8, 0)
	addItem(t, store, "c1", customer.ID, "sku-pen", 5, 0)

	if err := merger.New(10).Merge(ctx, store, guest, customer); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}

	if got := quantities(t, store, customer.ID)["sku-pen"]; got != 10 {
		t.Errorf("Expected capped quantity 10, got %d", got)
	}
}

func TestMerge_EmptyGuestCart(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	customerID := "cust-1"

	guest := createCart(t, store, "guest", nil)
	customer := createCart(t, store, "customer", &customerID)
	addItem(t, store, "c1", customer.ID, "sku-pen", 1, 0)

	if err := merger.New(0).Merge(ctx, store, guest, customer); err != nil {
		t.Fatalf("Merge failed: %v", err)
	}
	if got := quantities(t, store, customer.ID); len(got) != 1 || got["sku-pen"] != 1 {
		t.Errorf("Expected customer cart unchanged, got %v", got)
	}
}

func TestMerge_SameCart(t *testing.T) {
	store := memory.New()
	cart := createCart(t, store, "cart", nil)

	err := merger.New(0).Merge(context.Background(), store, cart, cart)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
