package cart

import (
	"errors"
	"sync"
)

var ErrNotFound = errors.New("user not found")

// CartItem is one product entry with its quantity.
type CartItem struct {
	ProductID int `json:"productId"`
	Quantity  int `json:"quantity"`
}

// Repository provides access to cart operations. Quantities accumulate, so
// adding the same product twice increments it.
type Repository interface {
	AddToCart(userID, productID, qty int) ([]CartItem, error)
	GetCart(userID int) ([]CartItem, error)
	ClearCart(userID int) error
}

// InMemoryRepository is used for tests and local scenarios.
type InMemoryRepository struct {
	mu    sync.RWMutex
	carts map[int]map[int]int
}

func NewInMemoryRepository(userIDs ...int) *InMemoryRepository {
	r := &InMemoryRepository{carts: make(map[int]map[int]int)}
	for _, id := range userIDs {
		r.carts[id] = make(map[int]int)
	}
	return r
}

func (r *InMemoryRepository) AddToCart(userID, productID, qty int) ([]CartItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cart, ok := r.carts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	cart[productID] += qty
	if cart[productID] <= 0 {
		delete(cart, productID)
	}
	return itemsFromMap(cart), nil
}

func (r *InMemoryRepository) GetCart(userID int) ([]CartItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cart, ok := r.carts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return itemsFromMap(cart), nil
}

func (r *InMemoryRepository) ClearCart(userID int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.carts[userID]; !ok {
		return ErrNotFound
	}
	r.carts[userID] = make(map[int]int)
	return nil
}

func itemsFromMap(cart map[int]int) []CartItem {
	items := make([]CartItem, 0, len(cart))
	for pid, q := range cart {
		items = append(items, CartItem{ProductID: pid, Quantity: q})
	}
	return items
}
