package order

// Repository defines persistence for orders. Orders are permanent records;
// there is no delete operation.
type Repository interface {
	Create(ord Order) (Order, error)
	GetByID(id string) (Order, error)
	// GetByPidx resolves an order through its gateway correlation token.
	GetByPidx(pidx string) (Order, error)
	ListByUser(userID int) ([]Order, error)
	ListAll() ([]Order, error)
	// Update persists the mutable field group (payment, status, delivery).
	// The write is version-checked: if ord.Version no longer matches the
	// stored row the update is rejected with ErrConflict.
	Update(ord Order) (Order, error)
	// SetPidx stores a freshly issued correlation token, version-checked
	// like Update. A newer session simply overwrites the previous token.
	SetPidx(id, pidx string, version int, updatedAt string) (Order, error)
}
