package product

// Repository defines persistence operations for catalog products.
type Repository interface {
	List() ([]Product, error)
	GetByID(id int) (Product, error)
	// ListByIDs returns the products whose id is present in ids, ordered
	// the same way. An empty ids slice returns an empty slice without a
	// database query.
	ListByIDs(ids []int) ([]Product, error)
	Create(p Product) (Product, error)
	Update(id int, p Product) (Product, error)
}
