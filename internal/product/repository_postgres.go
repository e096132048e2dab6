package product

import (
	"database/sql"

	"github.com/lib/pq"
)

type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

const (
	listProductsQuery = `
		SELECT "productId", name, price, image, category, "countInStock", "createdAt", "updatedAt"
		FROM products
		ORDER BY "productId"
	`
	getProductByIDQuery = `
		SELECT "productId", name, price, image, category, "countInStock", "createdAt", "updatedAt"
		FROM products
		WHERE "productId" = $1
	`
	listProductsByIDsQuery = `
		SELECT "productId", name, price, image, category, "countInStock", "createdAt", "updatedAt"
		FROM products
		WHERE "productId" = ANY($1::int[])
		ORDER BY array_position($1::int[], "productId")
	`
	insertProductQuery = `
		INSERT INTO products (name, price, image, category, "countInStock", "createdAt", "updatedAt")
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING "productId"
	`
	updateProductQuery = `
		UPDATE products
		SET name = $2, price = $3, image = $4, category = $5, "countInStock" = $6, "updatedAt" = $7
		WHERE "productId" = $1
	`
)

func (r *PostgresRepository) List() ([]Product, error) {
	rows, err := r.db.Query(listProductsQuery)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *PostgresRepository) GetByID(id int) (Product, error) {
	p, err := scanProduct(r.db.QueryRow(getProductByIDQuery, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}

func (r *PostgresRepository) ListByIDs(ids []int) ([]Product, error) {
	if len(ids) == 0 {
		return []Product{}, nil
	}
	rows, err := r.db.Query(listProductsByIDsQuery, pq.Array(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func (r *PostgresRepository) Create(p Product) (Product, error) {
	err := r.db.QueryRow(insertProductQuery, p.Name, p.Price, p.Image, p.Category, p.CountInStock, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}

func (r *PostgresRepository) Update(id int, p Product) (Product, error) {
	res, err := r.db.Exec(updateProductQuery, id, p.Name, p.Price, p.Image, p.Category, p.CountInStock, p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Product{}, ErrNotFound
	}
	p.ID = id
	return p, nil
}

func collect(rows *sql.Rows) ([]Product, error) {
	products := make([]Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.Price, &p.Image, &p.Category, &p.CountInStock, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return Product{}, err
	}
	return p, nil
}
