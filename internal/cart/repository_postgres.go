package cart

import (
	"database/sql"
	"encoding/json"
	"strconv"
)

// PostgresRepository stores carts as a jsonb map (product id -> quantity) on
// the user row.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const (
	getCartQuery    = `SELECT cart FROM users WHERE "userId" = $1`
	updateCartQuery = `UPDATE users SET cart = $2 WHERE "userId" = $1`
)

func (r *PostgresRepository) AddToCart(userID, productID, qty int) ([]CartItem, error) {
	cart, err := r.loadCart(userID)
	if err != nil {
		return nil, err
	}

	key := strconv.Itoa(productID)
	cart[key] += qty
	if cart[key] <= 0 {
		delete(cart, key)
	}

	raw, err := json.Marshal(cart)
	if err != nil {
		return nil, err
	}
	if _, err := r.db.Exec(updateCartQuery, userID, raw); err != nil {
		return nil, err
	}
	return itemsFromJSONMap(cart), nil
}

func (r *PostgresRepository) GetCart(userID int) ([]CartItem, error) {
	cart, err := r.loadCart(userID)
	if err != nil {
		return nil, err
	}
	return itemsFromJSONMap(cart), nil
}

func (r *PostgresRepository) ClearCart(userID int) error {
	if _, err := r.loadCart(userID); err != nil {
		return err
	}
	_, err := r.db.Exec(updateCartQuery, userID, []byte(`{}`))
	return err
}

func (r *PostgresRepository) loadCart(userID int) (map[string]int, error) {
	var raw []byte
	err := r.db.QueryRow(getCartQuery, userID).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}

	cart := make(map[string]int)
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &cart); err != nil {
			return nil, err
		}
	}
	return cart, nil
}

func itemsFromJSONMap(cart map[string]int) []CartItem {
	items := make([]CartItem, 0, len(cart))
	for key, q := range cart {
		pid, err := strconv.Atoi(key)
		if err != nil {
			continue
		}
		items = append(items, CartItem{ProductID: pid, Quantity: q})
	}
	return items
}
