package order

import (
	"database/sql"
	"encoding/json"
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

const orderColumns = `"orderId", "userId", "orderItems", "shippingAddress", "paymentMethod", "paymentResult", pidx,
		"itemsPrice", "taxPrice", "shippingPrice", "totalPrice", status, "isPaid", "paidAt",
		"isDelivered", "deliveredAt", version, "createdAt", "updatedAt"`

const (
	insertOrderQuery = `
		INSERT INTO orders ("orderId", "userId", "orderItems", "shippingAddress", "paymentMethod", "paymentResult", pidx,
			"itemsPrice", "taxPrice", "shippingPrice", "totalPrice", status, "isPaid", "paidAt",
			"isDelivered", "deliveredAt", version, "createdAt", "updatedAt")
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
	`
	getOrderByIDQuery = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE "orderId" = $1
	`
	getOrderByPidxQuery = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE pidx = $1
	`
	listOrdersByUserQuery = `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE "userId" = $1
		ORDER BY "createdAt" DESC
	`
	listAllOrdersQuery = `
		SELECT ` + orderColumns + `
		FROM orders
		ORDER BY "createdAt" DESC
	`
	updateOrderQuery = `
		UPDATE orders
		SET "paymentResult" = $2,
			pidx = $3,
			"itemsPrice" = $4,
			"taxPrice" = $5,
			"shippingPrice" = $6,
			"totalPrice" = $7,
			status = $8,
			"isPaid" = $9,
			"paidAt" = $10,
			"isDelivered" = $11,
			"deliveredAt" = $12,
			"updatedAt" = $13,
			version = version + 1
		WHERE "orderId" = $1 AND version = $14
		RETURNING version
	`
	setPidxQuery = `
		UPDATE orders
		SET pidx = $2,
			"updatedAt" = $3,
			version = version + 1
		WHERE "orderId" = $1 AND version = $4
		RETURNING version
	`
)

func (r *PostgresRepository) Create(ord Order) (Order, error) {
	itemsJSON, err := json.Marshal(ord.Items)
	if err != nil {
		return Order{}, err
	}
	addressJSON, err := json.Marshal(ord.ShippingAddress)
	if err != nil {
		return Order{}, err
	}
	resultJSON, err := marshalResult(ord.PaymentResult)
	if err != nil {
		return Order{}, err
	}

	_, err = r.db.Exec(insertOrderQuery,
		ord.ID, ord.UserID, itemsJSON, addressJSON, string(ord.PaymentMethod), resultJSON, nullString(ord.Pidx),
		ord.ItemsPrice, ord.TaxPrice, ord.ShippingPrice, ord.TotalPrice, string(ord.Status), ord.IsPaid, ord.PaidAt,
		ord.IsDelivered, ord.DeliveredAt, ord.Version, ord.CreatedAt, ord.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	return ord, nil
}

func (r *PostgresRepository) GetByID(id string) (Order, error) {
	ord, err := scanOrder(r.db.QueryRow(getOrderByIDQuery, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return ord, nil
}

func (r *PostgresRepository) GetByPidx(pidx string) (Order, error) {
	ord, err := scanOrder(r.db.QueryRow(getOrderByPidxQuery, pidx))
	if err != nil {
		if err == sql.ErrNoRows {
			return Order{}, ErrNotFound
		}
		return Order{}, err
	}
	return ord, nil
}

func (r *PostgresRepository) ListByUser(userID int) ([]Order, error) {
	return r.list(listOrdersByUserQuery, userID)
}

func (r *PostgresRepository) ListAll() ([]Order, error) {
	return r.list(listAllOrdersQuery)
}

func (r *PostgresRepository) list(query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		ord, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, ord)
	}
	return orders, rows.Err()
}

func (r *PostgresRepository) Update(ord Order) (Order, error) {
	resultJSON, err := marshalResult(ord.PaymentResult)
	if err != nil {
		return Order{}, err
	}

	var version int
	err = r.db.QueryRow(updateOrderQuery,
		ord.ID, resultJSON, nullString(ord.Pidx),
		ord.ItemsPrice, ord.TaxPrice, ord.ShippingPrice, ord.TotalPrice,
		string(ord.Status), ord.IsPaid, ord.PaidAt, ord.IsDelivered, ord.DeliveredAt,
		ord.UpdatedAt, ord.Version).Scan(&version)
	if err != nil {
		if err == sql.ErrNoRows {
			return Order{}, ErrConflict
		}
		return Order{}, err
	}
	ord.Version = version
	return ord, nil
}

func (r *PostgresRepository) SetPidx(id, pidx string, version int, updatedAt string) (Order, error) {
	var newVersion int
	err := r.db.QueryRow(setPidxQuery, id, pidx, updatedAt, version).Scan(&newVersion)
	if err != nil {
		if err == sql.ErrNoRows {
			return Order{}, ErrConflict
		}
		return Order{}, err
	}
	return r.GetByID(id)
}

func scanOrder(row rowScanner) (Order, error) {
	var (
		ord         Order
		itemsJSON   []byte
		addressJSON []byte
		resultJSON  []byte
		pidx        sql.NullString
		paidAt      sql.NullTime
		deliveredAt sql.NullTime
		method      string
		status      string
	)
	err := row.Scan(&ord.ID, &ord.UserID, &itemsJSON, &addressJSON, &method, &resultJSON, &pidx,
		&ord.ItemsPrice, &ord.TaxPrice, &ord.ShippingPrice, &ord.TotalPrice, &status, &ord.IsPaid, &paidAt,
		&ord.IsDelivered, &deliveredAt, &ord.Version, &ord.CreatedAt, &ord.UpdatedAt)
	if err != nil {
		return Order{}, err
	}

	ord.PaymentMethod = PaymentMethod(method)
	ord.Status = Status(status)
	if pidx.Valid {
		ord.Pidx = pidx.String
	}
	if paidAt.Valid {
		t := paidAt.Time
		ord.PaidAt = &t
	}
	if deliveredAt.Valid {
		t := deliveredAt.Time
		ord.DeliveredAt = &t
	}
	if err := json.Unmarshal(itemsJSON, &ord.Items); err != nil {
		return Order{}, err
	}
	if err := json.Unmarshal(addressJSON, &ord.ShippingAddress); err != nil {
		return Order{}, err
	}
	if len(resultJSON) > 0 {
		var pr PaymentResult
		if err := json.Unmarshal(resultJSON, &pr); err != nil {
			return Order{}, err
		}
		ord.PaymentResult = &pr
	}
	return ord, nil
}

func marshalResult(pr *PaymentResult) ([]byte, error) {
	if pr == nil {
		return nil, nil
	}
	return json.Marshal(pr)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
