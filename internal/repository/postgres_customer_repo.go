package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/customerbook/internal/model"
)

const customerColumns = `id, first_name, last_name, email, phone, address, created_at, updated_at`

// PostgresCustomerRepo はPostgreSQLを使用した顧客リポジトリ。
type PostgresCustomerRepo struct {
	db *sql.DB
}

// NewPostgresCustomerRepo はPostgresCustomerRepoを生成する。
func NewPostgresCustomerRepo(db *sql.DB) *PostgresCustomerRepo {
	return &PostgresCustomerRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanCustomer(s rowScanner) (*model.Customer, error) {
	c := &model.Customer{}
	err := s.Scan(&c.ID, &c.FirstName, &c.LastName, &c.Email, &c.Phone, &c.Address, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// List は全顧客をID昇順で返す。
func (r *PostgresCustomerRepo) List(ctx context.Context) ([]*model.Customer, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+customerColumns+` FROM customers ORDER BY id ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list customers: %w", err)
	}
	defer rows.Close()

	customers := make([]*model.Customer, 0)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer: %w", err)
		}
		customers = append(customers, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate customers: %w", err)
	}

	return customers, nil
}

// FindByID は指定IDの顧客を取得する。見つからない場合はnilを返す。
func (r *PostgresCustomerRepo) FindByID(ctx context.Context, id int64) (*model.Customer, error) {
	c, err := scanCustomer(r.db.QueryRowContext(ctx,
		`SELECT `+customerColumns+` FROM customers WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find customer: %w", err)
	}
	return c, nil
}

// Create は顧客を作成する。IDはBIGSERIALで採番される。
func (r *PostgresCustomerRepo) Create(ctx context.Context, customer *model.Customer) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO customers (first_name, last_name, email, phone, address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		customer.FirstName, customer.LastName, customer.Email, customer.Phone, customer.Address,
		customer.CreatedAt, customer.UpdatedAt,
	).Scan(&customer.ID)
	if err != nil {
		return fmt.Errorf("failed to insert customer: %w", err)
	}
	return nil
}

// Update は顧客の書き込み可能フィールドとupdated_atを上書きする。
// created_atは更新対象に含めない。
func (r *PostgresCustomerRepo) Update(ctx context.Context, customer *model.Customer) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE customers
		 SET first_name = $2, last_name = $3, email = $4, phone = $5, address = $6, updated_at = $7
		 WHERE id = $1`,
		customer.ID, customer.FirstName, customer.LastName, customer.Email, customer.Phone, customer.Address,
		customer.UpdatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to update customer: %w", err)
	}
	return affected(result)
}

// Delete は指定IDの顧客を削除する。
func (r *PostgresCustomerRepo) Delete(ctx context.Context, id int64) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM customers WHERE id = $1`,
		id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to delete customer: %w", err)
	}
	return affected(result)
}

func affected(result sql.Result) (bool, error) {
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// compile-time interface check
var _ CustomerRepository = (*PostgresCustomerRepo)(nil)
