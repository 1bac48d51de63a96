package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Operator is a sales employee allowed to use the bot.
type Operator struct {
	ID        int64
	Phone     string
	Name      string
	CreatedAt string
}

// CreateOperator registers a new operator. Phone numbers are unique;
// a second registration with the same phone returns ErrDuplicate.
func (s *Store) CreateOperator(phone, name, password string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO operators (phone, name, password) VALUES (?, ?, ?)`,
		strings.TrimSpace(phone), strings.TrimSpace(name), strings.TrimSpace(password),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ErrDuplicate
		}
		return 0, fmt.Errorf("create operator: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create operator: %w", err)
	}
	return id, nil
}

// Authenticate checks phone+password and returns the operator on success,
// ErrNotFound otherwise.
func (s *Store) Authenticate(phone, password string) (*Operator, error) {
	row := s.db.QueryRow(
		`SELECT id, phone, name, created_at FROM operators WHERE phone = ? AND password = ?`,
		strings.TrimSpace(phone), strings.TrimSpace(password),
	)
	var op Operator
	if err := row.Scan(&op.ID, &op.Phone, &op.Name, &op.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	return &op, nil
}

// ListOperators returns operators, newest first.
func (s *Store) ListOperators(limit int) ([]Operator, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.db.Query(
		`SELECT id, phone, name, created_at FROM operators ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	defer rows.Close()

	var out []Operator
	for rows.Next() {
		var op Operator
		if err := rows.Scan(&op.ID, &op.Phone, &op.Name, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("list operators: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}

// CountOperators returns the number of registered operators.
func (s *Store) CountOperators() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(1) FROM operators`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count operators: %w", err)
	}
	return n, nil
}

// DeleteOperatorByPhone removes an operator account. Reports whether a row
// was actually deleted.
func (s *Store) DeleteOperatorByPhone(phone string) (bool, error) {
	res, err := s.db.Exec(`DELETE FROM operators WHERE phone = ?`, strings.TrimSpace(phone))
	if err != nil {
		return false, fmt.Errorf("delete operator: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete operator: %w", err)
	}
	return n > 0, nil
}
