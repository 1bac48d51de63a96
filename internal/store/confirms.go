package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Confirm statuses. A confirm starts OPEN when a payment is registered and
// turns DONE once the follow-up customer order is sent.
const (
	StatusOpen = "OPEN"
	StatusDone = "DONE"
)

// Confirm is a pending order confirmation tied to a registered payment.
type Confirm struct {
	ID               int64
	OperatorID       int64
	Brand            string
	ClientName       string
	PhonePlus        string
	CounterpartyMeta map[string]any
	Status           string
	CreatedAt        string
	DoneAt           sql.NullString
}

// CreateConfirm inserts a new OPEN confirm row.
func (s *Store) CreateConfirm(operatorID int64, brand, clientName, phonePlus string, counterpartyMeta map[string]any) (int64, error) {
	metaJSON, err := json.Marshal(counterpartyMeta)
	if err != nil {
		return 0, fmt.Errorf("encode counterparty meta: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO confirms (operator_id, brand, client_name, phone_plus, counterparty_meta, status)
		 VALUES (?, ?, ?, ?, ?, 'OPEN')`,
		operatorID, strings.TrimSpace(brand), strings.TrimSpace(clientName),
		strings.TrimSpace(phonePlus), string(metaJSON),
	)
	if err != nil {
		return 0, fmt.Errorf("create confirm: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("create confirm: %w", err)
	}
	return id, nil
}

// UpsertOpenConfirm deduplicates the confirmation queue: when an OPEN
// confirm already exists for the same operator, brand and phone, it is
// refreshed with the latest client name and counterparty meta instead of
// inserting a second row. Falls back to a plain insert when the dedup key
// is incomplete.
func (s *Store) UpsertOpenConfirm(operatorID int64, brand, clientName, phonePlus string, counterpartyMeta map[string]any) (int64, error) {
	brandKey := strings.ToUpper(strings.TrimSpace(brand))
	phoneKey := strings.TrimSpace(phonePlus)
	if operatorID == 0 || brandKey == "" || phoneKey == "" {
		return s.CreateConfirm(operatorID, brand, clientName, phonePlus, counterpartyMeta)
	}

	var existingID int64
	err := s.db.QueryRow(
		`SELECT id FROM confirms
		 WHERE operator_id = ? AND status = 'OPEN'
		   AND upper(trim(brand)) = ? AND trim(phone_plus) = ?
		 ORDER BY id DESC LIMIT 1`,
		operatorID, brandKey, phoneKey,
	).Scan(&existingID)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.CreateConfirm(operatorID, brandKey, clientName, phoneKey, counterpartyMeta)
	case err != nil:
		return 0, fmt.Errorf("upsert confirm: %w", err)
	}

	metaJSON, err := json.Marshal(counterpartyMeta)
	if err != nil {
		return 0, fmt.Errorf("encode counterparty meta: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE confirms SET client_name = ?, counterparty_meta = ?
		 WHERE operator_id = ? AND id = ? AND status = 'OPEN'`,
		strings.TrimSpace(clientName), string(metaJSON), operatorID, existingID,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert confirm: %w", err)
	}
	s.logger.Debug("reused open confirm",
		zap.Int64("operator_id", operatorID), zap.Int64("confirm_id", existingID))
	return existingID, nil
}

// ListOpenConfirms returns the operator's OPEN confirms, newest first.
func (s *Store) ListOpenConfirms(operatorID int64, limit int) ([]Confirm, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, operator_id, brand, client_name, phone_plus, counterparty_meta, status, created_at, done_at
		 FROM confirms
		 WHERE operator_id = ? AND status = 'OPEN'
		 ORDER BY id DESC LIMIT ?`,
		operatorID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list confirms: %w", err)
	}
	defer rows.Close()

	var out []Confirm
	for rows.Next() {
		c, err := scanConfirm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

// GetConfirm fetches one confirm scoped to the operator that owns it.
func (s *Store) GetConfirm(operatorID, confirmID int64) (*Confirm, error) {
	row := s.db.QueryRow(
		`SELECT id, operator_id, brand, client_name, phone_plus, counterparty_meta, status, created_at, done_at
		 FROM confirms
		 WHERE operator_id = ? AND id = ? LIMIT 1`,
		operatorID, confirmID,
	)
	c, err := scanConfirm(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

// MarkConfirmDone transitions an OPEN confirm to DONE. DONE rows are left
// untouched; reports whether a transition happened.
func (s *Store) MarkConfirmDone(operatorID, confirmID int64) (bool, error) {
	res, err := s.db.Exec(
		`UPDATE confirms SET status = 'DONE', done_at = datetime('now')
		 WHERE operator_id = ? AND id = ? AND status = 'OPEN'`,
		operatorID, confirmID,
	)
	if err != nil {
		return false, fmt.Errorf("mark confirm done: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark confirm done: %w", err)
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfirm(row rowScanner) (*Confirm, error) {
	var c Confirm
	var metaJSON string
	if err := row.Scan(&c.ID, &c.OperatorID, &c.Brand, &c.ClientName, &c.PhonePlus,
		&metaJSON, &c.Status, &c.CreatedAt, &c.DoneAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan confirm: %w", err)
	}
	if metaJSON != "" {
		if err := json.Unmarshal([]byte(metaJSON), &c.CounterpartyMeta); err != nil {
			return nil, fmt.Errorf("decode counterparty meta: %w", err)
		}
	}
	return &c, nil
}
