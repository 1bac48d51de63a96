package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateOperatorAndAuthenticate(t *testing.T) {
	s := newTestStore(t)

	id, err := s.CreateOperator("901234567", "Akmal", "secret")
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	op, err := s.Authenticate("901234567", "secret")
	require.NoError(t, err)
	assert.Equal(t, id, op.ID)
	assert.Equal(t, "Akmal", op.Name)

	_, err = s.Authenticate("901234567", "wrong")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Authenticate("900000000", "secret")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateOperatorDuplicatePhone(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateOperator("901234567", "Akmal", "secret")
	require.NoError(t, err)

	_, err = s.CreateOperator("901234567", "Other", "pass")
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestOperatorTrimsInput(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateOperator("  901234567 ", " Akmal ", " secret ")
	require.NoError(t, err)

	op, err := s.Authenticate("901234567", "secret")
	require.NoError(t, err)
	assert.Equal(t, "901234567", op.Phone)
	assert.Equal(t, "Akmal", op.Name)
}

func TestListCountDeleteOperators(t *testing.T) {
	s := newTestStore(t)

	_, err := s.CreateOperator("901111111", "First", "p1")
	require.NoError(t, err)
	_, err = s.CreateOperator("902222222", "Second", "p2")
	require.NoError(t, err)

	n, err := s.CountOperators()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	ops, err := s.ListOperators(10)
	require.NoError(t, err)
	require.Len(t, ops, 2)
	// Newest first.
	assert.Equal(t, "Second", ops[0].Name)

	deleted, err := s.DeleteOperatorByPhone("901111111")
	require.NoError(t, err)
	assert.True(t, deleted)

	deleted, err = s.DeleteOperatorByPhone("909999999")
	require.NoError(t, err)
	assert.False(t, deleted)

	n, err = s.CountOperators()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func testMeta() map[string]any {
	return map[string]any{
		"href": "https://api.moysklad.ru/api/remap/1.2/entity/counterparty/abc",
		"type": "counterparty",
	}
}

func TestConfirmLifecycle(t *testing.T) {
	s := newTestStore(t)

	opID, err := s.CreateOperator("901234567", "Akmal", "secret")
	require.NoError(t, err)

	cid, err := s.CreateConfirm(opID, "LEAP", "Akmal Karimov", "+998910175253", testMeta())
	require.NoError(t, err)

	open, err := s.ListOpenConfirms(opID, 20)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "LEAP", open[0].Brand)
	assert.Equal(t, StatusOpen, open[0].Status)
	assert.Equal(t, "counterparty", open[0].CounterpartyMeta["type"])

	c, err := s.GetConfirm(opID, cid)
	require.NoError(t, err)
	assert.Equal(t, cid, c.ID)

	done, err := s.MarkConfirmDone(opID, cid)
	require.NoError(t, err)
	assert.True(t, done)

	// Second transition is a no-op.
	done, err = s.MarkConfirmDone(opID, cid)
	require.NoError(t, err)
	assert.False(t, done)

	open, err = s.ListOpenConfirms(opID, 20)
	require.NoError(t, err)
	assert.Empty(t, open)

	c, err = s.GetConfirm(opID, cid)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, c.Status)
	assert.True(t, c.DoneAt.Valid)
}

func TestConfirmOperatorScoping(t *testing.T) {
	s := newTestStore(t)

	op1, err := s.CreateOperator("901111111", "First", "p1")
	require.NoError(t, err)
	op2, err := s.CreateOperator("902222222", "Second", "p2")
	require.NoError(t, err)

	cid, err := s.CreateConfirm(op1, "LEAP", "Client", "+998910175253", testMeta())
	require.NoError(t, err)

	_, err = s.GetConfirm(op2, cid)
	assert.ErrorIs(t, err, ErrNotFound)

	done, err := s.MarkConfirmDone(op2, cid)
	require.NoError(t, err)
	assert.False(t, done)

	open, err := s.ListOpenConfirms(op2, 20)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestUpsertOpenConfirmReusesRow(t *testing.T) {
	s := newTestStore(t)

	opID, err := s.CreateOperator("901234567", "Akmal", "secret")
	require.NoError(t, err)

	first, err := s.UpsertOpenConfirm(opID, "leap", "Old Name", "+998910175253", testMeta())
	require.NoError(t, err)

	// Same operator+brand+phone: row is reused, client name refreshed.
	second, err := s.UpsertOpenConfirm(opID, "LEAP", "New Name", "+998910175253", testMeta())
	require.NoError(t, err)
	assert.Equal(t, first, second)

	open, err := s.ListOpenConfirms(opID, 20)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "New Name", open[0].ClientName)

	// Different phone: new row.
	third, err := s.UpsertOpenConfirm(opID, "LEAP", "New Name", "+998900000000", testMeta())
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	// DONE rows are not reused.
	_, err = s.MarkConfirmDone(opID, first)
	require.NoError(t, err)
	fourth, err := s.UpsertOpenConfirm(opID, "LEAP", "New Name", "+998910175253", testMeta())
	require.NoError(t, err)
	assert.NotEqual(t, first, fourth)
}

func TestUpsertOpenConfirmIncompleteKeyFallsBack(t *testing.T) {
	s := newTestStore(t)

	opID, err := s.CreateOperator("901234567", "Akmal", "secret")
	require.NoError(t, err)

	first, err := s.UpsertOpenConfirm(opID, "", "Client", "", testMeta())
	require.NoError(t, err)
	second, err := s.UpsertOpenConfirm(opID, "", "Client", "", testMeta())
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
