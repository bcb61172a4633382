package postgres

import (
	"errors"
	"math/big"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"

	"github.com/ridoystarlord/persisto/backend"
	"github.com/ridoystarlord/persisto/backend/sqlgen"
)

func TestMapErrorStaleVersion(t *testing.T) {
	err := mapError("update", "Account", &pgconn.PgError{Code: sqlgen.StaleVersionCode, Message: "stale version"})
	assert.True(t, errors.Is(err, backend.ErrStaleVersion))
	assert.Equal(t, sqlgen.StaleVersionCode, backend.CodeOf(err))
}

func TestMapErrorKeepsSQLState(t *testing.T) {
	err := mapError("insert", "Customer", &pgconn.PgError{Code: "23505", Message: "duplicate key value"})
	assert.Equal(t, "23505", backend.CodeOf(err))
	assert.Contains(t, err.Error(), "duplicate key value")
	assert.False(t, errors.Is(err, backend.ErrStaleVersion))
}

func TestMapErrorNoRows(t *testing.T) {
	err := mapError("insert", "Customer", pgx.ErrNoRows)
	assert.True(t, errors.Is(err, backend.ErrNoRows))
}

func TestDecode(t *testing.T) {
	assert.Equal(t, int64(7), decode(int32(7)))
	assert.Equal(t, int64(3), decode(int16(3)))
	assert.Equal(t, "x", decode("x"))
	assert.Nil(t, decode(pgtype.Numeric{}))
	assert.Equal(t, 12.5, decode(pgtype.Numeric{Int: big.NewInt(125), Exp: -1, Valid: true}))
}
