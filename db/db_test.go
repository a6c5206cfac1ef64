package db_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/zerotto-annme/maistergo-miniapp/db"

	"github.com/lib/pq"
	"github.com/stretchr/testify/require"
)

func TestIsUniqueViolation(t *testing.T) {
	require.True(t, db.IsUniqueViolation(&pq.Error{Code: "23505"}))
	require.True(t, db.IsUniqueViolation(fmt.Errorf("insert: %w", &pq.Error{Code: "23505"})))
	require.False(t, db.IsUniqueViolation(&pq.Error{Code: "23503"}))
	require.False(t, db.IsUniqueViolation(errors.New("plain error")))
	require.False(t, db.IsUniqueViolation(nil))
}
