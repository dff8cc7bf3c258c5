package dbutil

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFinalizeRewritesLimit(t *testing.T) {
	query, args := Finalize("SELECT a FROM t WHERE (b=?) ORDER BY c LIMIT ?,?", []interface{}{"x", uint(5), uint(10)})
	require.Equal(t, "SELECT a FROM t WHERE (b=$1) ORDER BY c LIMIT $2 OFFSET $3", query)
	require.Equal(t, []interface{}{"x", uint(10), uint(5)}, args)
}

func TestFinalizeWithoutLimit(t *testing.T) {
	query, args := Finalize("DELETE FROM t WHERE (id IN (?,?))", []interface{}{"a", "b"})
	require.Equal(t, "DELETE FROM t WHERE (id IN ($1,$2))", query)
	require.Len(t, args, 2)
}
