package querysql

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/aosim/internal/queryir"
)

func TestCompile_EmptyFilter(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Filter{})
	require.NoError(t, err)

	assert.Equal(t, "SELECT t.id FROM transactions t WHERE 1 = 1"+orderBy, sql)
	assert.Empty(t, params)
}

func TestCompile_AttestationLookup(t *testing.T) {
	f := queryir.Filter{
		Where: queryir.All(
			queryir.OwnerIn{Owners: []string{"sched", "attestor"}},
			queryir.HeightAtMost{Height: 12},
			queryir.TagEquals{Name: "Type", Value: "Attestation"},
			queryir.TagEquals{Name: "Message", Value: "content-1"},
		),
		Limit: 1,
	}

	sql, params, err := NewSQLCompiler().Compile(f)
	require.NoError(t, err)

	assert.Contains(t, sql, "(t.owner IN (?, ?))")
	assert.Contains(t, sql, "(t.block_height <= ?)")
	assert.Contains(t, sql, "g.name = ? AND g.value = ?")
	assert.Contains(t, sql, "ORDER BY")
	assert.Contains(t, sql, "COLLATE BINARY")
	assert.True(t, strings.HasSuffix(sql, " LIMIT ?"))

	// values are never interpolated
	assert.NotContains(t, sql, "Attestation")
	assert.NotContains(t, sql, "content-1")
	assert.Equal(t, []any{
		"sched", "attestor",
		int64(12),
		"Type", "Attestation",
		"Message", "content-1",
		1,
	}, params)
}

func TestCompile_EmptySetIsFalse(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Filter{Where: queryir.OwnerIn{}})
	require.NoError(t, err)
	assert.Contains(t, sql, "WHERE 1 = 0")
	assert.Empty(t, params)
}

func TestCompile_TargetAndIDs(t *testing.T) {
	sql, params, err := NewSQLCompiler().Compile(queryir.Filter{Where: queryir.All(
		queryir.TargetEquals{Target: "p1"},
		queryir.IDIn{IDs: []string{"a"}},
	)})
	require.NoError(t, err)
	assert.Contains(t, sql, "(t.target = ?) AND (t.id IN (?))")
	assert.Equal(t, []any{"p1", "a"}, params)
}

func TestCompile_NegativeLimit(t *testing.T) {
	_, _, err := NewSQLCompiler().Compile(queryir.Filter{Limit: -2})
	assert.Error(t, err)
}

func TestCompile_NestedAnd(t *testing.T) {
	sql, _, err := NewSQLCompiler().Compile(queryir.Filter{Where: queryir.All(
		queryir.All(),
		queryir.All(queryir.TargetEquals{Target: "x"}),
	)})
	require.NoError(t, err)
	assert.Contains(t, sql, "(1 = 1) AND ((t.target = ?))")
}
