package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	script := `-- +no-transaction
-- build the hot-path index without blocking writes
CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_swaps_pool ON swaps (pool_id);

ANALYZE swaps;
-- trailing comment
`
	statements := splitStatements(script)
	require.Len(t, statements, 2)
	assert.Equal(t, "CREATE INDEX CONCURRENTLY IF NOT EXISTS idx_swaps_pool ON swaps (pool_id)", statements[0])
	assert.Equal(t, "ANALYZE swaps", statements[1])
}

func TestNoTxMarkerDetection(t *testing.T) {
	assert.True(t, hasNoTxMarker("-- +no-transaction\nCREATE INDEX CONCURRENTLY idx ON t (c);"))
	assert.True(t, hasNoTxMarker("  -- +NO-TRANSACTION  \nANALYZE t;"))
	assert.False(t, hasNoTxMarker("-- plain comment\nCREATE TABLE t (c INT);"))
	assert.False(t, hasNoTxMarker("SELECT '-- +no-transaction is not a marker inside a statement';"))
}
