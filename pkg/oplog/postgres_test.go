package oplog

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// Set DRAWROOM_TEST_POSTGRES to a postgres:// DSN to run the suite against a real database.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("DRAWROOM_TEST_POSTGRES")
	if dsn == "" {
		t.Skip("DRAWROOM_TEST_POSTGRES not set")
	}
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := Open(dsn)
		require.NoError(t, err)
		require.IsType(t, &Postgres{}, s)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}
