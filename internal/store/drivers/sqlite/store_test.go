package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConnectionPragmas(t *testing.T) {
	st := newTestStore(t)

	var journalMode string
	require.NoError(t, st.db.QueryRow(`PRAGMA journal_mode`).Scan(&journalMode))
	require.Equal(t, "wal", journalMode)

	var busyTimeout int
	require.NoError(t, st.db.QueryRow(`PRAGMA busy_timeout`).Scan(&busyTimeout))
	require.Equal(t, 5000, busyTimeout)

	var foreignKeys int
	require.NoError(t, st.db.QueryRow(`PRAGMA foreign_keys`).Scan(&foreignKeys))
	require.Equal(t, 1, foreignKeys)
}

func TestConnectionPragmasWithExistingQuery(t *testing.T) {
	// A DSN that already carries query parameters must still pick up the
	// connection pragmas.
	dsn := "file:" + filepath.Join(t.TempDir(), "authd_test.db") + "?cache=private"
	st, err := NewStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	var busyTimeout int
	require.NoError(t, st.db.QueryRow(`PRAGMA busy_timeout`).Scan(&busyTimeout))
	require.Equal(t, 5000, busyTimeout)
}
