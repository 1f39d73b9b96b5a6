package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amelia-dev/amelia/pkg/database"
	"github.com/amelia-dev/amelia/pkg/store"
)

// newTestStore opens a fresh database under t.TempDir with defaults seeded.
func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	ctx := context.Background()

	client, err := database.NewClient(ctx, filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	st := store.New(client.DB())
	require.NoError(t, st.Settings.EnsureDefaults(ctx))
	require.NoError(t, st.Profiles.EnsureDefault(ctx))
	return st
}
