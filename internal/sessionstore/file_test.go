// internal/sessionstore/file_test.go
package sessionstore

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/courier-cli/api/schemas"
)

func testState(cookieName string) *schemas.StorageState {
	return &schemas.StorageState{
		Cookies: []*schemas.Cookie{
			{
				Name:     cookieName,
				Value:    "v-" + cookieName,
				Domain:   ".example.com",
				Path:     "/",
				Expires:  1893456000,
				Secure:   true,
				HTTPOnly: true,
				SameSite: schemas.CookieSameSiteLax,
			},
		},
		LocalStorage:   map[string]string{"auth": "token-" + cookieName},
		SessionStorage: map[string]string{},
	}
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFile(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return store
}

func TestFileStoreSaveLoadRoundTrip(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	want := testState("sid")
	require.NoError(t, store.Save(ctx, "user@example.com", want))

	got, found, err := store.Load(ctx, "user@example.com")
	require.NoError(t, err)
	require.True(t, found)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("loaded state mismatch (-want +got):\n%s", diff)
	}
}

func TestFileStoreLoadBeforeSaveIsAbsent(t *testing.T) {
	store := newFileStore(t)

	got, found, err := store.Load(context.Background(), "never-saved@example.com")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestFileStoreLastWriteWins(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "user@example.com", testState("first")))
	require.NoError(t, store.Save(ctx, "user@example.com", testState("second")))

	got, found, err := store.Load(ctx, "user@example.com")
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got.Cookies, 1)
	assert.Equal(t, "second", got.Cookies[0].Name)
	assert.Equal(t, "token-second", got.LocalStorage["auth"])
}

func TestFileStoreCorruptFileDegradesToAbsent(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	path := store.path("user@example.com")
	require.NoError(t, os.WriteFile(path, []byte("{ not json"), 0o600))

	got, found, err := store.Load(ctx, "user@example.com")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, got)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	store := newFileStore(t)
	require.NoError(t, store.Save(context.Background(), "user@example.com", testState("sid")))

	entries, err := os.ReadDir(store.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".json"))
	assert.NotContains(t, entries[0].Name(), ".tmp")
}

func TestFileStoreRestrictsFileMode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("posix file modes")
	}
	store := newFileStore(t)
	require.NoError(t, store.Save(context.Background(), "user@example.com", testState("sid")))

	info, err := os.Stat(store.path("user@example.com"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileStoreDistinctPrincipalsDoNotCollide(t *testing.T) {
	store := newFileStore(t)
	ctx := context.Background()

	// Both sanitize to the same slug; the hash suffix keeps them apart.
	require.NoError(t, store.Save(ctx, "user@example.com", testState("at")))
	require.NoError(t, store.Save(ctx, "user.example.com", testState("dot")))

	gotAt, found, err := store.Load(ctx, "user@example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "at", gotAt.Cookies[0].Name)

	gotDot, found, err := store.Load(ctx, "user.example.com")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "dot", gotDot.Cookies[0].Name)
}

func TestFileStoreRejectsNilState(t *testing.T) {
	store := newFileStore(t)
	require.Error(t, store.Save(context.Background(), "user@example.com", nil))
}

func TestFileStoreHonorsCancelledContext(t *testing.T) {
	store := newFileStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.ErrorIs(t, store.Save(ctx, "user@example.com", testState("sid")), context.Canceled)
	_, _, err := store.Load(ctx, "user@example.com")
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewFileRequiresDirectory(t *testing.T) {
	_, err := NewFile("", zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestNewFileCreatesNestedDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "deep", "sessions")
	_, err := NewFile(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestPrincipalKeyShape(t *testing.T) {
	key := principalKey("User@Example.com")
	assert.Equal(t, strings.ToLower(key), key)
	assert.NotContains(t, key, "@")
	// Same input is stable; different inputs differ.
	assert.Equal(t, key, principalKey("User@Example.com"))
	assert.NotEqual(t, key, principalKey("user@example.com"))
}
