// SPDX-License-Identifier: MIT

package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cubhouse/mom/internal/catalog"
	"github.com/cubhouse/mom/internal/content"
	"github.com/cubhouse/mom/internal/derive"
	"github.com/cubhouse/mom/internal/deriver"
	"github.com/cubhouse/mom/internal/jobs"
	"github.com/cubhouse/mom/internal/storage"
)

func startWatcher(t *testing.T) (string, *catalog.Store, *storage.Memory) {
	t.Helper()

	root := t.TempDir()
	cat, err := catalog.NewStore(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cat.Close() })

	store := storage.NewMemory(0)
	exec := deriver.New(deriver.Config{Env: "dev", DevRoot: root}, cat, store, jobs.NewRegistry())
	w := New(root, "dev", "dev", cat, store, exec, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		err := w.Run(ctx)
		assert.True(t, errors.Is(err, context.Canceled), "unexpected watcher exit: %v", err)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// Give the watcher a moment to arm before the test writes files.
	time.Sleep(100 * time.Millisecond)

	return root, cat, store
}

func lookupEventually(t *testing.T, cat *catalog.Store, path string) content.Input {
	t.Helper()
	var in content.Input
	require.Eventually(t, func() bool {
		got, err := cat.Lookup(context.Background(), "dev", path)
		if err != nil {
			return false
		}
		in = got
		return true
	}, 5*time.Second, 25*time.Millisecond, "input %s never registered", path)
	return in
}

func TestWatcherRegistersNewFile(t *testing.T) {
	root, cat, store := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "page.md"), []byte("# draft"), 0o600))

	in := lookupEventually(t, cat, "page.md")
	assert.Equal(t, content.HashBytes([]byte("# draft")), in.ContentHash)
	assert.Equal(t, "text/markdown", in.ContentType)

	// Source bytes land in storage under the input's source key.
	data, err := store.Get(context.Background(), derive.SourceKey("dev", in))
	require.NoError(t, err)
	assert.Equal(t, []byte("# draft"), data)
}

func TestWatcherWarmsPassthroughDerivation(t *testing.T) {
	root, cat, store := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, "page.md"), []byte("# warm"), 0o600))
	in := lookupEventually(t, cat, "page.md")

	// Registration kicks a passthrough derivation, so the derived artifact is
	// in storage under the input's own hash.
	key := derive.Key("dev", in.ContentHash, "md")
	require.Eventually(t, func() bool {
		data, err := store.Get(context.Background(), key)
		return err == nil && string(data) == "# warm"
	}, 5*time.Second, 25*time.Millisecond, "derived artifact never appeared at %s", key)
}

func TestWatcherReRegistersOnChange(t *testing.T) {
	root, cat, _ := startWatcher(t)
	path := filepath.Join(root, "page.md")

	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o600))
	first := lookupEventually(t, cat, "page.md")

	require.NoError(t, os.WriteFile(path, []byte("v2 content"), 0o600))
	require.Eventually(t, func() bool {
		in, err := cat.Lookup(context.Background(), "dev", "page.md")
		return err == nil && in.ContentHash != first.ContentHash
	}, 5*time.Second, 25*time.Millisecond, "changed file must get a new hash")
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	root, cat, _ := startWatcher(t)

	dir := filepath.Join(root, "posts")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.md"), []byte("nested"), 0o600))

	in := lookupEventually(t, cat, "posts/a.md")
	assert.Equal(t, content.HashBytes([]byte("nested")), in.ContentHash)
}

func TestWatcherIgnoresEditorDroppings(t *testing.T) {
	root, cat, _ := startWatcher(t)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".page.md.swp"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "page.md~"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "real.md"), []byte("keep"), 0o600))

	lookupEventually(t, cat, "real.md")

	_, err := cat.Lookup(context.Background(), "dev", ".page.md.swp")
	assert.ErrorIs(t, err, catalog.ErrUnknownInput)
	_, err = cat.Lookup(context.Background(), "dev", "page.md~")
	assert.ErrorIs(t, err, catalog.ErrUnknownInput)
}
