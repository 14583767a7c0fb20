// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/autollama/autollama/storage"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	tmpDir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(tmpDir, false)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	info, err := os.Stat(tmpDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	tmpFile := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(tmpFile, []byte("x"), 0644))

	backend, err := OpenBackend(tmpFile, false)
	assert.Error(t, err)
	assert.Nil(t, backend)
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)

	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())

	err = backend.View(context.Background(), func(tx *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}

func TestBackendUpdate_CancelledContext(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err = backend.Update(ctx, func(tx *badger.Txn) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, called)
}

func TestBackendUpdate_ReplaysOnConflict(t *testing.T) {
	backend, err := OpenBackend("", true)
	require.NoError(t, err)
	defer backend.Close()

	ctx := context.Background()
	key := []byte("counter")

	attempts := 0
	err = backend.Update(ctx, func(tx *badger.Txn) error {
		attempts++
		if _, err := tx.Get(key); err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if attempts == 1 {
			// A competing writer commits between our read and our commit.
			require.NoError(t, backend.Update(ctx, func(other *badger.Txn) error {
				return other.Set(key, []byte("other"))
			}))
		}
		return tx.Set(key, []byte("ours"))
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)

	err = backend.View(ctx, func(tx *badger.Txn) error {
		item, err := tx.Get(key)
		require.NoError(t, err)
		val, err := item.ValueCopy(nil)
		require.NoError(t, err)
		assert.Equal(t, "ours", string(val))
		return nil
	})
	require.NoError(t, err)
}

func TestChunkSourceKeyOrdering(t *testing.T) {
	a := makeChunkSourceKey("doc.txt", 2)
	b := makeChunkSourceKey("doc.txt", 10)
	assert.Less(t, string(a), string(b))
	assert.Equal(t, 10, chunkIndexFromSourceKey(b))
	assert.NotEqual(t, string(makePartialChunkSourceKey("a")), string(makePartialChunkSourceKey("b")))
}
