package lens

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

func TestStorageCommon(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		store Storage
	}{
		{
			name:  "mem",
			store: NewMemStorage(),
		},
		{
			name:  "prefix",
			store: PrefixStorage(NewMemStorage(), "prefix"),
		},
	}

	if !testing.Short() {
		dir := filepath.Join(t.TempDir(), "badger")
		badgerStorage, err := NewBadgerStorage(dir, 64)
		require.NoError(t, err)
		t.Cleanup(func() { _ = badgerStorage.Close() })

		tests = append(tests, struct {
			name  string
			store Storage
		}{
			name:  "badger",
			store: badgerStorage,
		})
	}

	for _, tc := range tests {
		t.Run(tc.name+"_put_clear", func(t *testing.T) {
			require.NoError(t, tc.store.Put("t1", []byte{1, 2, 3}))
			require.NoError(t, tc.store.Clear())

			keys, err := tc.store.Keys("")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})

		t.Run(tc.name+"_put_get_delete", func(t *testing.T) {
			require.NoError(t, tc.store.Clear()) // ensure storage is reset
			data := []byte{1, 2, 3}

			require.NoError(t, tc.store.Put("t1", data))
			got, ok, err := tc.store.Get("t1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, data, got)

			require.NoError(t, tc.store.Delete("t1"))
			_, ok, err = tc.store.Get("t1")
			require.NoError(t, err)
			assert.False(t, ok)
			require.NoError(t, tc.store.Delete("t1"))
		})

		t.Run(tc.name+"_overwrite", func(t *testing.T) {
			require.NoError(t, tc.store.Clear()) // ensure storage is reset

			require.NoError(t, tc.store.Put("k", []byte("first")))
			require.NoError(t, tc.store.Put("k", []byte("second")))
			got, ok, err := tc.store.Get("k")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []byte("second"), got)
		})

		t.Run(tc.name+"_keys", func(t *testing.T) {
			require.NoError(t, tc.store.Clear()) // ensure storage is reset

			require.NoError(t, tc.store.Put("b1", []byte{3}))
			require.NoError(t, tc.store.Put("a2", []byte{2}))
			require.NoError(t, tc.store.Put("a1", []byte{1}))

			keys, err := tc.store.Keys("")
			require.NoError(t, err)
			assert.Equal(t, []string{"a1", "a2", "b1"}, keys)

			keys, err = tc.store.Keys("a")
			require.NoError(t, err)
			assert.Equal(t, []string{"a1", "a2"}, keys)

			keys, err = tc.store.Keys("c")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})

		t.Run(tc.name+"_blob_isolation", func(t *testing.T) {
			require.NoError(t, tc.store.Clear()) // ensure storage is reset
			want := make([]byte, 1024)
			for i := range want {
				want[i] = byte(i % 251) // deterministic
			}
			input := append([]byte(nil), want...)
			require.NoError(t, tc.store.Put("live", input))
			input[0] = 0xff // caller reuses its buffer

			got, ok, err := tc.store.Get("live")
			require.NoError(t, err)
			require.True(t, ok)
			got[1] = 0xff // caller modifies the result
			_ = tc.store.Put("dummy", []byte{1})

			again, _, err := tc.store.Get("live")
			require.NoError(t, err)
			assert.Equal(t, want, again)
		})

		t.Run(tc.name+"_concurrent", func(t *testing.T) {
			require.NoError(t, tc.store.Clear()) // ensure storage is reset

			type payload struct {
				N int
				S string
			}
			makeBlob := func(n int) []byte {
				b, _ := msgpack.Marshal(payload{N: n, S: strings.Repeat("x", 4096)})
				return b
			}

			require.NoError(t, tc.store.Put("target", makeBlob(42)))

			// writer goroutine: churn the storage while we read
			done := make(chan struct{})
			stopped := make(chan struct{})
			go func() {
				defer close(stopped)
				var i int
				for {
					select {
					case <-done:
						return
					default:
					}
					_ = tc.store.Put("w"+strconv.Itoa(i%8), makeBlob(i))
					i++
				}
			}()

			for i := 0; i < 500; i++ {
				got, ok, err := tc.store.Get("target")
				require.NoError(t, err)
				require.True(t, ok)

				var out payload
				require.NoError(t, msgpack.Unmarshal(got, &out))
				require.Equal(t, 42, out.N)
			}

			close(done)
			<-stopped
		})
	}
}

func TestBadgerStorage(t *testing.T) {
	if testing.Short() {
		t.Skip("skip in short mode")
	}
	t.Parallel()

	path := filepath.Join(t.TempDir(), "db")
	store, err := NewBadgerStorage(path, 32)
	require.NoError(t, err)

	require.NoError(t, store.Put("t1", []byte{1, 2, 3}))
	require.NoError(t, store.Close())

	entries, err := os.ReadDir(path)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)

	// data survives a reopen
	store, err = NewBadgerStorage(path, 32)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	got, ok, err := store.Get("t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got)
}

func TestPrefixStorage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		prefix string
		keys   []string
		filter string
		expect []string
	}{
		{
			name:   "simple",
			prefix: "p",
			keys:   []string{"k1", "sub/k2"},
			filter: "k",
			expect: []string{"k1"},
		},
		{
			name:   "nested",
			prefix: "dir/sub",
			keys:   []string{"a", "sub/a1"},
			filter: "sub",
			expect: []string{"sub/a1"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			base := NewMemStorage()
			store := PrefixStorage(base, tc.prefix)
			require.NoError(t, base.Put("other", []byte("x")))

			for _, k := range tc.keys {
				require.NoError(t, store.Put(k, []byte(k)))
				got, ok, err := store.Get(k)
				require.NoError(t, err)
				require.True(t, ok)
				assert.Equal(t, []byte(k), got)
			}

			wantBase := []string{"other"}
			for _, k := range tc.keys {
				wantBase = append(wantBase, tc.prefix+";"+k)
			}
			keys, err := base.Keys("")
			require.NoError(t, err)
			assert.ElementsMatch(t, wantBase, keys)
			keys, err = store.Keys("")
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.keys, keys)
			keys, err = store.Keys(tc.filter)
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.expect, keys)

			require.NoError(t, store.Clear())
			keys, err = store.Keys("")
			require.NoError(t, err)
			assert.Empty(t, keys)
			keys, err = base.Keys("")
			require.NoError(t, err)
			assert.Equal(t, []string{"other"}, keys)
		})
	}

	t.Run("empty", func(t *testing.T) {
		t.Parallel()

		base := NewMemStorage()
		wrapped := PrefixStorage(base, "")
		assert.Equal(t, base, wrapped)
	})
}

func TestStorageKey(t *testing.T) {
	t.Parallel()

	short := "example.com/pkg:*T.Method"
	assert.Equal(t, short, StorageKey(short))

	exact := strings.Repeat("a", maxStorageKeyLen)
	assert.Equal(t, exact, StorageKey(exact))

	long := strings.Repeat("a", maxStorageKeyLen+1)
	key := StorageKey(long)
	assert.True(t, strings.HasPrefix(key, hashedKeyPrefix))
	assert.Less(t, len(key), maxStorageKeyLen)
	assert.Equal(t, key, StorageKey(long))
	assert.NotEqual(t, key, StorageKey(long+"b"))
}
