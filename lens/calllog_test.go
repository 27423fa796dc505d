package lens

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeTestCallLog(t *testing.T) *CallLog {
	t.Helper()

	callLog := NewCallLog()
	decide := func(fd *FunctionDescriptor, receiver any, args []DynamicValue) bool {
		return fd.Name != "ratio"
	}
	hook := LoggingHook(callLog, decide)

	gated3, err := Wrap(test3, hook, Named(fixtureScope, "Test3"))
	require.NoError(t, err)
	gatedRatio, err := Wrap(ratio, hook)
	require.NoError(t, err)

	gated3(Vec3{2, 4, 6}, []int{1})
	gated3(Vec3{1, 1, 1}, nil)
	gatedRatio(1, 4)
	return callLog
}

func TestCallLogRecord(t *testing.T) {
	t.Parallel()

	callLog := makeTestCallLog(t)
	records := callLog.Records()
	require.Len(t, records, 3)
	assert.Equal(t, 3, callLog.Len())

	assert.Equal(t, "Test3", records[0].Function)
	assert.Equal(t, fixtureScope+":Test3", records[0].Ident)
	assert.Equal(t, "NULL", records[0].Receiver)
	assert.Equal(t, []string{"2,4,6", "[1]"}, records[0].Args)
	assert.True(t, records[0].Continued)
	assert.Equal(t, []string{"1,1,1", "NULL"}, records[1].Args)
	assert.Equal(t, "ratio", records[2].Function)
	assert.Equal(t, []string{"1", "0.25"}, records[2].Args)
	assert.False(t, records[2].Continued)
	assert.LessOrEqual(t, records[0].TimeNS, records[2].TimeNS)

	records[0].Function = "changed"
	assert.Equal(t, "Test3", callLog.Records()[0].Function)

	callLog.Reset()
	assert.Zero(t, callLog.Len())
	assert.Empty(t, callLog.Lines())
}

func TestCallRecordLines(t *testing.T) {
	t.Parallel()

	records := []CallRecord{
		{Function: "A", Receiver: "NULL"},
		{Function: "B", Receiver: "T", Args: []string{"1", "NULL"}},
	}
	assert.Equal(t, []string{"A", "NULL", "B", "T", "1", "NULL"}, CallRecordLines(records))
	assert.Nil(t, CallRecordLines(nil))
}

func TestStats(t *testing.T) {
	t.Parallel()

	stats := Stats(makeTestCallLog(t).Records())
	require.Len(t, stats, 2)

	assert.Equal(t, fixtureScope+":Test3", stats[0].Ident)
	assert.Equal(t, 2, stats[0].Continued)
	assert.Zero(t, stats[0].Skipped)
	assert.Equal(t, "github.com/PatchLens/go-call-lens/lens:ratio", stats[1].Ident)
	assert.Zero(t, stats[1].Continued)
	assert.Equal(t, 1, stats[1].Skipped)

	assert.Empty(t, Stats(nil))
}

func TestEncodeCallRecords(t *testing.T) {
	t.Parallel()

	records := makeTestCallLog(t).Records()
	blob, err := EncodeCallRecords(records)
	require.NoError(t, err)

	decoded, err := DecodeCallRecords(blob)
	require.NoError(t, err)
	assert.Equal(t, records, decoded)

	_, err = DecodeCallRecords([]byte("not zstd"))
	require.Error(t, err)
	_, err = DecodeCallRecords(ZstdCompress(nil, []byte{0xc1}))
	require.Error(t, err)
}

func TestSaveLoadCallLog(t *testing.T) {
	t.Parallel()

	stores := map[string]Storage{
		"mem":    NewMemStorage(),
		"prefix": PrefixStorage(NewMemStorage(), "calllog"),
	}
	if !testing.Short() {
		db, err := NewBadgerStorage(filepath.Join(t.TempDir(), "badger"), 16)
		require.NoError(t, err)
		t.Cleanup(func() { _ = db.Close() })
		stores["badger"] = db
	}

	callLog := makeTestCallLog(t)
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, SaveCallLog(store, "run1", callLog))

			loaded, ok, err := LoadCallLog(store, "run1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, callLog.Lines(), loaded.Lines())

			_, ok, err = LoadCallLog(store, "missing")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Put(StorageKey("corrupt"), []byte{1, 2, 3}))
			_, ok, err = LoadCallLog(store, "corrupt")
			require.Error(t, err)
			assert.True(t, ok)
		})
	}
}

// swaps the process wide gate hook, DO NOT RUN IN PARALLEL
func TestRecordGateCalls(t *testing.T) {
	fd, err := ResolveFunction(test3, Named(fixtureScope, "Test3"))
	require.NoError(t, err)
	store := NewMemStorage()

	stop := RecordGateCalls(store, "gated", func(*FunctionDescriptor, any, []DynamicValue) bool {
		return false
	})
	assert.False(t, GateEnter(fd, nil, Vec3{2, 4, 6}, []int{7}))
	require.NoError(t, stop())

	// hook restored, calls no longer recorded
	assert.True(t, GateEnter(fd, nil, Vec3{}, []int(nil)))

	loaded, ok, err := LoadCallLog(store, "gated")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"Test3", "NULL", "2,4,6", "[7]"}, loaded.Lines())
	assert.False(t, loaded.Records()[0].Continued)
}
