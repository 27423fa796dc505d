package lens

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recoverGateError(fn func()) (gateErr *GateError) {
	defer func() {
		if r := recover(); r != nil {
			gateErr, _ = r.(*GateError)
		}
	}()
	fn()
	return nil
}

func TestWrapCallLog(t *testing.T) {
	t.Parallel()

	callLog := NewCallLog()
	hook := LoggingHook(callLog, nil)

	gated1, err := Wrap(test1, hook, OutParams(0), Named(fixtureScope, "Test1"))
	require.NoError(t, err)
	gated2, err := Wrap((*TestMethods2).Test2, hook, Method())
	require.NoError(t, err)
	gated3, err := Wrap(test3, hook, Named(fixtureScope, "Test3"))
	require.NoError(t, err)

	var s string
	gated1(&s)
	assert.Equal(t, "hello", s)

	obj := &TestMethods2{}
	assert.Equal(t, "hello123", gated2(obj, 123, "hello"))
	assert.Equal(t, 1, obj.calls)

	assert.InDelta(t, 15.0, gated3(Vec3{2, 4, 6}, []int{100, 200, 300}), 0)

	assert.Equal(t, []string{
		"Test1", "NULL", "NULL",
		"Test2", "TestMethods2", "123", "hello",
		"Test3", "NULL", "2,4,6", "[100 200 300]",
	}, callLog.Lines())
	for _, r := range callLog.Records() {
		assert.True(t, r.Continued)
	}
}

func TestWrapVeto(t *testing.T) {
	t.Parallel()

	t.Run("float_result", func(t *testing.T) {
		gated, err := Wrap(ratio, DenyAll)
		require.NoError(t, err)

		got := gated(1, 2)
		assert.Zero(t, got)
		assert.False(t, math.Signbit(got))
	})

	t.Run("aggregate_and_reference_results", func(t *testing.T) {
		fn := func(n int) (Vec3, string, []int, bool) {
			return Vec3{1, 1, 1}, "x", []int{n}, true
		}
		gated, err := Wrap(fn, DenyAll, Named(fixtureScope, "Multi"))
		require.NoError(t, err)

		v, s, list, ok := gated(1)
		assert.Equal(t, Vec3{}, v)
		assert.Empty(t, s)
		assert.Nil(t, list)
		assert.False(t, ok)
	})

	t.Run("out_param_reset", func(t *testing.T) {
		gated, err := Wrap(test1, DenyAll, OutParams(0))
		require.NoError(t, err)

		s := "stale"
		gated(&s)
		assert.Empty(t, s)
		gated(nil) // nil out pointers are left alone
	})

	t.Run("inout_param_untouched", func(t *testing.T) {
		gated, err := Wrap(swap, DenyAll, InOutParams(0, 1))
		require.NoError(t, err)

		a, b := 1, 2
		assert.False(t, gated(&a, &b))
		assert.Equal(t, 1, a)
		assert.Equal(t, 2, b)
	})

	t.Run("method_not_invoked", func(t *testing.T) {
		gated, err := Wrap((*TestMethods2).Test2, DenyAll, Method())
		require.NoError(t, err)

		obj := &TestMethods2{}
		assert.Empty(t, gated(obj, 1, "a"))
		assert.Zero(t, obj.calls)
	})
}

func TestWrapSelectiveHook(t *testing.T) {
	t.Parallel()

	callLog := NewCallLog()
	onlyEven := func(fd *FunctionDescriptor, receiver any, args []DynamicValue) bool {
		n, _ := args[0].Int64()
		return n%2 == 0
	}
	gated, err := Wrap(sum, LoggingHook(callLog, onlyEven))
	require.NoError(t, err)

	assert.Equal(t, 6, gated(2, 1, 3))
	assert.Zero(t, gated(1, 1, 3))
	assert.Equal(t, 4, gated(4))

	records := callLog.Records()
	require.Len(t, records, 3)
	assert.Equal(t, []string{"2", "[1 3]"}, records[0].Args)
	assert.True(t, records[0].Continued)
	assert.False(t, records[1].Continued)
	assert.Equal(t, []string{"4", "NULL"}, records[2].Args)
}

func TestWrapVariadicSlice(t *testing.T) {
	t.Parallel()

	gated, err := Wrap(sum, AllowAll)
	require.NoError(t, err)
	assert.Equal(t, 10, gated(1, []int{2, 3, 4}...))
}

func TestWrapNilReceiver(t *testing.T) {
	t.Parallel()

	gated, err := Wrap((*TestMethods2).Test2, AllowAll, Method())
	require.NoError(t, err)

	gateErr := recoverGateError(func() {
		gated(nil, 1, "a")
	})
	require.NotNil(t, gateErr)
	require.ErrorIs(t, gateErr, ErrInvalidCallState)
	assert.Contains(t, gateErr.Error(), "*TestMethods2.Test2")
}

func TestWrapConcurrent(t *testing.T) {
	t.Parallel()

	callLog := NewCallLog()
	gated, err := Wrap(test3, LoggingHook(callLog, nil), Named(fixtureScope, "Test3"))
	require.NoError(t, err)

	const goroutines, calls = 8, 50
	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				gated(Vec3{1, 2, 3}, nil)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, goroutines*calls, callLog.Len())
}

func TestInterceptErrors(t *testing.T) {
	t.Parallel()

	_, err := Intercept("not a function", AllowAll)
	require.ErrorIs(t, err, ErrUnsupportedType)

	_, err = Wrap(ratio, AllowAll, OutParams(0))
	require.ErrorIs(t, err, ErrUnsupportedType)
}

func TestChainHooks(t *testing.T) {
	t.Parallel()

	var order []string
	record := func(name string, proceed bool) Hook {
		return func(*FunctionDescriptor, any, []DynamicValue) bool {
			order = append(order, name)
			return proceed
		}
	}

	assert.True(t, ChainHooks()(nil, nil, nil))
	assert.True(t, ChainHooks(nil, AllowAll)(nil, nil, nil))

	chain := ChainHooks(record("a", true), record("b", false), record("c", true))
	assert.False(t, chain(nil, nil, nil))
	assert.Equal(t, []string{"a", "b"}, order)
}

// Tests below swap the process wide gate hook, DO NOT RUN IN PARALLEL

func TestGateEnter(t *testing.T) {
	fd, err := ResolveFunction(test3, Named(fixtureScope, "Test3"))
	require.NoError(t, err)

	assert.True(t, GateEnter(fd, nil, Vec3{}, []int(nil)))

	restore := SetGateHook(DenyAll)
	assert.False(t, GateEnter(fd, nil, Vec3{}, []int(nil)))

	inner := SetGateHook(AllowAll)
	assert.True(t, GateEnter(fd, nil, Vec3{}, []int(nil)))
	inner()
	assert.False(t, GateEnter(fd, nil, Vec3{}, []int(nil)))

	restore()
	assert.True(t, GateEnter(fd, nil, Vec3{}, []int(nil)))
}

func TestGateEnterUnresolved(t *testing.T) {
	restore := SetGateHook(DenyAll)
	defer restore()

	assert.True(t, GateEnter(nil, nil, 1, 2))
}

func TestGateEnterErrors(t *testing.T) {
	fd, err := ResolveFunction(test3, Named(fixtureScope, "Test3"))
	require.NoError(t, err)

	gateErr := recoverGateError(func() {
		GateEnter(fd, nil, Vec3{})
	})
	require.NotNil(t, gateErr)
	require.ErrorIs(t, gateErr, ErrArgumentCountMismatch)
	assert.Equal(t, fixtureScope+":Test3", gateErr.Function)

	method, err := ResolveFunction((*TestMethods2).Test2, Method())
	require.NoError(t, err)
	gateErr = recoverGateError(func() {
		GateEnter(method, nil, 1, "a")
	})
	require.NotNil(t, gateErr)
	require.ErrorIs(t, gateErr, ErrInvalidCallState)
}
