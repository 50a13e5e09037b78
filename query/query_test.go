package query

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayedObjectsFulfillUnblocksWait(t *testing.T) {
	d := NewDelayedObjects[string]()
	id := d.NewRequest()
	require.Equal(t, 1, d.Outstanding())

	go func() {
		time.Sleep(5 * time.Millisecond)
		d.Fulfill(id, `{"ok":true}`)
	}()

	result, ok := d.Wait(id)
	require.True(t, ok)
	require.Equal(t, `{"ok":true}`, result)
	require.Equal(t, 0, d.Outstanding())
}

func TestDelayedObjectsWaitUnknownID(t *testing.T) {
	d := NewDelayedObjects[string]()
	_, ok := d.Wait(999)
	require.False(t, ok)
}

func TestMapBuilderCompletesOnceAllFilled(t *testing.T) {
	b := NewMapBuilder([]string{"core-a", "core-b"})
	require.False(t, b.Complete())

	b.Fill("core-a", `{"id":1}`)
	require.False(t, b.Complete())

	b.Fill("core-b", `{"id":2}`)
	require.True(t, b.Complete())

	require.Equal(t, `{"core-a":{"id":1},"core-b":{"id":2}}`, b.Build())
}

func TestMapBuilderIgnoresUnknownKey(t *testing.T) {
	b := NewMapBuilder([]string{"core-a"})
	b.Fill("core-z", `{"id":99}`)
	require.False(t, b.Complete())
}

func TestMapBuilderConcurrentFillsCountOnce(t *testing.T) {
	b := NewMapBuilder([]string{"a"})
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Fill("a", `{}`)
		}()
	}
	wg.Wait()
	require.True(t, b.Complete())
}

type fakeSource struct{}

func (fakeSource) Name() string             { return "fedA" }
func (fakeSource) Address() string          { return "tcp://localhost:9000" }
func (fakeSource) IsInit() bool             { return true }
func (fakeSource) Federates() []string      { return []string{"fedA", "fedB"} }
func (fakeSource) Brokers() []string        { return nil }
func (fakeSource) Publications() []string   { return []string{"x"} }
func (fakeSource) Endpoints() []string      { return nil }
func (fakeSource) DependsOn() []string      { return []string{"fedB"} }
func (fakeSource) Dependents() []string     { return nil }
func (fakeSource) Dependencies() []string   { return []string{"fedB"} }

func TestDispatchWellKnownQueries(t *testing.T) {
	s := fakeSource{}
	out, ok := Dispatch(s, "name")
	require.True(t, ok)
	require.Equal(t, `"fedA"`, out)

	out, ok = Dispatch(s, "federates")
	require.True(t, ok)
	require.Equal(t, `["fedA","fedB"]`, out)

	_, ok = Dispatch(s, "federate_map")
	require.False(t, ok)
}
