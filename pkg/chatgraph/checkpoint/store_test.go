package checkpoint_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/randalmurphal/chatgraph/pkg/chatgraph/checkpoint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeFactory creates a store instance for testing.
type storeFactory func(t *testing.T) checkpoint.Store

func cp(thread string, step int, node string) *checkpoint.Checkpoint {
	return checkpoint.New(thread, step, node, []byte(fmt.Sprintf(`{"step":%d}`, step)), "__end__")
}

// storeContractTest runs contract tests against any Store implementation.
func storeContractTest(t *testing.T, name string, factory storeFactory) {
	ctx := context.Background()

	t.Run(name+"/Save_and_Latest", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, cp("thread-1", 1, "a")))
		require.NoError(t, store.Save(ctx, cp("thread-1", 2, "b")))

		latest, err := store.Latest(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Step)
		assert.Equal(t, "b", latest.NodeID)
		assert.Equal(t, "__end__", latest.NextNode)
		assert.JSONEq(t, `{"step":2}`, string(latest.State))
	})

	t.Run(name+"/Latest_NotFound", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		_, err := store.Latest(ctx, "thread-nonexistent")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run(name+"/Get", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, cp("thread-1", 1, "a")))
		require.NoError(t, store.Save(ctx, cp("thread-1", 5, "b")))

		got, err := store.Get(ctx, "thread-1", 1)
		require.NoError(t, err)
		assert.Equal(t, "a", got.NodeID)

		_, err = store.Get(ctx, "thread-1", 3)
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run(name+"/SetNextNode", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		pending := checkpoint.New("thread-1", 1, "a", []byte(`{"step":1}`), "")
		require.NoError(t, store.Save(ctx, pending))
		require.NoError(t, store.Save(ctx, checkpoint.New("thread-1", 2, "b", []byte(`{"step":2}`), "")))

		require.NoError(t, store.SetNextNode(ctx, "thread-1", 1, "b"))

		got, err := store.Get(ctx, "thread-1", 1)
		require.NoError(t, err)
		assert.Equal(t, "b", got.NextNode)
		assert.Equal(t, "a", got.NodeID)
		assert.JSONEq(t, `{"step":1}`, string(got.State))

		latest, err := store.Latest(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, 2, latest.Step)
		assert.Empty(t, latest.NextNode)

		infos, err := store.List(ctx, "thread-1")
		require.NoError(t, err)
		require.Len(t, infos, 2)
		assert.Equal(t, "b", infos[0].NextNode)

		err = store.SetNextNode(ctx, "thread-1", 7, "b")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run(name+"/Save_StaleStep", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, cp("thread-1", 3, "a")))

		err := store.Save(ctx, cp("thread-1", 3, "b"))
		assert.ErrorIs(t, err, checkpoint.ErrStaleStep)

		err = store.Save(ctx, cp("thread-1", 2, "b"))
		assert.ErrorIs(t, err, checkpoint.ErrStaleStep)

		latest, err := store.Latest(ctx, "thread-1")
		require.NoError(t, err)
		assert.Equal(t, "a", latest.NodeID)
	})

	t.Run(name+"/Save_RequiresThreadID", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		err := store.Save(ctx, cp("", 1, "a"))
		assert.ErrorIs(t, err, checkpoint.ErrThreadIDRequired)
	})

	t.Run(name+"/List_Empty", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		infos, err := store.List(ctx, "thread-nonexistent")
		require.NoError(t, err)
		assert.Empty(t, infos)
	})

	t.Run(name+"/List_Ordered", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, cp("thread-1", 1, "a")))
		require.NoError(t, store.Save(ctx, cp("thread-1", 2, "b")))
		require.NoError(t, store.Save(ctx, cp("thread-1", 3, "c")))

		infos, err := store.List(ctx, "thread-1")
		require.NoError(t, err)
		require.Len(t, infos, 3)

		for i, info := range infos {
			assert.Equal(t, i+1, info.Step)
			assert.Equal(t, "thread-1", info.ThreadID)
			assert.Positive(t, info.Size)
		}
		assert.Equal(t, "c", infos[2].NodeID)
	})

	t.Run(name+"/Threads_Isolated", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, cp("thread-1", 5, "a")))
		require.NoError(t, store.Save(ctx, cp("thread-2", 1, "b")))

		latest, err := store.Latest(ctx, "thread-2")
		require.NoError(t, err)
		assert.Equal(t, 1, latest.Step)
	})

	t.Run(name+"/DeleteThread", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		require.NoError(t, store.Save(ctx, cp("thread-1", 1, "a")))
		require.NoError(t, store.Save(ctx, cp("thread-2", 1, "a")))

		require.NoError(t, store.DeleteThread(ctx, "thread-1"))

		_, err := store.Latest(ctx, "thread-1")
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		_, err = store.Latest(ctx, "thread-2")
		assert.NoError(t, err)

		// Deleting an unknown thread is not an error
		assert.NoError(t, store.DeleteThread(ctx, "thread-nonexistent"))

		// Steps may restart after deletion
		assert.NoError(t, store.Save(ctx, cp("thread-1", 1, "a")))
	})

	t.Run(name+"/Closed", func(t *testing.T) {
		store := factory(t)
		require.NoError(t, store.Close())

		assert.ErrorIs(t, store.Save(ctx, cp("thread-1", 1, "a")), checkpoint.ErrStoreClosed)
		_, err := store.Latest(ctx, "thread-1")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
		_, err = store.List(ctx, "thread-1")
		assert.ErrorIs(t, err, checkpoint.ErrStoreClosed)
		assert.ErrorIs(t, store.DeleteThread(ctx, "thread-1"), checkpoint.ErrStoreClosed)

		// Double close is safe
		assert.NoError(t, store.Close())
	})

	t.Run(name+"/ConcurrentThreads", func(t *testing.T) {
		store := factory(t)
		defer store.Close()

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				thread := fmt.Sprintf("thread-%d", i)
				for step := 1; step <= 10; step++ {
					assert.NoError(t, store.Save(ctx, cp(thread, step, "n")))
				}
			}(i)
		}
		wg.Wait()

		for i := 0; i < 5; i++ {
			infos, err := store.List(ctx, fmt.Sprintf("thread-%d", i))
			require.NoError(t, err)
			assert.Len(t, infos, 10)
		}
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	storeContractTest(t, "MemoryStore", func(t *testing.T) checkpoint.Store {
		return checkpoint.NewMemoryStore()
	})
}

func TestMemoryStore_Len(t *testing.T) {
	ctx := context.Background()
	store := checkpoint.NewMemoryStore()
	defer store.Close()

	assert.Equal(t, 0, store.Len())
	require.NoError(t, store.Save(ctx, cp("thread-1", 1, "a")))
	require.NoError(t, store.Save(ctx, cp("thread-2", 1, "a")))
	assert.Equal(t, 2, store.Len())
}
