package upload

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/npezzotti/go-messenger/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = Key{ConversationId: "abc", SenderId: 1}

func feed(t *testing.T, r *Reassembler, key Key, order []int, chunks [][]byte) Result {
	t.Helper()

	var last Result
	for n, idx := range order {
		res, err := r.Accept(key, idx, len(chunks), chunks[idx])
		require.NoError(t, err)
		if n < len(order)-1 {
			assert.False(t, res.Complete, "expected pending result before the last chunk")
		}
		last = res
	}
	return last
}

func TestAcceptOrderIndependent(t *testing.T) {
	chunks := [][]byte{[]byte("AA"), []byte("BB"), []byte("CC")}

	inOrder := feed(t, NewReassembler(0), testKey, []int{0, 1, 2}, chunks)
	shuffled := feed(t, NewReassembler(0), testKey, []int{2, 0, 1}, chunks)

	require.True(t, inOrder.Complete)
	require.True(t, shuffled.Complete)
	assert.Equal(t, []byte("AABBCC"), inOrder.Data)
	assert.Equal(t, inOrder.Data, shuffled.Data)
}

func TestAcceptSingleChunk(t *testing.T) {
	r := NewReassembler(0)

	res, err := r.Accept(testKey, 0, 1, []byte("hello"))
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, []byte("hello"), res.Data)
	assert.Equal(t, 0, r.Len(), "expected session to be removed after completion")
}

func TestAcceptDuplicateChunk(t *testing.T) {
	r := NewReassembler(0)

	res, err := r.Accept(testKey, 0, 2, []byte("first"))
	require.NoError(t, err)
	assert.False(t, res.Complete)

	res, err = r.Accept(testKey, 0, 2, []byte("second"))
	require.NoError(t, err)
	assert.False(t, res.Complete, "duplicate chunk must not complete the session")
	assert.Equal(t, 1, r.Len())

	res, err = r.Accept(testKey, 1, 2, []byte("-tail"))
	require.NoError(t, err)
	require.True(t, res.Complete)
	assert.Equal(t, []byte("first-tail"), res.Data, "expected the first copy of a duplicate chunk to win")
}

func TestAcceptInvalidChunk(t *testing.T) {
	tcases := []struct {
		name  string
		index int
		total int
	}{
		{name: "negative index", index: -1, total: 2},
		{name: "index equals total", index: 2, total: 2},
		{name: "zero total", index: 0, total: 0},
		{name: "total over limit", index: 0, total: 9},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			r := NewReassembler(8)
			_, err := r.Accept(testKey, tc.index, tc.total, []byte("x"))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidChunk))
			assert.True(t, errors.Is(err, types.ErrBadRequest))
			assert.Equal(t, 0, r.Len(), "expected no session to be allocated")
		})
	}
}

func TestAcceptTotalMismatch(t *testing.T) {
	r := NewReassembler(0)

	_, err := r.Accept(testKey, 0, 3, []byte("a"))
	require.NoError(t, err)

	_, err = r.Accept(testKey, 1, 4, []byte("b"))
	assert.ErrorIs(t, err, ErrInvalidChunk)

	// session untouched: the first total still completes it
	_, err = r.Accept(testKey, 1, 3, []byte("b"))
	require.NoError(t, err)
	res, err := r.Accept(testKey, 2, 3, []byte("c"))
	require.NoError(t, err)
	assert.True(t, res.Complete)
	assert.Equal(t, []byte("abc"), res.Data)
}

func TestAcceptIncompleteAssembly(t *testing.T) {
	r := NewReassembler(0)

	_, err := r.Accept(testKey, 0, 2, nil)
	require.NoError(t, err)

	_, err = r.Accept(testKey, 1, 2, []byte("b"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, types.ErrIncompleteAssembly))
	assert.Equal(t, 0, r.Len(), "expected session to be dropped")
}

func TestAcceptSeparateSenders(t *testing.T) {
	r := NewReassembler(0)
	other := Key{ConversationId: testKey.ConversationId, SenderId: 2}

	_, err := r.Accept(testKey, 0, 2, []byte("a1"))
	require.NoError(t, err)
	_, err = r.Accept(other, 0, 2, []byte("b1"))
	require.NoError(t, err)
	assert.Equal(t, 2, r.Len())

	res, err := r.Accept(other, 1, 2, []byte("b2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("b1b2"), res.Data)

	res, err = r.Accept(testKey, 1, 2, []byte("a2"))
	require.NoError(t, err)
	assert.Equal(t, []byte("a1a2"), res.Data)
}

func TestAcceptConcurrentCompletesOnce(t *testing.T) {
	const total = 64

	r := NewReassembler(0)

	var (
		wg        sync.WaitGroup
		completes atomic.Int32
		result    atomic.Value
	)
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			res, err := r.Accept(testKey, idx, total, []byte{byte(idx)})
			assert.NoError(t, err)
			if res.Complete {
				completes.Add(1)
				result.Store(res.Data)
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), completes.Load(), "expected exactly one completion")
	data := result.Load().([]byte)
	require.Len(t, data, total)
	for i, b := range data {
		assert.Equal(t, byte(i), b)
	}
	assert.Equal(t, 0, r.Len())
}

func TestAbort(t *testing.T) {
	r := NewReassembler(0)

	_, err := r.Accept(testKey, 0, 2, []byte("a"))
	require.NoError(t, err)

	r.Abort(testKey)
	assert.Equal(t, 0, r.Len())

	// a fresh session starts from scratch
	res, err := r.Accept(testKey, 1, 2, []byte("b"))
	require.NoError(t, err)
	assert.False(t, res.Complete)
}

func TestSweep(t *testing.T) {
	r := NewReassembler(0)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	_, err := r.Accept(testKey, 0, 2, []byte("a"))
	require.NoError(t, err)

	now = now.Add(time.Minute)
	fresh := Key{ConversationId: "xyz", SenderId: 3}
	_, err = r.Accept(fresh, 0, 2, []byte("a"))
	require.NoError(t, err)

	now = now.Add(4*time.Minute + time.Second)
	assert.Equal(t, 1, r.Sweep(5*time.Minute))
	assert.Equal(t, 1, r.Len())

	now = now.Add(time.Minute)
	assert.Equal(t, 1, r.Sweep(5*time.Minute))
	assert.Equal(t, 0, r.Len())
}
