package chunk_test

import (
	"context"
	"errors"
	"testing"

	"github.com/srg/blemgr/internal/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}

func sizes(chunks [][]byte) []int {
	out := make([]int, len(chunks))
	for i, c := range chunks {
		out[i] = len(c)
	}
	return out
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name     string
		length   int
		size     int
		expected []int
	}{
		{name: "exact multiple", length: 40, size: 20, expected: []int{20, 20}},
		{name: "remainder", length: 257, size: 100, expected: []int{100, 100, 57}},
		{name: "smaller than one chunk", length: 5, size: 20, expected: []int{5}},
		{name: "single byte chunks", length: 3, size: 1, expected: []int{1, 1, 1}},
		{name: "empty", length: 0, size: 20, expected: []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := payload(tt.length)
			chunks, err := chunk.Split(data, tt.size)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, sizes(chunks))

			var joined []byte
			for _, c := range chunks {
				joined = append(joined, c...)
			}
			assert.Equal(t, len(data), len(joined), "concatenation MUST reproduce the payload")
			if len(data) > 0 {
				assert.Equal(t, data, joined)
			}
		})
	}

	t.Run("rejects non-positive size", func(t *testing.T) {
		_, err := chunk.Split(payload(10), 0)
		assert.ErrorIs(t, err, chunk.ErrInvalidChunkSize)
		_, err = chunk.Split(payload(10), -5)
		assert.ErrorIs(t, err, chunk.ErrInvalidChunkSize)
	})
}

func TestWrite(t *testing.T) {
	t.Run("sends chunks in order", func(t *testing.T) {
		// GOAL: Verify a 257-byte payload at 100 bytes per chunk goes out as 100,100,57
		//
		// TEST SCENARIO: write 257 bytes → three sends in order → result reports 3/3

		var sent [][]byte
		res, err := chunk.Write(context.Background(), payload(257), 100, func(_ context.Context, data []byte) error {
			sent = append(sent, append([]byte(nil), data...))
			return nil
		})

		require.NoError(t, err)
		assert.Equal(t, chunk.Result{Sent: 3, Total: 3}, res)
		assert.Equal(t, []int{100, 100, 57}, sizes(sent))
		assert.Equal(t, byte(200), sent[2][0], "third chunk MUST start at offset 200")
	})

	t.Run("stops at first failure", func(t *testing.T) {
		// GOAL: Verify the write aborts on the failing chunk without sending the rest
		//
		// TEST SCENARIO: second of three chunks fails → third never sent → error names chunk 2

		boom := errors.New("gatt write failed")
		calls := 0
		res, err := chunk.Write(context.Background(), payload(257), 100, func(_ context.Context, _ []byte) error {
			calls++
			if calls == 2 {
				return boom
			}
			return nil
		})

		assert.Equal(t, 2, calls, "MUST NOT send chunks after the failure")
		assert.Equal(t, chunk.Result{Sent: 1, Total: 3}, res)
		assert.ErrorIs(t, err, boom)

		var cerr *chunk.Error
		require.ErrorAs(t, err, &cerr)
		assert.Equal(t, 1, cerr.Index)
		assert.Equal(t, 100, cerr.Offset)
		assert.Equal(t, "chunk 2/3 at offset 100 failed: gatt write failed", cerr.Error())
	})

	t.Run("empty payload is a no-op", func(t *testing.T) {
		res, err := chunk.Write(context.Background(), nil, 20, func(context.Context, []byte) error {
			t.Fatal("MUST NOT call the transport for an empty payload")
			return nil
		})

		assert.NoError(t, err)
		assert.Equal(t, chunk.Result{}, res)
	})

	t.Run("cancelled context stops between chunks", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		calls := 0
		res, err := chunk.Write(ctx, payload(60), 20, func(context.Context, []byte) error {
			calls++
			cancel()
			return nil
		})

		assert.Equal(t, 1, calls, "in-flight chunk MUST complete, next MUST NOT start")
		assert.Equal(t, 1, res.Sent)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPendingWrite(t *testing.T) {
	p, err := chunk.NewPendingWrite("2a19", payload(45), 20)
	require.NoError(t, err)
	assert.Equal(t, 3, p.Remaining())

	w := chunk.NewWriter(func(context.Context, []byte) error { return nil }, 0, nil)
	res, err := w.Write(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Sent)
	assert.Equal(t, 0, p.Remaining())
}
