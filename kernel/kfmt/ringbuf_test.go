package kfmt

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRingBuffer(t *testing.T) {
	var (
		rb  ringBuffer
		buf bytes.Buffer
	)

	t.Run("read/write", func(t *testing.T) {
		rb = ringBuffer{}
		buf.Reset()

		n, err := rb.Write([]byte("the big brown fox"))
		require.NoError(t, err)
		assert.Equal(t, 17, n)

		_, err = io.Copy(&buf, &rb)
		require.NoError(t, err)
		assert.Equal(t, "the big brown fox", buf.String())
	})

	t.Run("overwrite oldest data", func(t *testing.T) {
		rb = ringBuffer{}
		buf.Reset()

		for i := 0; i < ringBufferSize; i++ {
			_, _ = rb.Write([]byte{'a'})
		}
		_, _ = rb.Write([]byte("xyz"))

		_, err := io.Copy(&buf, &rb)
		require.NoError(t, err)

		out := buf.Bytes()
		require.Len(t, out, ringBufferSize)
		assert.Equal(t, "xyz", string(out[ringBufferSize-3:]))
		assert.Equal(t, byte('a'), out[0])
	})

	t.Run("small reads", func(t *testing.T) {
		rb = ringBuffer{}
		_, _ = rb.Write([]byte("abcdef"))

		p := make([]byte, 4)
		n, err := rb.Read(p)
		require.NoError(t, err)
		assert.Equal(t, "abcd", string(p[:n]))

		n, err = rb.Read(p)
		require.NoError(t, err)
		assert.Equal(t, "ef", string(p[:n]))

		_, err = rb.Read(p)
		assert.Equal(t, io.EOF, err)
	})
}
