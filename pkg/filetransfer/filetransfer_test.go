package filetransfer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-osdp/osdp"
	"github.com/go-osdp/osdp/pkg/codec"
)

// memFile is an in-memory FileOps double standing in for the
// application's real file-ops registry.
type memFile struct {
	data []byte
	buf  *bytes.Buffer
}

func (f *memFile) Open(id uint8) (uint32, error) { return uint32(len(f.data)), nil }
func (f *memFile) Read(offset uint32, length int) ([]byte, error) {
	end := int(offset) + length
	if end > len(f.data) {
		end = len(f.data)
	}
	return f.data[offset:end], nil
}
func (f *memFile) Write(offset uint32, data []byte) (int, error) {
	f.buf.Write(data)
	return len(data), nil
}
func (f *memFile) Close() error { return nil }

func TestSenderReceiverFullTransfer(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 37)
	src := &memFile{data: payload}
	dst := &memFile{buf: &bytes.Buffer{}}

	sender, err := NewSender(1, 7, src, []osdp.Capability{
		{Function: osdp.CapLargestCombinedMessage, NumItems: 16},
	})
	require.NoError(t, err)
	receiver := NewReceiver(dst)

	for !sender.Done() {
		chunk, ok := sender.Next()
		if !ok {
			break
		}
		status, err := receiver.HandleChunk(chunk)
		require.NoError(t, err)
		sender.Ack(status)
	}

	assert.NoError(t, sender.Err())
	assert.Equal(t, payload, dst.buf.Bytes())
	size, offset := sender.Progress()
	assert.Equal(t, size, offset)
}

func TestSenderFailsAfterMaxRetries(t *testing.T) {
	src := &memFile{data: make([]byte, 10)}
	sender, err := NewSender(1, 1, src, nil)
	require.NoError(t, err)

	_, ok := sender.Next()
	require.True(t, ok)
	// MaxRetries timeouts are each followed by a retry; the next one fails.
	for i := 0; i <= MaxRetries; i++ {
		assert.False(t, sender.Done())
		sender.Timeout()
	}
	assert.True(t, sender.Done())
	assert.Equal(t, osdp.ErrTimeout, sender.Err())
}

func TestSenderAbortsOnPDAbort(t *testing.T) {
	src := &memFile{data: make([]byte, 10)}
	sender, err := NewSender(1, 1, src, nil)
	require.NoError(t, err)
	sender.Next()
	sender.Ack(codec.FileTxStatus{Action: codec.FileTxActionAbort})
	assert.True(t, sender.Done())
	assert.Error(t, sender.Err())
}

func TestSenderCancel(t *testing.T) {
	src := &memFile{data: make([]byte, 10)}
	sender, err := NewSender(1, 1, src, nil)
	require.NoError(t, err)
	sender.Cancel()
	_, ok := sender.Next()
	assert.False(t, ok)
	assert.True(t, sender.Done())
}
