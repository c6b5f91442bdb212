package dfs

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("hello"), false))
	require.NoError(t, WriteFrame(&buf, []byte{}, true))

	payload, last, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), payload)
	assert.False(t, last)

	payload, last, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Empty(t, payload)
	assert.True(t, last)
}

func TestReadFrameEOF(t *testing.T) {
	_, _, err := ReadFrame(bytes.NewReader(nil))
	assert.Equal(t, io.EOF, err)
}

func TestCallRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	header := &CallHeader{XID: 7, Proc: ProcStoreFile, DeadlineUnixMilli: 1234}
	req := &StoreFileRequest{Name: "a.bin", ClientID: "c-1", Mtime: 100, CRC: 0xCAFE}
	require.NoError(t, WriteCall(&buf, header, req))

	gotHeader, body, err := ReadCall(&buf)
	require.NoError(t, err)
	assert.Equal(t, header.XID, gotHeader.XID)
	assert.Equal(t, header.Proc, gotHeader.Proc)
	assert.Equal(t, header.DeadlineUnixMilli, gotHeader.DeadlineUnixMilli)

	gotReq := &StoreFileRequest{}
	require.NoError(t, DecodeRequest(body, gotReq))
	assert.Equal(t, req, gotReq)
}

func TestReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	reply := &StoreFileReply{Info: FileInfo{Name: "a.bin", FileSize: 9, Mtime: 100, Ctime: 90}}
	require.NoError(t, WriteReply(&buf, 7, StatusOK, "", reply))

	got := &StoreFileReply{}
	header, err := ReadReply(&buf, got)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), header.XID)
	assert.Equal(t, reply, got)
}

func TestReplyErrorStatus(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReply(&buf, 9, StatusNotFound, "no such file", nil))

	header, err := ReadReply(&buf, nil)
	require.Error(t, err)
	assert.Equal(t, uint32(StatusNotFound), header.Status)

	se, ok := err.(*StatusError)
	require.True(t, ok)
	assert.Equal(t, StatusNotFound, se.Status)
	assert.Equal(t, "no such file", se.Message)
}

func TestFileListReplyRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	reply := &FileListReply{Files: []FileInfo{
		{Name: "a", FileSize: 1, Mtime: 10, Ctime: 5},
		{Name: "b", FileSize: 2, Mtime: 20, Ctime: 15},
	}}
	require.NoError(t, WriteReply(&buf, 1, StatusOK, "", reply))

	got := &FileListReply{}
	_, err := ReadReply(&buf, got)
	require.NoError(t, err)
	assert.Equal(t, reply, got)
}

func TestChunkStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteChunk(&buf, bytes.Repeat([]byte{0xAB}, DefaultChunkSize-1), false))
	require.NoError(t, WriteChunk(&buf, []byte{0, 1, 2}, true))

	var got []byte
	for {
		data, last, err := ReadChunk(&buf)
		require.NoError(t, err)
		got = append(got, data...)
		if last {
			break
		}
	}
	assert.Len(t, got, DefaultChunkSize+2)
}

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusOK, StatusOf(nil))
	assert.Equal(t, StatusResourceExhausted, StatusOf(Errf(StatusResourceExhausted, "lock held")))
	assert.Equal(t, StatusInternal, StatusOf(io.ErrUnexpectedEOF))
}
