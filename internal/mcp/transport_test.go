package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStdioTransport(t *testing.T) {
	transport := NewStdioTransport(strings.NewReader(""), &bytes.Buffer{})
	require.NotNil(t, transport)
	assert.NotNil(t, transport.scanner)
	assert.NotNil(t, transport.writer)
	assert.NoError(t, transport.Close())
}

func TestStdioTransport_ReadMessage(t *testing.T) {
	t.Run("reads valid JSON message", func(t *testing.T) {
		transport := NewStdioTransport(strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"test"}`+"\n"), &bytes.Buffer{})

		req, err := transport.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "test", req.Method)
		assert.False(t, req.IsNotification())
	})

	t.Run("skips blank lines", func(t *testing.T) {
		transport := NewStdioTransport(strings.NewReader("\n\n"+`{"jsonrpc":"2.0","method":"notifications/initialized"}`), &bytes.Buffer{})

		req, err := transport.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, MethodInitialized, req.Method)
		assert.True(t, req.IsNotification())
	})

	t.Run("returns error for invalid JSON", func(t *testing.T) {
		transport := NewStdioTransport(strings.NewReader("not valid json\n"), &bytes.Buffer{})

		_, err := transport.ReadMessage()
		assert.Error(t, err)
	})

	t.Run("returns EOF at end of input", func(t *testing.T) {
		transport := NewStdioTransport(strings.NewReader(""), &bytes.Buffer{})

		_, err := transport.ReadMessage()
		assert.ErrorIs(t, err, io.EOF)
	})
}

func TestStdioTransport_Write(t *testing.T) {
	out := &bytes.Buffer{}
	transport := NewStdioTransport(strings.NewReader(""), out)

	require.NoError(t, transport.WriteResponse(&Response{JSONRPC: JSONRPCVersion, ID: 1, Result: json.RawMessage(`{"ok":true}`)}))
	require.NoError(t, transport.WriteNotification(&Notification{JSONRPC: JSONRPCVersion, Method: "notifications/message"}))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`, lines[0])
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"notifications/message"}`, lines[1])
}

func TestMessageLoop(t *testing.T) {
	t.Run("answers requests and skips notifications", func(t *testing.T) {
		in := strings.Join([]string{
			`{"jsonrpc":"2.0","id":1,"method":"ping"}`,
			`{"jsonrpc":"2.0","method":"notifications/initialized"}`,
			`{broken`,
			`{"jsonrpc":"2.0","id":"two","method":"ping"}`,
		}, "\n") + "\n"
		out := &bytes.Buffer{}

		handler := func(req *Request) *Response {
			return resultResponse(map[string]string{"method": req.Method})
		}
		err := MessageLoop(context.Background(), NewStdioTransport(strings.NewReader(in), out), handler, nil)
		require.NoError(t, err)

		lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
		require.Len(t, lines, 3)

		var first Response
		require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
		assert.Equal(t, JSONRPCVersion, first.JSONRPC)
		assert.EqualValues(t, 1, first.ID)
		assert.JSONEq(t, `{"method":"ping"}`, string(first.Result))

		var parseErr Response
		require.NoError(t, json.Unmarshal([]byte(lines[1]), &parseErr))
		require.NotNil(t, parseErr.Error)
		assert.Equal(t, ParseError, parseErr.Error.Code)

		var third Response
		require.NoError(t, json.Unmarshal([]byte(lines[2]), &third))
		assert.Equal(t, "two", third.ID)
	})

	t.Run("stops when cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := MessageLoop(ctx, NewStdioTransport(strings.NewReader(""), io.Discard), nil, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("returns read failures", func(t *testing.T) {
		err := MessageLoop(context.Background(), NewStdioTransport(failingReader{}, io.Discard), nil, nil)
		assert.Error(t, err)
	})
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("read failed")
}
