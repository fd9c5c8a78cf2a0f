package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"
)

// maxMessageSize bounds one newline-delimited message.
const maxMessageSize = 16 * 1024 * 1024

// Transport reads requests and writes responses.
type Transport interface {
	ReadMessage() (*Request, error)
	WriteResponse(resp *Response) error
	WriteNotification(notif *Notification) error
	Close() error
}

// StdioTransport exchanges newline-delimited JSON messages.
type StdioTransport struct {
	scanner *bufio.Scanner
	writer  io.Writer
	writeMu sync.Mutex
}

// NewStdioTransport creates a transport reading from reader and writing to
// writer.
func NewStdioTransport(reader io.Reader, writer io.Writer) *StdioTransport {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxMessageSize)
	return &StdioTransport{
		scanner: scanner,
		writer:  writer,
	}
}

// ReadMessage returns the next request. Blank lines are skipped; io.EOF is
// returned when the input ends.
func (t *StdioTransport) ReadMessage() (*Request, error) {
	for t.scanner.Scan() {
		line := t.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			return nil, fmt.Errorf("failed to parse JSON-RPC message: %w", err)
		}
		return &req, nil
	}
	if err := t.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// WriteResponse writes resp as one line.
func (t *StdioTransport) WriteResponse(resp *Response) error {
	return t.writeLine(resp)
}

// WriteNotification writes notif as one line.
func (t *StdioTransport) WriteNotification(notif *Notification) error {
	return t.writeLine(notif)
}

func (t *StdioTransport) writeLine(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_, err = fmt.Fprintf(t.writer, "%s\n", data)
	return err
}

// Close is a no-op; the caller owns stdin and stdout.
func (t *StdioTransport) Close() error {
	return nil
}

// MessageLoop reads requests until EOF or cancellation and writes the
// handler's response for every request that carries an ID.
func MessageLoop(ctx context.Context, transport Transport, handler func(*Request) *Response, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := transport.ReadMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return fmt.Errorf("failed to read message: %w", err)
			}
			logger.Warn("Rejected malformed message", zap.Error(err))
			errResp := errorResponse(ParseError, "Parse error: "+err.Error())
			errResp.JSONRPC = JSONRPCVersion
			if err := transport.WriteResponse(errResp); err != nil {
				return fmt.Errorf("failed to write response: %w", err)
			}
			continue
		}

		resp := handler(req)
		if resp == nil || req.IsNotification() {
			continue
		}
		resp.ID = req.ID
		resp.JSONRPC = JSONRPCVersion
		if err := transport.WriteResponse(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
}
