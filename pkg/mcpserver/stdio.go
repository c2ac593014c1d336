package mcpserver

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ServeStdio reads newline-delimited JSON-RPC messages from r and writes
// responses to w, one JSON document per line. It returns nil once r reaches
// EOF and every in-flight request has been answered, or ctx.Err() when ctx
// is cancelled first.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	var writeMu sync.Mutex
	enc := json.NewEncoder(w)
	send := func(v any) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return enc.Encode(v)
	}

	sess := s.newSession("stdio", send)
	defer sess.close()

	s.logger.Info().
		Str("server", s.info.Name).
		Str("version", s.info.Version).
		Msg("Serving MCP over stdio")

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		reader := bufio.NewReader(r)
		for {
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				select {
				case lines <- line:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) {
					readErr <- err
				}
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case line, ok := <-lines:
			if !ok {
				sess.wait()
				select {
				case err := <-readErr:
					return fmt.Errorf("failed to read stdin: %w", err)
				default:
				}
				s.logger.Info().Msg("Input closed, stdio server exiting")
				return nil
			}
			sess.handle(ctx, line)
		}
	}
}
