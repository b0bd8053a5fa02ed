package stream

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// maxLineSize bounds a single SSE line. Generated code is sometimes logged in one line.
const maxLineSize = 1 << 20

// ReadEvents parses Server-Sent Events from r and calls emit with the data payload of each
// event. It returns nil at EOF, the read error otherwise, or ctx.Err() when cancelled.
// emit returning false stops reading.
//
// SSE format rules applied:
//   - Lines prefixed with "data: " (or "data:") carry the payload.
//   - Multiple "data:" lines within a single event are joined with newlines.
//   - An empty line signals the end of an event.
//   - Lines starting with ":" are comments; "event:", "id:", "retry:" and unknown fields are ignored.
//   - Accumulated data at EOF is emitted as a final event.
func ReadEvents(ctx context.Context, r io.Reader, emit func(data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var dataBuf strings.Builder
	hasData := false

	flush := func() bool {
		if !hasData {
			return true
		}
		payload := dataBuf.String()
		dataBuf.Reset()
		hasData = false
		return emit(payload)
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			flush()
			return nil
		}

		line := strings.TrimSuffix(scanner.Text(), "\r")

		switch {
		case line == "":
			if !flush() {
				return nil
			}

		case strings.HasPrefix(line, ":"):
			// Comment line.

		case strings.HasPrefix(line, "data:"):
			payload := strings.TrimPrefix(line, "data:")
			payload = strings.TrimPrefix(payload, " ")
			if hasData {
				dataBuf.WriteByte('\n')
			}
			dataBuf.WriteString(payload)
			hasData = true

		default:
			// event:, id:, retry: and unknown fields.
		}
	}
}
