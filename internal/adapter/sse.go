package adapter

import (
	"bufio"
	"io"
	"strings"
)

// sseDone is the literal payload marking the end of a server-sent event stream.
const sseDone = "[DONE]"

// forEachSSEData scans r line by line, splitting on \r?\n, skipping empty
// lines and comment lines (":"), and invokes onData with the payload of
// every "data:" line until a "[DONE]" payload is seen or the stream ends.
// Parse errors on individual lines are the caller's concern — this function
// only concerns itself with framing, never validates payload shape.
func forEachSSEData(r io.Reader, onData func(payload string) (stop bool)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}

		if !strings.HasPrefix(line, "data:") {
			continue
		}

		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == sseDone {
			return nil
		}

		if onData(payload) {
			return nil
		}
	}

	return scanner.Err()
}
