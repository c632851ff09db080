package sse

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
)

// Event is one parsed server-sent event.
type Event struct {
	ID    string
	Event string
	Data  []byte
}

/*
Reader incrementally parses an SSE byte stream.  Comment lines (the
keep-alives) are skipped; multi-line data fields are joined with newlines per
the SSE wire format.
*/
type Reader struct {
	scanner *bufio.Scanner
}

func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Next blocks until the next complete event or end of stream.
func (reader *Reader) Next() (*Event, error) {
	var (
		event    Event
		dataSeen bool
		data     [][]byte
	)

	for reader.scanner.Scan() {
		line := reader.scanner.Text()

		if line == "" {
			if dataSeen {
				event.Data = bytes.Join(data, []byte("\n"))
				return &event, nil
			}
			continue
		}

		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "id":
			event.ID = value
		case "event":
			event.Event = value
		case "data":
			dataSeen = true
			data = append(data, []byte(value))
		}
	}

	if err := reader.scanner.Err(); err != nil {
		return nil, err
	}

	if dataSeen {
		event.Data = bytes.Join(data, []byte("\n"))
		return &event, nil
	}

	return nil, io.EOF
}

/*
Post sends a JSON-RPC body and streams the SSE response through handler until
the server closes the stream.  It is how clients consume sendSubscribe and
resubscribe, and how the integration tests drive streaming endpoints.
*/
func Post(ctx context.Context, url string, body []byte, handler func(*Event)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))

	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := http.DefaultClient.Do(req)

	if err != nil {
		return err
	}

	defer resp.Body.Close()

	reader := NewReader(resp.Body)

	for {
		event, err := reader.Next()

		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}

		handler(event)
	}
}
