package transport

import (
	"bufio"
	"errors"
	"io"
	"strings"
)

// Event is one server-sent event.
type Event struct {
	ID       string
	Event    string
	Data     string
	Comments []string // lines starting with ':' (DashScope puts ":HTTP_STATUS/400" here)
}

// Empty reports whether the event carries nothing worth dispatching.
func (e Event) Empty() bool {
	return e.ID == "" && e.Event == "" && e.Data == "" && len(e.Comments) == 0
}

// Decoder reads events one at a time. It never reads past the event it
// returns, beyond bufio's own buffering.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder wraps r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the next non-empty event, or io.EOF once the stream ends. An
// event still pending when the stream ends without a trailing blank line is
// returned before io.EOF.
func (d *Decoder) Next() (Event, error) {
	var ev Event
	var data []string
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				ev.Data = strings.Join(data, "\n")
				if !ev.Empty() {
					return ev, nil
				}
			}
			return Event{}, err
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			ev.Data = strings.Join(data, "\n")
			if !ev.Empty() {
				return ev, nil
			}
			ev = Event{}
			data = data[:0]
			continue
		}

		if strings.HasPrefix(line, ":") {
			ev.Comments = append(ev.Comments, strings.TrimSpace(line[1:]))
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
		case "event":
			ev.Event = value
		case "id":
			ev.ID = value
		default:
			// retry 及未知字段忽略
		}

		if errors.Is(err, io.EOF) {
			ev.Data = strings.Join(data, "\n")
			if !ev.Empty() {
				return ev, nil
			}
			return Event{}, io.EOF
		}
	}
}
