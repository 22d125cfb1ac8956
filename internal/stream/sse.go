package stream

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// DoneData is the data payload that terminates a completion stream.
const DoneData = "[DONE]"

// Event is one server-sent event.
type Event struct {
	Event string
	Data  string
	ID    string
}

// Scanner reads server-sent events from a reader.
//
//	sc := NewScanner(body)
//	for sc.Next() {
//		ev := sc.Event()
//	}
//	err := sc.Err()
type Scanner struct {
	reader  *bufio.Reader
	current Event
	err     error
}

// NewScanner returns a scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{reader: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event carrying data. It returns false at the
// end of the stream or on error.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.current = Event{}

	var (
		ev      Event
		data    []string
		hasData bool
	)
	emit := func() {
		ev.Data = strings.Join(data, "\n")
		s.current = ev
	}

	for {
		line, err := s.reader.ReadString('\n')
		if err != nil && line == "" {
			s.err = err
			if err == io.EOF && hasData {
				emit()
				return true
			}
			return false
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData {
				emit()
				return true
			}
			ev = Event{}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "data":
			data = append(data, value)
			hasData = true
		case "event":
			ev.Event = value
		case "id":
			ev.ID = value
		}
	}
}

// Event returns the event read by the last successful Next.
func (s *Scanner) Event() Event { return s.current }

// Err returns the read error that stopped the scanner, or nil at EOF.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}

// ReadSSE calls fn for every data-carrying event in r until the stream
// ends or fn returns an error, which is returned unchanged.
func ReadSSE(r io.Reader, fn func(Event) error) error {
	sc := NewScanner(r)
	for sc.Next() {
		if err := fn(sc.Event()); err != nil {
			return err
		}
	}
	return sc.Err()
}

// WriteEvent writes ev in wire format. Multi-line data is split across
// data fields.
func WriteEvent(w io.Writer, ev Event) error {
	var b strings.Builder
	if ev.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", ev.ID)
	}
	if ev.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", ev.Event)
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}
