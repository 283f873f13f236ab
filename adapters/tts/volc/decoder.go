package volc

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// EventKind classifies a decoded frame
type EventKind int

const (
	EventIgnored EventKind = iota
	EventAck
	EventAudio
	EventCompleted
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventAck:
		return "ack"
	case EventAudio:
		return "audio"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	default:
		return "ignored"
	}
}

// Event is the outcome of feeding one frame
type Event struct {
	Kind     EventKind
	Header   Header
	Sequence int32
	Payload  []byte
}

// Terminal reports whether no further frames are expected
func (e Event) Terminal() bool {
	return e.Kind == EventCompleted || e.Kind == EventFailed
}

// Decoder reassembles the audio of one response. It is not safe for
// concurrent use. Once a terminal event is produced later frames are ignored.
type Decoder struct {
	audio bytes.Buffer
	done  bool
}

// NewDecoder creates a new response decoder
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Audio returns the bytes accumulated so far
func (d *Decoder) Audio() []byte {
	return d.audio.Bytes()
}

// Done reports whether a terminal frame has been seen
func (d *Decoder) Done() bool {
	return d.done
}

// Feed classifies one binary frame. Error frames return a *SynthesisError
// and short or inconsistent frames return an error wrapping
// ErrMalformedFrame; both end the response.
func (d *Decoder) Feed(frame []byte) (Event, error) {
	if d.done {
		return Event{Kind: EventIgnored}, nil
	}

	h, err := ParseHeader(frame)
	if err != nil {
		d.done = true
		return Event{Kind: EventFailed, Header: h}, err
	}
	body := frame[h.Size():]

	switch h.MessageType {
	case MessageTypeAudio:
		if h.Flags == 0 {
			return Event{Kind: EventAck, Header: h}, nil
		}
		seq, payload, err := readSized(body)
		if err != nil {
			d.done = true
			return Event{Kind: EventFailed, Header: h}, err
		}
		d.audio.Write(payload)
		if seq < 0 {
			d.done = true
			return Event{Kind: EventCompleted, Header: h, Sequence: seq, Payload: payload}, nil
		}
		return Event{Kind: EventAudio, Header: h, Sequence: seq, Payload: payload}, nil

	case MessageTypeError:
		code, message, err := readSized(body)
		d.done = true
		if err != nil {
			return Event{Kind: EventFailed, Header: h}, err
		}
		return Event{Kind: EventFailed, Header: h}, &SynthesisError{Code: code, Message: string(message)}

	default:
		return Event{Kind: EventIgnored, Header: h}, nil
	}
}

// readSized reads a big-endian int32 prefix, a big-endian uint32 length and
// that many bytes
func readSized(body []byte) (int32, []byte, error) {
	if len(body) < 8 {
		return 0, nil, fmt.Errorf("%w: body of %d bytes is shorter than its prefix", ErrMalformedFrame, len(body))
	}
	prefix := int32(binary.BigEndian.Uint32(body[0:4]))
	size := binary.BigEndian.Uint32(body[4:8])
	if uint64(size) > uint64(len(body)-8) {
		return 0, nil, fmt.Errorf("%w: declared %d bytes but %d remain", ErrMalformedFrame, size, len(body)-8)
	}
	return prefix, body[8 : 8+int(size)], nil
}
