package volc

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"testing"
)

func audioFrame(seq int32, payload []byte) []byte {
	flags := byte(0x01)
	if seq < 0 {
		flags = 0x03
	}
	frame := []byte{0x11, MessageTypeAudio<<4 | flags, 0x10, 0x00}
	frame = binary.BigEndian.AppendUint32(frame, uint32(seq))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	return append(frame, payload...)
}

func errorFrame(code int32, message string) []byte {
	frame := []byte{0x11, MessageTypeError << 4, 0x10, 0x00}
	frame = binary.BigEndian.AppendUint32(frame, uint32(code))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(message)))
	return append(frame, message...)
}

func TestEncodeRequest(t *testing.T) {
	req := Request{
		App:  AppParams{AppID: "app", Token: "tok", Cluster: "volcano_icl"},
		User: UserParams{UID: "uid"},
		Audio: AudioParams{
			VoiceType:   "S_voice",
			Encoding:    "mp3",
			SpeedRatio:  1.0,
			VolumeRatio: 1.0,
			PitchRatio:  1.0,
		},
		Request: RequestParams{ReqID: "r1", Text: "你好", TextType: "plain", Operation: "query"},
	}

	frame, err := EncodeRequest(req)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if !bytes.Equal(frame[:4], []byte{0x11, 0x10, 0x10, 0x00}) {
		t.Errorf("Expected request header, got % x", frame[:4])
	}
	size := binary.BigEndian.Uint32(frame[4:8])
	if int(size) != len(frame)-8 {
		t.Errorf("Expected length %d, got %d", len(frame)-8, size)
	}

	var body map[string]map[string]any
	if err := json.Unmarshal(frame[8:], &body); err != nil {
		t.Fatalf("Expected JSON body: %v", err)
	}

	checks := []struct {
		section string
		field   string
		want    any
	}{
		{"app", "appid", "app"},
		{"app", "token", "tok"},
		{"app", "cluster", "volcano_icl"},
		{"user", "uid", "uid"},
		{"audio", "voice_type", "S_voice"},
		{"audio", "encoding", "mp3"},
		{"audio", "speed_ratio", 1.0},
		{"audio", "volume_ratio", 1.0},
		{"audio", "pitch_ratio", 1.0},
		{"request", "reqid", "r1"},
		{"request", "text", "你好"},
		{"request", "text_type", "plain"},
		{"request", "operation", "query"},
	}
	for _, c := range checks {
		if got := body[c.section][c.field]; got != c.want {
			t.Errorf("Expected %s.%s = %v, got %v", c.section, c.field, c.want, got)
		}
	}
}

func TestParseHeader(t *testing.T) {
	h, err := ParseHeader([]byte{0x12, 0xb3, 0x10, 0x00, 0xff, 0xff, 0xff, 0xff})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	want := Header{Version: 1, HeaderWords: 2, MessageType: 0x0b, Flags: 3, Serialization: 1, Compression: 0}
	if h != want {
		t.Errorf("Expected %+v, got %+v", want, h)
	}
	if h.Size() != 8 {
		t.Errorf("Expected header size 8, got %d", h.Size())
	}
}

func TestDecoderReassemblesAudio(t *testing.T) {
	d := NewDecoder()
	frames := [][]byte{
		audioFrame(0, []byte("A")),
		audioFrame(1, []byte("B")),
		audioFrame(-1, []byte("C")),
	}

	completed := 0
	for i, frame := range frames {
		event, err := d.Feed(frame)
		if err != nil {
			t.Fatalf("Frame %d: unexpected error: %v", i, err)
		}
		if event.Kind == EventCompleted {
			completed++
			if i != len(frames)-1 {
				t.Errorf("Completed after frame %d, expected after the last", i)
			}
		}
	}

	if completed != 1 {
		t.Errorf("Expected exactly one completion, got %d", completed)
	}
	if string(d.Audio()) != "ABC" {
		t.Errorf("Expected ABC, got %q", d.Audio())
	}

	event, err := d.Feed(audioFrame(2, []byte("D")))
	if err != nil || event.Kind != EventIgnored {
		t.Errorf("Expected frames after completion to be ignored, got %v %v", event.Kind, err)
	}
	if string(d.Audio()) != "ABC" {
		t.Errorf("Expected audio unchanged after completion, got %q", d.Audio())
	}
}

func TestDecoderAckAndPadding(t *testing.T) {
	d := NewDecoder()

	event, err := d.Feed([]byte{0x11, MessageTypeAudio << 4, 0x10, 0x00})
	if err != nil || event.Kind != EventAck {
		t.Fatalf("Expected ack, got %v %v", event.Kind, err)
	}

	padded := []byte{0x12, MessageTypeAudio<<4 | 0x01, 0x10, 0x00, 0xaa, 0xbb, 0xcc, 0xdd}
	padded = binary.BigEndian.AppendUint32(padded, 0)
	padded = binary.BigEndian.AppendUint32(padded, 2)
	padded = append(padded, 'h', 'i')

	event, err = d.Feed(padded)
	if err != nil || event.Kind != EventAudio {
		t.Fatalf("Expected audio, got %v %v", event.Kind, err)
	}
	if string(d.Audio()) != "hi" {
		t.Errorf("Expected padding skipped, got %q", d.Audio())
	}
}

func TestDecoderErrorFrame(t *testing.T) {
	d := NewDecoder()
	d.Feed(audioFrame(0, []byte("A")))

	event, err := d.Feed(errorFrame(403, "no permission"))
	if event.Kind != EventFailed {
		t.Errorf("Expected failed event, got %v", event.Kind)
	}

	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Fatalf("Expected SynthesisError, got %v", err)
	}
	if synthErr.Code != 403 || synthErr.Message != "no permission" {
		t.Errorf("Expected 403 no permission, got %d %q", synthErr.Code, synthErr.Message)
	}
	if !synthErr.PermissionDenied() {
		t.Error("Expected 403 to be a permission error")
	}
	if string(d.Audio()) != "A" {
		t.Errorf("Expected error message kept out of audio, got %q", d.Audio())
	}
	if !d.Done() {
		t.Error("Expected decoder to be done")
	}
}

func TestDecoderIgnoresUnknownTypes(t *testing.T) {
	d := NewDecoder()

	event, err := d.Feed([]byte{0x11, 0x90, 0x10, 0x00, 0x01, 0x02})
	if err != nil || event.Kind != EventIgnored {
		t.Errorf("Expected ignored, got %v %v", event.Kind, err)
	}
	if d.Done() {
		t.Error("Unknown frames must not end the response")
	}
}

func TestDecoderMalformedFrames(t *testing.T) {
	oversized := []byte{0x11, MessageTypeAudio<<4 | 0x01, 0x10, 0x00}
	oversized = binary.BigEndian.AppendUint32(oversized, 0)
	oversized = binary.BigEndian.AppendUint32(oversized, 0xffffffff)

	tests := []struct {
		name  string
		frame []byte
	}{
		{"empty", nil},
		{"short header", []byte{0x11, 0xb1}},
		{"zero header words", []byte{0x10, 0xb1, 0x10, 0x00}},
		{"header longer than frame", []byte{0x1f, 0xb1, 0x10, 0x00}},
		{"audio without prefix", []byte{0x11, 0xb1, 0x10, 0x00, 0x00, 0x00}},
		{"audio length overflow", oversized},
		{"error without prefix", []byte{0x11, 0xf0, 0x10, 0x00, 0x00}},
		{"truncated error message", errorFrame(500, "boom")[:14]},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDecoder()
			event, err := d.Feed(tt.frame)
			if !errors.Is(err, ErrMalformedFrame) {
				t.Errorf("Expected malformed frame error, got %v", err)
			}
			if event.Kind != EventFailed {
				t.Errorf("Expected failed event, got %v", event.Kind)
			}
		})
	}
}
