// Package volc implements the Volcano Engine streaming synthesis protocol:
// one JSON request in a binary envelope, answered by a sequence of binary
// audio frames terminated by a negative sequence number.
package volc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
)

// Message types carried in the top nibble of header byte 1
const (
	MessageTypeAudio = 0x0b
	MessageTypeError = 0x0f
)

const headerWordSize = 4

// requestHeader is version 1, one header word, full client request, JSON
// serialization without compression
var requestHeader = [4]byte{0x11, 0x10, 0x10, 0x00}

// ErrMalformedFrame is returned for frames too short or inconsistent to parse
var ErrMalformedFrame = errors.New("volc: malformed frame")

// Header is the fixed 4-byte prefix of every frame
type Header struct {
	Version       byte
	HeaderWords   byte
	MessageType   byte
	Flags         byte
	Serialization byte
	Compression   byte
	Reserved      byte
}

// Size is the header length in bytes, including any padding words
func (h Header) Size() int {
	return int(h.HeaderWords) * headerWordSize
}

// ParseHeader reads the header nibbles from the start of frame
func ParseHeader(frame []byte) (Header, error) {
	if len(frame) < headerWordSize {
		return Header{}, fmt.Errorf("%w: %d bytes is shorter than a header", ErrMalformedFrame, len(frame))
	}
	h := Header{
		Version:       frame[0] >> 4,
		HeaderWords:   frame[0] & 0x0f,
		MessageType:   frame[1] >> 4,
		Flags:         frame[1] & 0x0f,
		Serialization: frame[2] >> 4,
		Compression:   frame[2] & 0x0f,
		Reserved:      frame[3],
	}
	if h.HeaderWords == 0 {
		return h, fmt.Errorf("%w: zero header length", ErrMalformedFrame)
	}
	if h.Size() > len(frame) {
		return h, fmt.Errorf("%w: header of %d bytes exceeds frame of %d", ErrMalformedFrame, h.Size(), len(frame))
	}
	return h, nil
}

// Request is one synthesis call. Field names follow the wire JSON.
type Request struct {
	App     AppParams     `json:"app"`
	User    UserParams    `json:"user"`
	Audio   AudioParams   `json:"audio"`
	Request RequestParams `json:"request"`
}

type AppParams struct {
	AppID   string `json:"appid"`
	Token   string `json:"token"`
	Cluster string `json:"cluster"`
}

type UserParams struct {
	UID string `json:"uid"`
}

type AudioParams struct {
	VoiceType   string  `json:"voice_type"`
	Encoding    string  `json:"encoding"`
	SpeedRatio  float64 `json:"speed_ratio"`
	VolumeRatio float64 `json:"volume_ratio"`
	PitchRatio  float64 `json:"pitch_ratio"`
	Emotion     string  `json:"emotion,omitempty"`
	Language    string  `json:"language,omitempty"`
}

type RequestParams struct {
	ReqID           string `json:"reqid"`
	Text            string `json:"text"`
	TextType        string `json:"text_type"`
	Operation       string `json:"operation"`
	SilenceDuration string `json:"silence_duration,omitempty"`
}

// EncodeRequest wraps the JSON request in the binary envelope:
// 4 header bytes, a big-endian uint32 length, then the JSON body
func EncodeRequest(req Request) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	frame := make([]byte, 0, len(requestHeader)+4+len(payload))
	frame = append(frame, requestHeader[:]...)
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(payload)))
	frame = append(frame, payload...)
	return frame, nil
}

// SynthesisError is the structured failure carried by an error frame
type SynthesisError struct {
	Code    int32
	Message string
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("volc synthesis error %d: %s", e.Code, e.Message)
}

// PermissionDenied reports a credential or voice entitlement problem
func (e *SynthesisError) PermissionDenied() bool {
	return e.Code == 403
}
