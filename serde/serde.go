package serde

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/CefBoud/peerbus/compress"
	"github.com/CefBoud/peerbus/types"
)

// Encoding is Big Endian for the frame length prefix
var Encoding = binary.BigEndian

// A frame is a uint32 length N followed by N bytes: one attributes byte and
// the body. N never exceeds MaxFrameSize, and a decompressed body never
// exceeds MaxBodySize.
const (
	MaxFrameSize = 64 * 1024
	MaxBodySize  = MaxFrameSize - 1
	lengthSize   = 4
)

var (
	// ErrFrameTooLarge is returned for frames above MaxFrameSize. The reader
	// has already skipped the oversized frame, so the stream stays aligned.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrCorruptFrame is returned when a complete frame cannot be decoded.
	ErrCorruptFrame = errors.New("corrupt frame")
)

// IsRecoverable reports whether the connection can keep serving requests
// after a ReadFrame error.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrFrameTooLarge) || errors.Is(err, ErrCorruptFrame)
}

// ReadFrame reads one frame and returns its decompressed body.
// ReadFull (not Read) is used so that a partially received frame is never
// handed to the decoder.
func ReadFrame(r io.Reader) ([]byte, error) {
	lengthBuffer := make([]byte, lengthSize)
	if _, err := io.ReadFull(r, lengthBuffer); err != nil {
		return nil, err
	}
	length := Encoding.Uint32(lengthBuffer)
	if length > MaxFrameSize {
		if _, err := io.CopyN(io.Discard, r, int64(length)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, length)
	}
	if length == 0 {
		return nil, fmt.Errorf("%w: empty frame", ErrCorruptFrame)
	}

	buffer := make([]byte, length)
	if _, err := io.ReadFull(r, buffer); err != nil {
		return nil, err
	}
	attributes, body := buffer[0], buffer[1:]

	compressor, err := compress.GetCompressor(attributes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	if compressor == nil {
		return body, nil
	}
	body, err = compressor.Decompress(body, MaxBodySize)
	switch {
	case errors.Is(err, compress.ErrLimitExceeded):
		return nil, fmt.Errorf("%w: more than %d bytes once decompressed", ErrFrameTooLarge, MaxBodySize)
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	return body, nil
}

// Encoder writes frames, compressing bodies of at least Threshold bytes
// with Compression.
type Encoder struct {
	Compression compress.CompressionType
	Threshold   int
}

// WriteFrame frames body and writes it with a single Write call.
func (e Encoder) WriteFrame(w io.Writer, body []byte) error {
	if len(body) > MaxBodySize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(body))
	}
	attributes := compress.NONE.Attributes()
	payload := body
	if e.Compression != compress.NONE && len(body) >= e.Threshold {
		compressor, err := compress.GetCompressor(e.Compression.Attributes())
		if err != nil {
			return err
		}
		compressed, err := compressor.Compress(body)
		if err != nil {
			return err
		}
		// incompressible bodies go out as they are
		if len(compressed) < len(body) {
			attributes, payload = e.Compression.Attributes(), compressed
		}
	}

	frame := make([]byte, lengthSize+1+len(payload))
	Encoding.PutUint32(frame, uint32(1+len(payload)))
	frame[lengthSize] = attributes
	copy(frame[lengthSize+1:], payload)
	_, err := w.Write(frame)
	return err
}

// WriteMessage encodes v as JSON and writes it as one frame.
func (e Encoder) WriteMessage(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.WriteFrame(w, body)
}

// DecodeRequest parses a request body. Any decoding failure wraps
// ErrCorruptFrame.
func DecodeRequest(body []byte, connAddr string) (types.Request, error) {
	var req types.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	req.ConnectionAddress = connAddr
	return req, nil
}

// ReadResponse reads one frame and decodes it as a Response.
func ReadResponse(r io.Reader) (types.Response, error) {
	var resp types.Response
	body, err := ReadFrame(r)
	if err != nil {
		return resp, err
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return resp, fmt.Errorf("%w: %v", ErrCorruptFrame, err)
	}
	return resp, nil
}
