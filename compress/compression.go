package compress

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrLimitExceeded is returned by Decompress when the decoded data would be
// larger than the limit it was given.
var ErrLimitExceeded = errors.New("decompressed data exceeds limit")

// CompressionType is stored in the low 3 bits of a frame's attributes byte
type CompressionType uint8

// Supported frame codecs
const (
	NONE   CompressionType = 0
	GZIP   CompressionType = 1
	SNAPPY CompressionType = 2
	LZ4    CompressionType = 3
	ZSTD   CompressionType = 4
)

// attributesMask selects the codec bits of an attributes byte
const attributesMask = 0x07

var compressors = map[CompressionType]Compressor{
	NONE:   nil,
	GZIP:   &GzipCompressor{},
	SNAPPY: &SnappyCompressor{},
	LZ4:    &LZ4Compressor{},
	ZSTD:   &ZSTDCompressor{},
}

var names = map[string]CompressionType{
	"none":   NONE,
	"":       NONE,
	"gzip":   GZIP,
	"snappy": SNAPPY,
	"lz4":    LZ4,
	"zstd":   ZSTD,
}

// Compressor represents one of the supported compressors. Decompress never
// produces, nor allocates for, more than limit bytes of output.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte, limit int) ([]byte, error)
}

// readLimited drains r, failing with ErrLimitExceeded past limit bytes
func readLimited(r io.Reader, limit int) ([]byte, error) {
	out, err := io.ReadAll(io.LimitReader(r, int64(limit)+1))
	if err != nil {
		return nil, err
	}
	if len(out) > limit {
		return nil, ErrLimitExceeded
	}
	return out, nil
}

// GetCompressor returns the Compressor selected by a frame's attributes.
// A nil Compressor means the body is not compressed.
func GetCompressor(attributes uint8) (Compressor, error) {
	c, ok := compressors[CompressionType(attributes&attributesMask)]
	if !ok {
		return nil, fmt.Errorf("unknown compression type %d", attributes&attributesMask)
	}
	return c, nil
}

// ParseCompressionType maps a configuration name to its codec
func ParseCompressionType(name string) (CompressionType, error) {
	t, ok := names[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return NONE, fmt.Errorf("unsupported compression %q", name)
	}
	return t, nil
}

// Attributes returns the attributes byte announcing this codec
func (t CompressionType) Attributes() uint8 {
	return uint8(t) & attributesMask
}

func (t CompressionType) String() string {
	for name, v := range names {
		if v == t && name != "" {
			return name
		}
	}
	return fmt.Sprintf("compression(%d)", uint8(t))
}
