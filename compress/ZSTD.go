package compress

import (
	"bytes"
	"errors"
	"sync"

	log "github.com/CefBoud/peerbus/logging"
	"github.com/klauspost/compress/zstd"
)

// ZSTDCompressor implements Compressor interface
type ZSTDCompressor struct{}

// Encoders and decoders are pooled; a decoder is only used by one
// Decompress call at a time.
var (
	zstdWriterPool, zstdReaderPool sync.Pool
)

// Compress takes in data and applies ZSTD to it
func (c *ZSTDCompressor) Compress(data []byte) ([]byte, error) {
	encoder, found := zstdWriterPool.Get().(*zstd.Encoder)
	if !found {
		var err error
		// WithZeroFrames encodes empty input as a full frame so that it still decodes
		encoder, err = zstd.NewWriter(nil, zstd.WithZeroFrames(true))
		if err != nil {
			log.Error("Failed to create ZSTD encoder: %v", err)
			return nil, err
		}
	}
	defer zstdWriterPool.Put(encoder)
	return encoder.EncodeAll(data, nil), nil
}

// maxZstdWindow bounds the history a frame may ask the decoder to keep
const maxZstdWindow = 1 << 20

// Decompress streams the frame so that output past limit is never
// allocated, whatever content size the frame header claims.
func (c *ZSTDCompressor) Decompress(data []byte, limit int) ([]byte, error) {
	decoder, found := zstdReaderPool.Get().(*zstd.Decoder)
	if !found {
		var err error
		decoder, err = zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxWindow(maxZstdWindow),
			zstd.WithDecoderLowmem(true))
		if err != nil {
			return nil, err
		}
	}
	defer zstdReaderPool.Put(decoder)

	if err := decoder.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	out, err := readLimited(decoder, limit)
	if err != nil && !errors.Is(err, ErrLimitExceeded) {
		log.Error("Failed to decompress data: %v", err)
	}
	return out, err
}
