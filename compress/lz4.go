package compress

import (
	"bytes"
	"sync"

	log "github.com/CefBoud/peerbus/logging"
	"github.com/pierrec/lz4/v4"
)

// LZ4Compressor frames data with the LZ4 frame format
type LZ4Compressor struct{}

var (
	lz4WriterPool = sync.Pool{New: func() any { return lz4.NewWriter(nil) }}
	lz4ReaderPool = sync.Pool{New: func() any { return lz4.NewReader(nil) }}
)

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	writer := lz4WriterPool.Get().(*lz4.Writer)
	defer lz4WriterPool.Put(writer)
	writer.Reset(&buf)

	if _, err := writer.Write(data); err != nil {
		log.Error("lz4: compress failed: %v", err)
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decompress streams the frame through a pooled reader, stopping at limit
// even if the frame header announces more.
func (c *LZ4Compressor) Decompress(data []byte, limit int) ([]byte, error) {
	reader := lz4ReaderPool.Get().(*lz4.Reader)
	defer lz4ReaderPool.Put(reader)
	reader.Reset(bytes.NewReader(data))
	return readLimited(reader, limit)
}
