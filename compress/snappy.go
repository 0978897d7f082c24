package compress

import (
	"bytes"
	"encoding/binary"
	"fmt"

	xerial "github.com/eapache/go-xerial-snappy"
	"github.com/golang/snappy"
)

// SnappyCompressor writes raw snappy blocks and reads both raw blocks and
// the xerial framing (a 16 byte header, then length prefixed blocks).
type SnappyCompressor struct{}

var xerialMagic = []byte{0x82, 'S', 'N', 'A', 'P', 'P', 'Y', 0}

const xerialHeaderLen = 16

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return xerial.Encode(data), nil
}

// Decompress reads the decoded length from the block headers before
// allocating anything.
func (c *SnappyCompressor) Decompress(data []byte, limit int) ([]byte, error) {
	n, err := snappyDecodedLen(data)
	if err != nil {
		return nil, err
	}
	if n > limit {
		return nil, ErrLimitExceeded
	}
	return xerial.Decode(data)
}

func snappyDecodedLen(data []byte) (int, error) {
	if len(data) <= xerialHeaderLen || !bytes.HasPrefix(data, xerialMagic) {
		return snappy.DecodedLen(data)
	}
	total := 0
	for pos := xerialHeaderLen; pos < len(data); {
		if pos+4 > len(data) {
			return 0, fmt.Errorf("snappy: truncated xerial chunk header")
		}
		size := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		if size < 0 || pos+size > len(data) {
			return 0, fmt.Errorf("snappy: xerial chunk of %d bytes overruns input", size)
		}
		n, err := snappy.DecodedLen(data[pos : pos+size])
		if err != nil {
			return 0, err
		}
		total += n
		pos += size
	}
	return total, nil
}
