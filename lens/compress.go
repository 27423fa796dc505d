package lens

import (
	"sync"

	"github.com/klauspost/compress/zstd"
)

// zstd coders are safe for concurrent EncodeAll / DecodeAll, share one of each.
var (
	zstdEncoderOnce sync.Once
	zstdEncoder     *zstd.Encoder
	zstdDecoderOnce sync.Once
	zstdDecoder     *zstd.Decoder
)

// ZstdCompress compresses data with zstd, appending to dst.
func ZstdCompress(dst, data []byte) []byte {
	zstdEncoderOnce.Do(func() {
		var err error
		zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			panic(err) // theoretically not possible
		}
	})
	return zstdEncoder.EncodeAll(data, dst)
}

// ZstdDecompress decompresses a zstd payload, appending to dst.
func ZstdDecompress(dst, data []byte) ([]byte, error) {
	zstdDecoderOnce.Do(func() {
		var err error
		zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
		if err != nil {
			panic(err) // theoretically not possible
		}
	})
	return zstdDecoder.DecodeAll(data, dst)
}
