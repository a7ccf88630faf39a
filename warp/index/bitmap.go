package index

import (
	"bytes"
	"encoding/base64"
	"fmt"

	"github.com/RoaringBitmap/roaring"
)

// serializeBitmap encodes bm using the library's portable serialization,
// base64-encoded for embedding in a JSON envelope's data map.
func serializeBitmap(bm *roaring.Bitmap) (string, error) {
	var buf bytes.Buffer
	if _, err := bm.WriteTo(&buf); err != nil {
		return "", fmt.Errorf("index: serialize bitmap: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// deserializeBitmap decodes a base64 Roaring payload produced by serializeBitmap.
func deserializeBitmap(encoded string) (*roaring.Bitmap, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("index: base64-decode bitmap: %w", err)
	}
	bm := roaring.New()
	if _, err := bm.ReadFrom(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("index: deserialize bitmap: %w", err)
	}
	return bm, nil
}
