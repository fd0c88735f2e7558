package processing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"go-evidence/internal/storage"

	"github.com/cespare/xxhash/v2"
)

type digests struct {
	XXHash64 string
	SHA256   string
	Bytes    int64
}

func (d digests) metadata() map[string]any {
	return map[string]any{
		"xxhash64": d.XXHash64,
		"sha256":   d.SHA256,
		"bytes":    d.Bytes,
	}
}

// computeDigests hashes the blob in one pass. Backends with local files are
// read directly, the rest are streamed.
func computeDigests(ctx context.Context, blobs *storage.Manager, backend, path string) (digests, error) {
	var r io.ReadCloser
	if p, err := blobs.LocalPath(backend, path); err == nil {
		if f, err := os.Open(p); err == nil {
			r = f
		}
	}
	if r == nil {
		rc, err := blobs.Get(ctx, backend, path)
		if err != nil {
			return digests{}, err
		}
		r = rc
	}
	defer r.Close()

	fast := xxhash.New()
	strong := sha256.New()
	n, err := io.Copy(io.MultiWriter(fast, strong), ctxReader{ctx: ctx, r: r})
	if err != nil {
		return digests{}, fmt.Errorf("hash %s: %w", path, err)
	}
	return digests{
		XXHash64: fmt.Sprintf("%016x", fast.Sum64()),
		SHA256:   hex.EncodeToString(strong.Sum(nil)),
		Bytes:    n,
	}, nil
}
