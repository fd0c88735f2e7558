package processing

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go-evidence/internal/config"
	"go-evidence/internal/features/file"
)

type ScanStatus string

const (
	ScanClean   ScanStatus = "clean"
	ScanFlagged ScanStatus = "flagged"
	ScanUnknown ScanStatus = "unknown"
)

type ScanTarget struct {
	FileID    string
	Name      string
	Extension string
	MimeType  string
}

type ScanResult struct {
	Status ScanStatus
	// Signature names what matched. It is logged, never stored on the record.
	Signature string
}

// Scanner inspects blob content. Implementations must honor ctx.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, target ScanTarget, r io.Reader) (ScanResult, error)
}

func NewScanner(cfg *config.Config) (Scanner, error) {
	switch cfg.Scanner {
	case "", "noop":
		return NoopScanner{}, nil
	case "signature":
		return NewSignatureScanner(cfg.MaxUploadSize), nil
	}
	return nil, fmt.Errorf("unknown SCANNER %q", cfg.Scanner)
}

// NoopScanner never inspects anything.
type NoopScanner struct{}

func (NoopScanner) Name() string { return "noop" }

func (NoopScanner) Scan(ctx context.Context, _ ScanTarget, _ io.Reader) (ScanResult, error) {
	if err := ctx.Err(); err != nil {
		return ScanResult{}, err
	}
	return ScanResult{Status: ScanUnknown}, nil
}

// eicar is the standard antivirus test string.
var eicar = []byte(`X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`)

// SignatureScanner flags the EICAR test file anywhere and the upload content
// signatures in text-like files. It is a smoke test, not malware detection.
type SignatureScanner struct {
	limit int64
}

func NewSignatureScanner(limit int64) *SignatureScanner {
	if limit <= 0 {
		limit = 50 << 20
	}
	return &SignatureScanner{limit: limit}
}

func (s *SignatureScanner) Name() string { return "signature" }

func (s *SignatureScanner) Scan(ctx context.Context, target ScanTarget, r io.Reader) (ScanResult, error) {
	data, err := io.ReadAll(ctxReader{ctx: ctx, r: io.LimitReader(r, s.limit)})
	if err != nil {
		return ScanResult{}, err
	}
	if bytes.Contains(data, eicar) {
		return ScanResult{Status: ScanFlagged, Signature: "eicar_test_file"}, nil
	}
	if file.TextScannedExtension(target.Extension) {
		if rule, ok := file.MatchContentSignature(data); ok {
			return ScanResult{Status: ScanFlagged, Signature: rule}, nil
		}
	}
	return ScanResult{Status: ScanClean}, nil
}

func scanMetadata(scanner string, res ScanResult, at time.Time) map[string]any {
	return map[string]any{
		"status":     string(res.Status),
		"scanner":    scanner,
		"scanned_at": at.UTC().Format(time.RFC3339),
	}
}

// ctxReader stops a long read once the context is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
