package processing

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"sync"
	"testing"
	"time"

	common_models "go-evidence/internal/common/models"
	"go-evidence/internal/features/file"
	"go-evidence/internal/features/notification"
	"go-evidence/internal/storage"
	"go-evidence/internal/testutil"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type sentNotification struct {
	Event       notification.Event
	FileID      string
	RecipientID string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(ctx context.Context, event notification.Event, fileID, recipientID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{Event: event, FileID: fileID, RecipientID: recipientID})
}

func (n *recordingNotifier) Sent() []sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]sentNotification(nil), n.sent...)
}

type fakeAudit struct {
	mu      sync.Mutex
	actions []common_models.AuditAction
}

func (f *fakeAudit) LogChange(ctx context.Context, actorID string, action common_models.AuditAction, module string, recordID string, changes map[string]common_models.Change) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeAudit) LogSecurityEvent(ctx context.Context, event common_models.SecurityEvent) error {
	return nil
}

func (f *fakeAudit) ListLogs(ctx context.Context, filters map[string]interface{}, page, limit int64) ([]common_models.AuditLog, error) {
	return nil, nil
}

func (f *fakeAudit) Actions() []common_models.AuditAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]common_models.AuditAction(nil), f.actions...)
}

type nopQueue struct{}

func (nopQueue) Enqueue(context.Context, string) error { return nil }

type testEnv struct {
	pipeline *Pipeline
	files    file.FileRepository
	svc      file.FileService
	blobs    *storage.Manager
	notifier *recordingNotifier
	audit    *fakeAudit
}

func newTestEnv(t *testing.T, scanner Scanner, opts PipelineOptions) *testEnv {
	t.Helper()

	repo := file.NewSQLFileRepository(testutil.NewSQLite(t, &file.FileRecord{}))
	blobs := storage.NewManager(storage.ManagerOptions{Timeout: 5 * time.Second, ReadAttempts: 2, RetryDelay: time.Millisecond}, zap.NewNop())
	blobs.Register("memory", storage.NewMemoryStore())

	aud := &fakeAudit{}
	notifier := &recordingNotifier{}
	validator := file.NewValidator(file.ValidatorOptions{}, aud, zap.NewNop())
	svc := file.NewFileService(repo, blobs, validator, nopQueue{}, aud, zap.NewNop())

	if scanner == nil {
		scanner = NoopScanner{}
	}
	p := NewPipeline(repo, blobs, scanner, notifier, aud, opts, zap.NewNop())
	return &testEnv{pipeline: p, files: repo, svc: svc, blobs: blobs, notifier: notifier, audit: aud}
}

func (e *testEnv) upload(t *testing.T, name, mime string, data []byte) *file.FileRecord {
	t.Helper()
	rec, err := e.svc.UploadFile(testContext(t), file.Actor{UserID: "user-1", SourceAddr: "192.0.2.10"}, file.NewBytesSource(name, mime, data), file.UploadHints{})
	require.NoError(t, err)
	return rec
}

func (e *testEnv) reload(t *testing.T, id string) *file.FileRecord {
	t.Helper()
	rec, err := e.files.Get(testContext(t), id)
	require.NoError(t, err)
	return rec
}

func (e *testEnv) blob(t *testing.T, path string) []byte {
	t.Helper()
	rc, err := e.blobs.Get(testContext(t), "memory", path)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return b
}

func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(w, h), nil))
	return buf.Bytes()
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(w, h)))
	return buf.Bytes()
}

const logoSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="600" height="300" viewBox="0 0 600 300">` +
	`<rect x="0" y="0" width="300" height="300" fill="#cc0000"/></svg>`

// declaredPNG is a PNG whose header claims w×h grayscale pixels while
// carrying almost no image data.
func declaredPNG(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth, colour type 0 (gray)
	writePNGChunk(&buf, "IHDR", ihdr)
	writePNGChunk(&buf, "IDAT", nil)
	writePNGChunk(&buf, "IEND", nil)
	return buf.Bytes()
}

func writePNGChunk(buf *bytes.Buffer, typ string, data []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(data)))
	buf.Write(n[:])

	crc := crc32.NewIEEE()
	crc.Write([]byte(typ))
	crc.Write(data)
	buf.WriteString(typ)
	buf.Write(data)
	binary.BigEndian.PutUint32(n[:], crc.Sum32())
	buf.Write(n[:])
}
