package file

import (
	"bytes"
	"io"
)

// Source is the narrow view of an upload that validation and storage need.
// Open may be called more than once; each call starts from the beginning.
type Source interface {
	Open() (io.ReadCloser, error)
	Name() string
	MimeType() string
	Size() int64
}

// BytesSource serves an in-memory upload.
type BytesSource struct {
	FileName    string
	ContentType string
	Data        []byte
}

func NewBytesSource(name, mimeType string, data []byte) *BytesSource {
	return &BytesSource{FileName: name, ContentType: mimeType, Data: data}
}

func (s *BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(s.Data)), nil
}

func (s *BytesSource) Name() string     { return s.FileName }
func (s *BytesSource) MimeType() string { return s.ContentType }
func (s *BytesSource) Size() int64      { return int64(len(s.Data)) }

// sizedSource overrides the declared size, used when a transport reports a
// size different from the bytes it carries.
type sizedSource struct {
	Source
	size int64
}

func (s sizedSource) Size() int64 { return s.size }

// WithDeclaredSize wraps src so Size reports size.
func WithDeclaredSize(src Source, size int64) Source {
	return sizedSource{Source: src, size: size}
}
