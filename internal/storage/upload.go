package storage

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/dustin/go-humanize"
	_ "golang.org/x/image/webp"

	"github.com/jo-hoe/morphportal/internal/common"
	"github.com/jo-hoe/morphportal/internal/transforms"
)

// ErrTooLarge is returned when an upload exceeds the configured limit.
var ErrTooLarge = errors.New("upload too large")

const (
	dataURLPrefix    = "data:"
	dataURLBase64Sep = ";base64,"
)

var allowedImageMimes = map[string]string{
	common.MimeImagePNG:  ".png",
	common.MimeImageJPEG: ".jpg",
	common.MimeImageJPG:  ".jpg",
	common.MimeImageGIF:  ".gif",
	common.MimeImageWEBP: ".webp",
}

// Reader turns uploaded files into in-memory image references. Nothing is written to disk.
type Reader struct {
	maxBytes int64
}

// NewReader creates a reader that rejects uploads above maxBytes (0 disables the limit).
func NewReader(maxBytes int64) *Reader {
	return &Reader{maxBytes: maxBytes}
}

// ReadMultipartImage validates an uploaded image and encodes it as a data URL.
func (u *Reader) ReadMultipartImage(fileHeader *multipart.FileHeader) (transforms.ImageRef, error) {
	if fileHeader == nil {
		return transforms.ImageRef{}, fmt.Errorf("no file provided")
	}
	src, err := fileHeader.Open()
	if err != nil {
		return transforms.ImageRef{}, fmt.Errorf("open uploaded file: %w", err)
	}
	defer func() { _ = src.Close() }()

	return u.ReadImage(src, fileHeader.Filename, fileHeader.Header.Get("Content-Type"))
}

// ReadImage reads r fully, checks it decodes as an allowed image type and
// returns it as a data URL reference.
func (u *Reader) ReadImage(r io.Reader, filename, contentType string) (transforms.ImageRef, error) {
	var data []byte
	var err error
	if u.maxBytes > 0 {
		data, err = io.ReadAll(io.LimitReader(r, u.maxBytes+1))
	} else {
		data, err = io.ReadAll(r)
	}
	if err != nil {
		return transforms.ImageRef{}, fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return transforms.ImageRef{}, fmt.Errorf("empty upload")
	}
	if u.maxBytes > 0 && int64(len(data)) > u.maxBytes {
		return transforms.ImageRef{}, fmt.Errorf("%w: limit is %s", ErrTooLarge, humanize.IBytes(uint64(u.maxBytes)))
	}

	mimeType := detectMime(contentType, filename, data)
	if !isAllowedImageMime(mimeType) {
		return transforms.ImageRef{}, fmt.Errorf("unsupported content type: %s", mimeType)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return transforms.ImageRef{}, fmt.Errorf("decode image: %w", err)
	}
	bounds := img.Bounds()

	return transforms.ImageRef{
		URI:      DataURL(mimeType, data),
		MimeType: mimeType,
		Source:   common.SourceUpload,
		Width:    bounds.Dx(),
		Height:   bounds.Dy(),
		Size:     int64(len(data)),
	}, nil
}

// RemoteImage validates an http(s) URL used by the quick-pick path.
func RemoteImage(raw string) (transforms.ImageRef, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return transforms.ImageRef{}, fmt.Errorf("image url is required")
	}
	parsed, err := url.ParseRequestURI(v)
	if err != nil {
		return transforms.ImageRef{}, fmt.Errorf("invalid image url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return transforms.ImageRef{}, fmt.Errorf("image url scheme %q not allowed", parsed.Scheme)
	}
	return transforms.ImageRef{
		URI:      v,
		MimeType: mime.TypeByExtension(strings.ToLower(filepath.Ext(parsed.Path))),
		Source:   common.SourceRemote,
	}, nil
}

// DataURL encodes data as an RFC 2397 base64 data URL.
func DataURL(mimeType string, data []byte) string {
	return dataURLPrefix + mimeType + dataURLBase64Sep + base64.StdEncoding.EncodeToString(data)
}

func detectMime(header, filename string, data []byte) string {
	mt := strings.ToLower(strings.TrimSpace(header))
	if i := strings.Index(mt, ";"); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	// Some clients set application/octet-stream for uploads; treat it as unknown and fall back to extension.
	if mt == "" || mt == "application/octet-stream" {
		mt = mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
		if i := strings.Index(mt, ";"); i >= 0 {
			mt = strings.TrimSpace(mt[:i])
		}
	}
	if mt == "" {
		mt = http.DetectContentType(data)
	}
	return mt
}

func isAllowedImageMime(mimeType string) bool {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	_, ok := allowedImageMimes[mt]
	return ok
}
