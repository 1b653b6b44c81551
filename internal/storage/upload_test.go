package storage

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"strings"
	"testing"

	"github.com/jo-hoe/morphportal/internal/common"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.NRGBA{R: 155, G: 135, B: 245, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("jpeg encode: %v", err)
	}
	return buf.Bytes()
}

func makeMultipartFile(t *testing.T, filename string, contentType string, content []byte) *multipart.FileHeader {
	t.Helper()
	var b bytes.Buffer
	w := multipart.NewWriter(&b)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(content); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, "http://example/upload", &b)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	// Parse to obtain FileHeader
	if err := req.ParseMultipartForm(int64(b.Len()) + 1024); err != nil {
		t.Fatalf("ParseMultipartForm: %v", err)
	}
	fhs := req.MultipartForm.File["file"]
	if len(fhs) == 0 {
		t.Fatalf("no fileheaders parsed")
	}
	// Override detected header content-type for stricter testing
	fhs[0].Header.Set("Content-Type", contentType)
	return fhs[0]
}

func TestReader_ReadMultipartImage_PNG(t *testing.T) {
	data := pngBytes(t, 3, 2)
	fh := makeMultipartFile(t, "image.png", "image/png", data)

	ref, err := NewReader(10 * 1024 * 1024).ReadMultipartImage(fh)
	if err != nil {
		t.Fatalf("ReadMultipartImage: %v", err)
	}
	if ref.MimeType != common.MimeImagePNG || ref.Source != common.SourceUpload {
		t.Fatalf("ref = %+v", ref)
	}
	if ref.Width != 3 || ref.Height != 2 || ref.Size != int64(len(data)) {
		t.Fatalf("dimensions/size = %dx%d %d", ref.Width, ref.Height, ref.Size)
	}
	want := "data:image/png;base64," + base64.StdEncoding.EncodeToString(data)
	if ref.URI != want {
		t.Fatalf("data url mismatch")
	}
}

func TestReader_ReadMultipartImage_JPEG_ByExtension(t *testing.T) {
	// No explicit content-type header; rely on extension detection
	fh := makeMultipartFile(t, "photo.jpg", "", jpegBytes(t, 8, 8))

	ref, err := NewReader(0).ReadMultipartImage(fh)
	if err != nil {
		t.Fatalf("ReadMultipartImage: %v", err)
	}
	if ref.MimeType != common.MimeImageJPEG {
		t.Fatalf("mime = %q", ref.MimeType)
	}
	if !strings.HasPrefix(ref.URI, "data:image/jpeg;base64,") {
		t.Fatalf("unexpected uri prefix: %.40s", ref.URI)
	}
}

func TestReader_ReadMultipartImage_SniffsOctetStream(t *testing.T) {
	fh := makeMultipartFile(t, "blob", "application/octet-stream", pngBytes(t, 1, 1))

	ref, err := NewReader(0).ReadMultipartImage(fh)
	if err != nil {
		t.Fatalf("ReadMultipartImage: %v", err)
	}
	if ref.MimeType != common.MimeImagePNG {
		t.Fatalf("sniffed mime = %q", ref.MimeType)
	}
}

func TestReader_ReadMultipartImage_RejectsUnsupportedType(t *testing.T) {
	fh := makeMultipartFile(t, "notes.txt", "text/plain", []byte("hello"))
	if _, err := NewReader(0).ReadMultipartImage(fh); err == nil {
		t.Fatalf("expected error for text upload")
	}
}

func TestReader_ReadMultipartImage_RejectsUndecodable(t *testing.T) {
	fh := makeMultipartFile(t, "image.png", "image/png", []byte("not really a png"))
	if _, err := NewReader(0).ReadMultipartImage(fh); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestReader_ReadImage_TooLarge(t *testing.T) {
	data := pngBytes(t, 16, 16)
	_, err := NewReader(int64(len(data)-1)).ReadImage(bytes.NewReader(data), "a.png", "image/png")
	if !errors.Is(err, ErrTooLarge) {
		t.Fatalf("err = %v, want ErrTooLarge", err)
	}
	if _, err := NewReader(int64(len(data))).ReadImage(bytes.NewReader(data), "a.png", "image/png"); err != nil {
		t.Fatalf("upload at exactly the limit should pass: %v", err)
	}
}

func TestReader_ReadImage_Empty(t *testing.T) {
	if _, err := NewReader(0).ReadImage(bytes.NewReader(nil), "a.png", "image/png"); err == nil {
		t.Fatalf("expected error for empty upload")
	}
}

func TestRemoteImage(t *testing.T) {
	ref, err := RemoteImage(" https://cdn.example.com/files/demo.jpg ")
	if err != nil {
		t.Fatalf("RemoteImage: %v", err)
	}
	if ref.URI != "https://cdn.example.com/files/demo.jpg" || ref.Source != common.SourceRemote {
		t.Fatalf("ref = %+v", ref)
	}
	if ref.MimeType != common.MimeImageJPEG {
		t.Fatalf("mime from extension = %q", ref.MimeType)
	}

	for _, bad := range []string{"", "demo.jpg", "ftp://host/a.png", "javascript:alert(1)"} {
		if _, err := RemoteImage(bad); err == nil {
			t.Fatalf("RemoteImage(%q) should fail", bad)
		}
	}
}
