package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Adioame/PhotoMind-sub002/internal/constants"
	"github.com/Adioame/PhotoMind-sub002/internal/store"
)

func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestClientEmbed(t *testing.T) {
	var gotContentType, gotModel string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embed/face" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		gotContentType = r.Header.Get("Content-Type")
		if _, _, err := r.FormFile("file"); err != nil {
			t.Errorf("form file: %v", err)
		}
		gotModel = r.FormValue("model")
		json.NewEncoder(w).Encode(map[string]any{
			"dim":       4,
			"embedding": []float32{0.1, 0.2, 0.3, 0.4},
			"model":     "facenet",
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "facenet", 4, 5*time.Second)
	emb, err := c.Embed(context.Background(), testJPEG(t, 10, 10))
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(emb) != 4 {
		t.Errorf("embedding length = %d, want 4", len(emb))
	}
	if !strings.HasPrefix(gotContentType, "multipart/form-data") {
		t.Errorf("expected multipart upload, got %s", gotContentType)
	}
	if gotModel != "facenet" {
		t.Errorf("model field = %q, want facenet", gotModel)
	}
}

// A server switched to a different model returns vectors of another length;
// the client rejects them rather than mixing dimensionalities into the
// library.
func TestClientEmbedRejectsWrongDim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"dim":       3,
			"embedding": []float32{0.1, 0.2, 0.3},
		})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 512, 5*time.Second)
	if _, err := c.Embed(context.Background(), testJPEG(t, 10, 10)); err == nil {
		t.Fatal("expected error on dim mismatch")
	}
}

func TestClientEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0, 5*time.Second)
	if _, err := c.Embed(context.Background(), testJPEG(t, 10, 10)); err == nil {
		t.Fatal("expected error on 503")
	}
}

func TestClientEmbedEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"embedding": []float32{}})
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", 0, 5*time.Second)
	if _, err := c.Embed(context.Background(), testJPEG(t, 10, 10)); err == nil {
		t.Fatal("expected error on empty embedding")
	}
}

func TestDetectMIMEType(t *testing.T) {
	jpg := testJPEG(t, 4, 4)
	if got := detectMIMEType(jpg); got != "image/jpeg" {
		t.Errorf("jpeg detected as %s", got)
	}
	png := []byte{0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A}
	if got := detectMIMEType(png); got != "image/png" {
		t.Errorf("png detected as %s", got)
	}
	if got := detectMIMEType([]byte{0x00}); got != "application/octet-stream" {
		t.Errorf("short data detected as %s", got)
	}
}

func TestCropFace(t *testing.T) {
	data := testJPEG(t, 200, 100)
	crop, err := CropFace(data, store.BoundingBox{X: 0.25, Y: 0.25, W: 0.5, H: 0.5})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}

	img, _, err := image.Decode(bytes.NewReader(crop))
	if err != nil {
		t.Fatalf("decode crop: %v", err)
	}
	if img.Bounds().Dx() != constants.FaceCropSize || img.Bounds().Dy() != constants.FaceCropSize {
		t.Errorf("crop is %dx%d, want %dx%d square",
			img.Bounds().Dx(), img.Bounds().Dy(), constants.FaceCropSize, constants.FaceCropSize)
	}
}

func TestCropFaceClampsToImage(t *testing.T) {
	data := testJPEG(t, 100, 100)
	// Box hugging the corner: margin expansion would leave the image.
	if _, err := CropFace(data, store.BoundingBox{X: 0.9, Y: 0.9, W: 0.1, H: 0.1}); err != nil {
		t.Fatalf("corner crop: %v", err)
	}
}

func TestCropFaceEmptyBox(t *testing.T) {
	data := testJPEG(t, 100, 100)
	if _, err := CropFace(data, store.BoundingBox{X: 1.0, Y: 1.0, W: 0, H: 0}); err == nil {
		t.Fatal("expected error for empty box")
	}
}

func TestResizeImage(t *testing.T) {
	data := testJPEG(t, 400, 200)

	resized, err := ResizeImage(data, 100)
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	img, _, err := image.Decode(bytes.NewReader(resized))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 100 || img.Bounds().Dy() != 50 {
		t.Errorf("resized to %dx%d, want 100x50", img.Bounds().Dx(), img.Bounds().Dy())
	}

	// Small images pass through unchanged.
	same, err := ResizeImage(data, 1000)
	if err != nil {
		t.Fatalf("resize passthrough: %v", err)
	}
	if !bytes.Equal(same, data) {
		t.Error("image within bounds should pass through untouched")
	}
}
