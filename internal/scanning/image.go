package scanning

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	"golang.org/x/image/draw"

	"github.com/zombor/receipt-sage/internal/llm"
)

// DefaultMaxDimension bounds the longest side of an image sent to the backend
const DefaultMaxDimension = 1800

// Image is one receipt photo or document as read from disk or an upload
type Image struct {
	Name        string
	Data        []byte
	ContentType string
}

// LoadImage reads a file and infers its content type from the extension,
// falling back to content sniffing
func LoadImage(path string) (Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("reading image: %w", err)
	}
	return Image{
		Name:        filepath.Base(path),
		Data:        data,
		ContentType: detectContentType(path, data),
	}, nil
}

func detectContentType(name string, data []byte) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch ext {
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	}
	if ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			mediaType, _, err := mime.ParseMediaType(t)
			if err == nil {
				return mediaType
			}
		}
	}
	if isHEICFormat(data) {
		return "image/heic"
	}
	return http.DetectContentType(data)
}

// PrepareImage converts img to a PNG no larger than maxDimension on its longest side.
// PDFs are rendered from their first page. PNGs already within bounds pass through untouched.
func PrepareImage(img Image, maxDimension int) (llm.Image, error) {
	if maxDimension <= 0 {
		maxDimension = DefaultMaxDimension
	}
	if len(img.Data) == 0 {
		return llm.Image{}, fmt.Errorf("image %q is empty", img.Name)
	}

	// Normalize MIME type (lowercase, trim whitespace, drop parameters)
	mimeType := strings.ToLower(strings.TrimSpace(img.ContentType))
	if i := strings.Index(mimeType, ";"); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	if mimeType == "" {
		mimeType = "image/jpeg" // default
	}

	if mimeType == "image/png" && !isHEICFormat(img.Data) {
		cfg, err := png.DecodeConfig(bytes.NewReader(img.Data))
		if err == nil && cfg.Width <= maxDimension && cfg.Height <= maxDimension {
			return llm.Image{Data: img.Data, MIMEType: "image/png"}, nil
		}
	}

	decoded, err := decodeImage(img.Data, mimeType)
	if err != nil {
		return llm.Image{}, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, resize(decoded, maxDimension)); err != nil {
		return llm.Image{}, fmt.Errorf("encoding PNG: %w", err)
	}

	return llm.Image{Data: buf.Bytes(), MIMEType: "image/png"}, nil
}

func decodeImage(data []byte, mimeType string) (image.Image, error) {
	if mimeType == "application/pdf" {
		img, err := pdfToImage(data)
		if err != nil {
			return nil, fmt.Errorf("converting PDF to image: %w", err)
		}
		return img, nil
	}

	// Check for HEIC/HEIF format (common on iPhones) - Go's standard image package doesn't support it
	if isHEICFormat(data) || isHEICMimeType(mimeType) {
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, nil
	}

	// Decode standard image formats (JPEG, PNG, GIF)
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		if strings.Contains(err.Error(), "unknown format") || strings.Contains(err.Error(), "unsupported") {
			return nil, fmt.Errorf("unsupported image format. Supported formats: JPEG, PNG, GIF, HEIC, HEIF, PDF. Error: %w", err)
		}
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// pdfToImage renders the first page of a PDF (most receipts are single page)
func pdfToImage(pdfData []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

// resize scales src down so its longest side is at most maxDimension
func resize(src image.Image, maxDimension int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDimension && h <= maxDimension {
		return src
	}

	if w >= h {
		h = max(1, h*maxDimension/w)
		w = maxDimension
	} else {
		w = max(1, w*maxDimension/h)
		h = maxDimension
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// isHEICFormat checks for an ftyp box with a HEIC-related brand
func isHEICFormat(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	brand := string(data[8:12])
	return brand == "heic" || brand == "heif" || brand == "mif1" || brand == "msf1"
}

func isHEICMimeType(mimeType string) bool {
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
