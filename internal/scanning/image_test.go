package scanning

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("PrepareImage", func() {
	It("should pass through a small PNG untouched", func() {
		img := testImage("small.png", 5)
		prepared, err := PrepareImage(img, 1800)
		Expect(err).NotTo(HaveOccurred())
		Expect(prepared.MIMEType).To(Equal("image/png"))
		Expect(prepared.Data).To(Equal(img.Data))
	})

	It("should downscale an oversized PNG keeping the aspect ratio", func() {
		img := Image{Name: "big.png", Data: pngBytes(400, 100, 1), ContentType: "image/png"}
		prepared, err := PrepareImage(img, 200)
		Expect(err).NotTo(HaveOccurred())

		cfg, err := png.DecodeConfig(bytes.NewReader(prepared.Data))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Width).To(Equal(200))
		Expect(cfg.Height).To(Equal(50))
	})

	It("should convert JPEG to PNG", func() {
		var buf bytes.Buffer
		Expect(jpeg.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 30)), nil)).To(Succeed())

		prepared, err := PrepareImage(Image{Name: "r.jpg", Data: buf.Bytes(), ContentType: "IMAGE/JPEG; charset=binary"}, 20)
		Expect(err).NotTo(HaveOccurred())
		Expect(prepared.MIMEType).To(Equal("image/png"))

		cfg, err := png.DecodeConfig(bytes.NewReader(prepared.Data))
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Height).To(Equal(20))
		Expect(cfg.Width).To(Equal(6))
	})

	It("should reject empty data", func() {
		_, err := PrepareImage(Image{Name: "empty.png"}, 0)
		Expect(err).To(HaveOccurred())
	})

	It("should explain unsupported formats", func() {
		_, err := PrepareImage(Image{Name: "x.bmp", Data: []byte("BM not really"), ContentType: "image/bmp"}, 0)
		Expect(err).To(MatchError(ContainSubstring("unsupported image format")))
	})
})

var _ = Describe("LoadImage", func() {
	var dir string

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
	})

	It("should infer the content type from the extension", func() {
		path := filepath.Join(dir, "receipt.png")
		Expect(os.WriteFile(path, pngBytes(4, 4, 1), 0644)).To(Succeed())

		img, err := LoadImage(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(img.Name).To(Equal("receipt.png"))
		Expect(img.ContentType).To(Equal("image/png"))
	})

	It("should recognize HEIC by extension", func() {
		path := filepath.Join(dir, "IMG_0001.HEIC")
		Expect(os.WriteFile(path, []byte("data"), 0644)).To(Succeed())

		img, err := LoadImage(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(img.ContentType).To(Equal("image/heic"))
	})

	It("should sniff content without an extension", func() {
		path := filepath.Join(dir, "receipt")
		Expect(os.WriteFile(path, pngBytes(4, 4, 1), 0644)).To(Succeed())

		img, err := LoadImage(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(img.ContentType).To(Equal("image/png"))
	})

	It("should detect HEIC magic bytes", func() {
		data := append([]byte{0, 0, 0, 24}, []byte("ftypheic....")...)
		Expect(isHEICFormat(data)).To(BeTrue())
		Expect(isHEICFormat([]byte("ftyp"))).To(BeFalse())
	})
})
