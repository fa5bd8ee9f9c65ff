package codec

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"

	"imgconv/internal/format"
)

const (
	tgaHeaderSize    = 18
	tgaFooterSize    = 26
	tgaSignature     = "TRUEVISION-XFILE.\x00"
	tgaTypeColorMap  = 1
	tgaTypeTrueColor = 2
	tgaTypeGray      = 3
	tgaRLE           = 8
	tgaOriginRight   = 0x10
	tgaOriginTop     = 0x20
)

// encodeTGA writes an uncompressed 32-bit BGRA TGA 2.0 file with a top-left
// origin. The 2.0 footer makes the output detectable by content.
func encodeTGA(w io.Writer, img image.Image) error {
	b := img.Bounds()
	if b.Dx() > 0xffff || b.Dy() > 0xffff {
		return fmt.Errorf("tga dimensions %dx%d exceed 65535", b.Dx(), b.Dy())
	}
	header := make([]byte, tgaHeaderSize)
	header[2] = tgaTypeTrueColor
	binary.LittleEndian.PutUint16(header[12:], uint16(b.Dx()))
	binary.LittleEndian.PutUint16(header[14:], uint16(b.Dy()))
	header[16] = 32
	header[17] = tgaOriginTop | 8

	bw := bufio.NewWriter(w)
	if _, err := bw.Write(header); err != nil {
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if _, err := bw.Write([]byte{c.B, c.G, c.R, c.A}); err != nil {
				return err
			}
		}
	}
	footer := make([]byte, 8, tgaFooterSize)
	footer = append(footer, tgaSignature...)
	if _, err := bw.Write(footer); err != nil {
		return err
	}
	return bw.Flush()
}

func hasTGAFooter(data []byte) bool {
	if len(data) < tgaHeaderSize+tgaFooterSize {
		return false
	}
	return bytes.Equal(data[len(data)-len(tgaSignature):], []byte(tgaSignature))
}

// tgaHeader is the fixed 18-byte preamble.
type tgaHeader struct {
	idLength    int
	colorMapped bool
	imageType   int
	mapFirst    int
	mapLength   int
	mapDepth    int
	width       int
	height      int
	depth       int
	descriptor  byte
}

func parseTGAHeader(b []byte) tgaHeader {
	return tgaHeader{
		idLength:    int(b[0]),
		colorMapped: b[1] == 1,
		imageType:   int(b[2]),
		mapFirst:    int(binary.LittleEndian.Uint16(b[3:])),
		mapLength:   int(binary.LittleEndian.Uint16(b[5:])),
		mapDepth:    int(b[7]),
		width:       int(binary.LittleEndian.Uint16(b[12:])),
		height:      int(binary.LittleEndian.Uint16(b[14:])),
		depth:       int(b[16]),
		descriptor:  b[17],
	}
}

// validate reports whether the type, depth and color map fields describe a
// layout the decoder can read.
func (h tgaHeader) validate() error {
	base := h.imageType &^ tgaRLE
	switch {
	case base == tgaTypeColorMap:
		if !h.colorMapped || h.mapLength == 0 {
			return fmt.Errorf("color-mapped image without a color map")
		}
		if h.depth != 8 && h.depth != 16 {
			return fmt.Errorf("color-mapped index depth %d is not supported", h.depth)
		}
		if !isTGAColorDepth(h.mapDepth) {
			return fmt.Errorf("color map entry depth %d is not supported", h.mapDepth)
		}
		return nil
	case base == tgaTypeTrueColor:
		if isTGAColorDepth(h.depth) {
			return nil
		}
	case base == tgaTypeGray:
		if h.depth == 8 || h.depth == 16 {
			return nil
		}
	}
	return fmt.Errorf("image type %d with depth %d is not supported", h.imageType, h.depth)
}

func isTGAColorDepth(d int) bool {
	return d == 15 || d == 16 || d == 24 || d == 32
}

// plausibleTGAHeader recognizes footerless TGA 1.0 files by their header
// alone. It runs after every other detector.
func plausibleTGAHeader(data []byte) bool {
	if len(data) < tgaHeaderSize || data[1] > 1 || data[17]&0xc0 != 0 {
		return false
	}
	h := parseTGAHeader(data)
	if h.width == 0 || h.height == 0 {
		return false
	}
	if h.colorMapped != (h.imageType&^tgaRLE == tgaTypeColorMap) {
		return false
	}
	return h.validate() == nil
}

// decodeTGA reads true-color (15/16/24/32 bit), grayscale (8 bit, or 16 bit
// with alpha) and color-mapped images, raw or run-length encoded, in any of
// the four origin corners.
func decodeTGA(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	raw := make([]byte, tgaHeaderSize)
	if _, err := io.ReadFull(br, raw); err != nil {
		return nil, corrupt(format.TGA, "read header: %w", err)
	}
	h := parseTGAHeader(raw)
	if err := checkDimensions(format.TGA, h.width, h.height); err != nil {
		return nil, err
	}
	if err := h.validate(); err != nil {
		return nil, corrupt(format.TGA, "%v", err)
	}
	if _, err := br.Discard(h.idLength); err != nil {
		return nil, corrupt(format.TGA, "skip image id: %w", err)
	}

	var palette []color.NRGBA
	if h.colorMapped {
		entrySize := (h.mapDepth + 7) / 8
		entries := make([]byte, h.mapLength*entrySize)
		if _, err := io.ReadFull(br, entries); err != nil {
			return nil, corrupt(format.TGA, "read color map: %w", err)
		}
		palette = make([]color.NRGBA, h.mapLength)
		for i := range palette {
			palette[i] = tgaColor(entries[i*entrySize:], h.mapDepth, h.alphaBits())
		}
	}

	bpp := (h.depth + 7) / 8
	pix := make([]byte, h.width*h.height*bpp)
	if h.imageType&tgaRLE != 0 {
		if err := readTGARuns(br, pix, bpp); err != nil {
			return nil, corrupt(format.TGA, "%v", err)
		}
	} else if _, err := io.ReadFull(br, pix); err != nil {
		return nil, corrupt(format.TGA, "read pixels: %w", err)
	}

	img := image.NewNRGBA(image.Rect(0, 0, h.width, h.height))
	base := h.imageType &^ tgaRLE
	for i := 0; i < h.width*h.height; i++ {
		p := pix[i*bpp : i*bpp+bpp]
		var c color.NRGBA
		switch base {
		case tgaTypeColorMap:
			index := int(p[0])
			if bpp == 2 {
				index = int(binary.LittleEndian.Uint16(p))
			}
			index -= h.mapFirst
			if index < 0 || index >= len(palette) {
				return nil, corrupt(format.TGA, "color index %d outside the map", index+h.mapFirst)
			}
			c = palette[index]
		case tgaTypeGray:
			c = color.NRGBA{R: p[0], G: p[0], B: p[0], A: 0xff}
			if bpp == 2 {
				c.A = p[1]
			}
		default:
			c = tgaColor(p, h.depth, h.alphaBits())
		}
		x, y := i%h.width, i/h.width
		if h.descriptor&tgaOriginRight != 0 {
			x = h.width - 1 - x
		}
		if h.descriptor&tgaOriginTop == 0 {
			y = h.height - 1 - y
		}
		img.SetNRGBA(x, y, c)
	}
	return img, nil
}

// readTGARuns expands run-length packets into pix. Packets may cross
// scanline boundaries but not the end of the image.
func readTGARuns(br *bufio.Reader, pix []byte, bpp int) error {
	value := make([]byte, bpp)
	for off := 0; off < len(pix); {
		packet, err := br.ReadByte()
		if err != nil {
			return fmt.Errorf("read packet at pixel %d: %w", off/bpp, err)
		}
		n := (int(packet&0x7f) + 1) * bpp
		if off+n > len(pix) {
			return fmt.Errorf("packet at pixel %d overflows the image", off/bpp)
		}
		if packet&0x80 == 0 {
			if _, err := io.ReadFull(br, pix[off:off+n]); err != nil {
				return fmt.Errorf("read raw packet: %w", err)
			}
			off += n
			continue
		}
		if _, err := io.ReadFull(br, value); err != nil {
			return fmt.Errorf("read run packet: %w", err)
		}
		for end := off + n; off < end; off += bpp {
			copy(pix[off:], value)
		}
	}
	return nil
}

func (h tgaHeader) alphaBits() bool { return h.descriptor&0x0f != 0 }

// tgaColor converts one little-endian BGR(A) pixel. 15 and 16 bit pixels
// pack 5 bits per channel; the top bit of a 16-bit pixel is alpha when the
// descriptor declares alpha bits.
func tgaColor(p []byte, depth int, alpha bool) color.NRGBA {
	switch depth {
	case 15, 16:
		v := binary.LittleEndian.Uint16(p)
		c := color.NRGBA{
			R: expand5(byte(v >> 10)),
			G: expand5(byte(v >> 5)),
			B: expand5(byte(v)),
			A: 0xff,
		}
		if depth == 16 && alpha && v&0x8000 == 0 {
			c.A = 0
		}
		return c
	case 24:
		return color.NRGBA{R: p[2], G: p[1], B: p[0], A: 0xff}
	default:
		return color.NRGBA{R: p[2], G: p[1], B: p[0], A: p[3]}
	}
}

func expand5(v byte) byte {
	v &= 0x1f
	return v<<3 | v>>2
}
