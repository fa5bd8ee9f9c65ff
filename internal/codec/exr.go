package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"sort"

	"github.com/x448/float16"

	"imgconv/internal/format"
)

var exrMagic = []byte{0x76, 0x2f, 0x31, 0x01}

const (
	exrPixelHalf  = 1
	exrPixelFloat = 2

	exrFlagTiled     = 0x200
	exrFlagNonImage  = 0x800
	exrFlagMultipart = 0x1000
)

// encodeEXR writes a single-part scanline OpenEXR file without compression,
// one scanline per block, 32-bit float channels. Alpha is written only for
// rasters that are not fully opaque; color is then stored premultiplied by
// alpha as OpenEXR requires.
func encodeEXR(w io.Writer, img image.Image) error {
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	channels := []string{"B", "G", "R"}
	if !isOpaque(img) {
		channels = []string{"A", "B", "G", "R"}
	}

	var header bytes.Buffer
	header.Write(exrMagic)
	header.Write([]byte{2, 0, 0, 0})

	var chlist bytes.Buffer
	for _, name := range channels {
		chlist.WriteString(name)
		chlist.WriteByte(0)
		writeLE(&chlist, int32(exrPixelFloat))
		chlist.Write([]byte{0, 0, 0, 0}) // pLinear + reserved
		writeLE(&chlist, int32(1))
		writeLE(&chlist, int32(1))
	}
	chlist.WriteByte(0)

	box := func() []byte {
		var v bytes.Buffer
		writeLE(&v, [4]int32{0, 0, int32(width - 1), int32(height - 1)})
		return v.Bytes()
	}
	writeEXRAttr(&header, "channels", "chlist", chlist.Bytes())
	writeEXRAttr(&header, "compression", "compression", []byte{0})
	writeEXRAttr(&header, "dataWindow", "box2i", box())
	writeEXRAttr(&header, "displayWindow", "box2i", box())
	writeEXRAttr(&header, "lineOrder", "lineOrder", []byte{0})
	writeEXRAttr(&header, "pixelAspectRatio", "float", float32Bytes(1))
	writeEXRAttr(&header, "screenWindowCenter", "v2f", append(float32Bytes(0), float32Bytes(0)...))
	writeEXRAttr(&header, "screenWindowWidth", "float", float32Bytes(1))
	header.WriteByte(0)

	blockData := width * len(channels) * 4
	blockSize := 8 + blockData
	offset := uint64(header.Len() + 8*height)
	for y := 0; y < height; y++ {
		writeLE(&header, offset+uint64(y*blockSize))
	}
	if _, err := w.Write(header.Bytes()); err != nil {
		return err
	}

	block := make([]byte, blockSize)
	for y := 0; y < height; y++ {
		binary.LittleEndian.PutUint32(block[0:], uint32(int32(y)))
		binary.LittleEndian.PutUint32(block[4:], uint32(blockData))
		for x := 0; x < width; x++ {
			c := color.RGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.RGBA64)
			for ci, name := range channels {
				var v uint16
				switch name {
				case "A":
					v = c.A
				case "B":
					v = c.B
				case "G":
					v = c.G
				case "R":
					v = c.R
				}
				pos := 8 + (ci*width+x)*4
				binary.LittleEndian.PutUint32(block[pos:], math.Float32bits(float32(v)/0xffff))
			}
		}
		if _, err := w.Write(block); err != nil {
			return err
		}
	}
	return nil
}

func writeEXRAttr(buf *bytes.Buffer, name, typ string, value []byte) {
	buf.WriteString(name)
	buf.WriteByte(0)
	buf.WriteString(typ)
	buf.WriteByte(0)
	writeLE(buf, int32(len(value)))
	buf.Write(value)
}

func writeLE(buf *bytes.Buffer, v any) {
	// bytes.Buffer writes never fail.
	_ = binary.Write(buf, binary.LittleEndian, v)
}

func float32Bytes(v float32) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, math.Float32bits(v))
	return out
}

type exrChannel struct {
	name      string
	pixelType int32
}

func (c exrChannel) size() int {
	if c.pixelType == exrPixelHalf {
		return 2
	}
	return 4
}

// decodeEXR reads single-part scanline files without compression whose
// channels are HALF or FLOAT. R, G, B, A and Y channels are mapped; others
// are skipped. Color next to an A channel is premultiplied and gets divided
// back out.
func decodeEXR(data []byte) (image.Image, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], exrMagic) {
		return nil, corrupt(format.EXR, "bad magic")
	}
	version := binary.LittleEndian.Uint32(data[4:])
	if version&0xff != 2 {
		return nil, corrupt(format.EXR, "version %d is not supported", version&0xff)
	}
	if version&(exrFlagTiled|exrFlagNonImage|exrFlagMultipart) != 0 {
		return nil, corrupt(format.EXR, "tiled, deep, and multi-part files are not supported")
	}

	pos := 8
	readString := func() (string, error) {
		end := bytes.IndexByte(data[pos:], 0)
		if end < 0 {
			return "", fmt.Errorf("unterminated string at %d", pos)
		}
		s := string(data[pos : pos+end])
		pos += end + 1
		return s, nil
	}

	var (
		channels    []exrChannel
		compression = -1
		window      [4]int32
		haveWindow  bool
	)
	for {
		name, err := readString()
		if err != nil {
			return nil, corrupt(format.EXR, "read attribute name: %w", err)
		}
		if name == "" {
			break
		}
		if _, err := readString(); err != nil {
			return nil, corrupt(format.EXR, "read attribute type: %w", err)
		}
		if pos+4 > len(data) {
			return nil, corrupt(format.EXR, "truncated attribute %s", name)
		}
		size := int(int32(binary.LittleEndian.Uint32(data[pos:])))
		pos += 4
		if size < 0 || pos+size > len(data) {
			return nil, corrupt(format.EXR, "attribute %s overflows the file", name)
		}
		value := data[pos : pos+size]
		pos += size

		switch name {
		case "channels":
			channels, err = parseEXRChannels(value)
			if err != nil {
				return nil, corrupt(format.EXR, "channels: %w", err)
			}
		case "compression":
			if len(value) != 1 {
				return nil, corrupt(format.EXR, "invalid compression attribute")
			}
			compression = int(value[0])
		case "dataWindow":
			if len(value) != 16 {
				return nil, corrupt(format.EXR, "invalid dataWindow attribute")
			}
			for i := range window {
				window[i] = int32(binary.LittleEndian.Uint32(value[i*4:]))
			}
			haveWindow = true
		}
	}
	if len(channels) == 0 || !haveWindow {
		return nil, corrupt(format.EXR, "missing required channels or dataWindow attribute")
	}
	if compression != 0 {
		return nil, corrupt(format.EXR, "compression method %d is not supported", compression)
	}
	width := int(window[2]-window[0]) + 1
	height := int(window[3]-window[1]) + 1
	if err := checkDimensions(format.EXR, width, height); err != nil {
		return nil, err
	}

	if pos+8*height > len(data) {
		return nil, corrupt(format.EXR, "truncated offset table")
	}
	offsets := make([]int, height)
	for i := range offsets {
		offsets[i] = int(binary.LittleEndian.Uint64(data[pos+i*8:]))
	}

	lineSize := 0
	for _, ch := range channels {
		lineSize += ch.size() * width
	}
	img := image.NewNRGBA64(image.Rect(0, 0, width, height))
	for _, off := range offsets {
		if off < 0 || off+8+lineSize > len(data) {
			return nil, corrupt(format.EXR, "scanline block at %d overflows the file", off)
		}
		y := int(int32(binary.LittleEndian.Uint32(data[off:]))) - int(window[1])
		if y < 0 || y >= height {
			return nil, corrupt(format.EXR, "scanline %d outside the data window", y)
		}
		if size := int(int32(binary.LittleEndian.Uint32(data[off+4:]))); size != lineSize {
			return nil, corrupt(format.EXR, "scanline %d has %d bytes, expected %d", y, size, lineSize)
		}
		line := data[off+8 : off+8+lineSize]
		values := map[string][]float64{}
		p := 0
		for _, ch := range channels {
			samples := make([]float64, width)
			for x := 0; x < width; x++ {
				if ch.pixelType == exrPixelHalf {
					samples[x] = halfToFloat(binary.LittleEndian.Uint16(line[p:]))
				} else {
					samples[x] = float64(math.Float32frombits(binary.LittleEndian.Uint32(line[p:])))
				}
				p += ch.size()
			}
			values[ch.name] = samples
		}
		for x := 0; x < width; x++ {
			c := color.NRGBA64{A: 0xffff}
			if lum, ok := values["Y"]; ok {
				v := unitToUint16(lum[x])
				c.R, c.G, c.B = v, v, v
			}
			if r, ok := values["R"]; ok {
				c.R = unitToUint16(r[x])
			}
			if g, ok := values["G"]; ok {
				c.G = unitToUint16(g[x])
			}
			if bl, ok := values["B"]; ok {
				c.B = unitToUint16(bl[x])
			}
			if a, ok := values["A"]; ok {
				alpha := math.Min(math.Max(a[x], 0), 1)
				c.A = unitToUint16(alpha)
				if alpha == 0 {
					c.R, c.G, c.B = 0, 0, 0
				} else {
					c.R = unpremultiply(c.R, alpha)
					c.G = unpremultiply(c.G, alpha)
					c.B = unpremultiply(c.B, alpha)
				}
			}
			img.SetNRGBA64(x, y, c)
		}
	}
	return img, nil
}

func parseEXRChannels(value []byte) ([]exrChannel, error) {
	var out []exrChannel
	pos := 0
	for pos < len(value) {
		end := bytes.IndexByte(value[pos:], 0)
		if end < 0 {
			return nil, fmt.Errorf("unterminated channel name")
		}
		if end == 0 {
			break
		}
		name := string(value[pos : pos+end])
		pos += end + 1
		if pos+16 > len(value) {
			return nil, fmt.Errorf("truncated channel %s", name)
		}
		pixelType := int32(binary.LittleEndian.Uint32(value[pos:]))
		xs := int32(binary.LittleEndian.Uint32(value[pos+8:]))
		ys := int32(binary.LittleEndian.Uint32(value[pos+12:]))
		pos += 16
		if pixelType != exrPixelHalf && pixelType != exrPixelFloat {
			return nil, fmt.Errorf("channel %s uses unsupported pixel type %d", name, pixelType)
		}
		if xs != 1 || ys != 1 {
			return nil, fmt.Errorf("channel %s is subsampled", name)
		}
		out = append(out, exrChannel{name: name, pixelType: pixelType})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}

func halfToFloat(h uint16) float64 {
	return float64(float16.Frombits(h).Float32())
}

func unpremultiply(v uint16, alpha float64) uint16 {
	return unitToUint16(float64(v) / 0xffff / alpha)
}

func isOpaque(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return o.Opaque()
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a != 0xffff {
				return false
			}
		}
	}
	return true
}
