package codec

import (
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"strconv"
	"strings"

	"imgconv/internal/format"
)

const (
	hdrFormatRGBE = "32-bit_rle_rgbe"
	hdrFormatXYZE = "32-bit_rle_xyze"
)

// encodeHDR writes a Radiance RGBE file with flat (non run-length) scanlines.
// Samples are mapped linearly from [0, 0xffff] to [0, 1].
func encodeHDR(w io.Writer, img image.Image) error {
	b := img.Bounds()
	bw := bufio.NewWriter(w)
	if _, err := fmt.Fprintf(bw, "#?RADIANCE\nFORMAT=%s\n\n-Y %d +X %d\n", hdrFormatRGBE, b.Dy(), b.Dx()); err != nil {
		return err
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
			px := toRGBE(float64(c.R)/0xffff, float64(c.G)/0xffff, float64(c.B)/0xffff)
			if _, err := bw.Write(px[:]); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func toRGBE(r, g, b float64) [4]byte {
	v := math.Max(r, math.Max(g, b))
	if v < 1e-32 {
		return [4]byte{}
	}
	m, e := math.Frexp(v)
	scale := m * 256 / v
	return [4]byte{byte(r * scale), byte(g * scale), byte(b * scale), byte(e + 128)}
}

func fromRGBE(px []byte) (float64, float64, float64) {
	if px[3] == 0 {
		return 0, 0, 0
	}
	f := math.Ldexp(1, int(px[3])-(128+8))
	return (float64(px[0]) + 0.5) * f, (float64(px[1]) + 0.5) * f, (float64(px[2]) + 0.5) * f
}

func isHDR(data []byte) bool {
	s := string(data[:min(len(data), 10)])
	return strings.HasPrefix(s, "#?RADIANCE") || strings.HasPrefix(s, "#?RGBE")
}

// xyzToRGB maps CIE XYZ onto RGB with the default Radiance primaries and an
// equal-energy white point.
var xyzToRGB = [3][3]float64{
	{2.5653, -1.1668, -0.3984},
	{-1.0221, 1.9783, 0.0438},
	{0.0747, -0.2519, 1.1772},
}

// hdrLayout places scanline i, column j of the file in the raster. The
// standard "-Y H +X W" layout is top-down rows of left-to-right pixels.
type hdrLayout struct {
	width, height int
	scanlines     int
	scanLength    int
	place         func(i, j int) (x, y int)
}

// parseHDRResolution accepts all eight Radiance orientations.
func parseHDRResolution(line string) (hdrLayout, error) {
	var (
		major, minor [2]byte
		n1, n2       int
	)
	fields := strings.Fields(line)
	if len(fields) != 4 || len(fields[0]) != 2 || len(fields[2]) != 2 {
		return hdrLayout{}, fmt.Errorf("resolution %q is malformed", line)
	}
	copy(major[:], fields[0])
	copy(minor[:], fields[2])
	var err error
	if n1, err = strconv.Atoi(fields[1]); err != nil {
		return hdrLayout{}, fmt.Errorf("resolution %q is malformed", line)
	}
	if n2, err = strconv.Atoi(fields[3]); err != nil {
		return hdrLayout{}, fmt.Errorf("resolution %q is malformed", line)
	}
	valid := func(a [2]byte) bool { return (a[0] == '+' || a[0] == '-') && (a[1] == 'X' || a[1] == 'Y') }
	if !valid(major) || !valid(minor) || major[1] == minor[1] {
		return hdrLayout{}, fmt.Errorf("resolution %q is malformed", line)
	}

	// pos maps index k along an axis of length n to a raster coordinate.
	// "-Y" runs top to bottom and "+X" left to right.
	pos := func(axis [2]byte, k, n int) int {
		if (axis[1] == 'Y') == (axis[0] == '+') {
			return n - 1 - k
		}
		return k
	}
	l := hdrLayout{scanlines: n1, scanLength: n2}
	if major[1] == 'Y' {
		l.width, l.height = n2, n1
		l.place = func(i, j int) (int, int) { return pos(minor, j, n2), pos(major, i, n1) }
	} else {
		l.width, l.height = n1, n2
		l.place = func(i, j int) (int, int) { return pos(major, i, n1), pos(minor, j, n2) }
	}
	return l, nil
}

// decodeHDR reads Radiance RGBE and XYZE files in any orientation, with flat
// or new-style run-length scanlines. EXPOSURE lines are divided out and
// values above 1 are clipped.
func decodeHDR(r io.Reader) (image.Image, error) {
	br := bufio.NewReader(r)
	first, err := br.ReadString('\n')
	if err != nil || !strings.HasPrefix(first, "#?") {
		return nil, corrupt(format.HDR, "missing signature")
	}
	xyz := false
	exposure := 1.0
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, corrupt(format.HDR, "read header: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		if value, ok := strings.CutPrefix(line, "FORMAT="); ok {
			switch value {
			case hdrFormatRGBE:
			case hdrFormatXYZE:
				xyz = true
			default:
				return nil, corrupt(format.HDR, "pixel format %q is not supported", value)
			}
		}
		if value, ok := strings.CutPrefix(line, "EXPOSURE="); ok {
			if e, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil && e > 0 {
				exposure *= e
			}
		}
	}
	resolution, err := br.ReadString('\n')
	if err != nil {
		return nil, corrupt(format.HDR, "read resolution: %w", err)
	}
	layout, err := parseHDRResolution(strings.TrimSpace(resolution))
	if err != nil {
		return nil, corrupt(format.HDR, "%v", err)
	}
	if err := checkDimensions(format.HDR, layout.width, layout.height); err != nil {
		return nil, err
	}

	img := image.NewNRGBA64(image.Rect(0, 0, layout.width, layout.height))
	scan := make([]byte, layout.scanLength*4)
	for i := 0; i < layout.scanlines; i++ {
		if err := readHDRScanline(br, scan, layout.scanLength); err != nil {
			return nil, corrupt(format.HDR, "scanline %d: %w", i, err)
		}
		for j := 0; j < layout.scanLength; j++ {
			r, g, b := fromRGBE(scan[j*4 : j*4+4])
			if xyz {
				r, g, b = xyzToRGB[0][0]*r+xyzToRGB[0][1]*g+xyzToRGB[0][2]*b,
					xyzToRGB[1][0]*r+xyzToRGB[1][1]*g+xyzToRGB[1][2]*b,
					xyzToRGB[2][0]*r+xyzToRGB[2][1]*g+xyzToRGB[2][2]*b
			}
			x, y := layout.place(i, j)
			img.SetNRGBA64(x, y, color.NRGBA64{
				R: unitToUint16(r / exposure),
				G: unitToUint16(g / exposure),
				B: unitToUint16(b / exposure),
				A: 0xffff,
			})
		}
	}
	return img, nil
}

// readHDRScanline fills scan with interleaved RGBE pixels.
func readHDRScanline(br *bufio.Reader, scan []byte, width int) error {
	if _, err := io.ReadFull(br, scan[:4]); err != nil {
		return err
	}
	rle := width >= 8 && width < 0x8000 && scan[0] == 2 && scan[1] == 2 && scan[2]&0x80 == 0
	if !rle {
		_, err := io.ReadFull(br, scan[4:])
		return err
	}
	if encoded := int(scan[2])<<8 | int(scan[3]); encoded != width {
		return fmt.Errorf("encoded width %d does not match %d", encoded, width)
	}
	for ch := 0; ch < 4; ch++ {
		for x := 0; x < width; {
			count, err := br.ReadByte()
			if err != nil {
				return err
			}
			if count > 128 {
				run := int(count) - 128
				value, err := br.ReadByte()
				if err != nil {
					return err
				}
				if x+run > width {
					return fmt.Errorf("run overflows scanline")
				}
				for ; run > 0; run-- {
					scan[x*4+ch] = value
					x++
				}
				continue
			}
			n := int(count)
			if n == 0 || x+n > width {
				return fmt.Errorf("invalid literal length %d", n)
			}
			for ; n > 0; n-- {
				value, err := br.ReadByte()
				if err != nil {
					return err
				}
				scan[x*4+ch] = value
				x++
			}
		}
	}
	return nil
}

func unitToUint16(v float64) uint16 {
	switch {
	case v <= 0:
		return 0
	case v >= 1:
		return 0xffff
	default:
		return uint16(v*0xffff + 0.5)
	}
}
