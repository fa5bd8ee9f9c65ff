package codec

import (
	"bufio"
	"bytes"
	"errors"
	"image"
	"image/color"
	"io"
	"strconv"
	"strings"

	pnm "github.com/jbuchbinder/gopnm"

	"imgconv/internal/format"
)

// encodePNM writes binary PGM (P5) for grayscale rasters and PPM (P6) for
// everything else, 8 bits per sample. Alpha is dropped.
func encodePNM(w io.Writer, img image.Image) error {
	if isGrayModel(img.ColorModel()) {
		return pnm.Encode(w, img, pnm.PGM)
	}
	return pnm.Encode(w, opaqueRGB(img), pnm.PPM)
}

// decodePNM reads every netpbm variant: plain and raw PBM, PGM and PPM
// (P1 to P6) plus PAM (P7). Samples with a maxval other than 255 or 65535
// are rescaled to the full range.
func decodePNM(data []byte) (image.Image, error) {
	if bytes.HasPrefix(data, []byte("P7")) {
		return decodePAM(bufio.NewReader(bytes.NewReader(data)))
	}
	br := bufio.NewReader(bytes.NewReader(data))
	cfg, err := pnm.DecodeConfigPNM(br)
	if err != nil {
		return nil, corrupt(format.PNM, "read header: %w", err)
	}
	if err := checkDimensions(format.PNM, cfg.Width, cfg.Height); err != nil {
		return nil, err
	}
	// 16-bit raw PPM goes through the tuple reader; the library packs it
	// into an 8-bit raster.
	if cfg.Maxval > 255 && bytes.HasPrefix(data, []byte("P6")) {
		return readPNMSamples(br, cfg.Width, cfg.Height, 3, cfg.Maxval, false)
	}

	img, err := pnm.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Format: format.PNM, Err: err}
	}
	bitmap := data[1] == '1' || data[1] == '4'
	if bitmap || cfg.Maxval == 255 || cfg.Maxval == 65535 {
		return img, nil
	}
	return rescalePNM(img, cfg.Maxval), nil
}

// rescalePNM stretches samples stored against maxval to the full range.
func rescalePNM(img image.Image, maxval int) image.Image {
	// 8-bit samples come back replicated into 16 bits; 16-bit ones are raw.
	scale := func(v uint32) uint16 {
		if maxval <= 255 {
			v >>= 8
		}
		return uint16(min(v, uint32(maxval)) * 0xffff / uint32(maxval))
	}
	b := img.Bounds()
	if isGrayModel(img.ColorModel()) {
		out := image.NewGray16(b)
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
				out.SetGray16(x, y, color.Gray16{Y: scale(uint32(g.Y))})
			}
		}
		return out
	}
	out := image.NewNRGBA64(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, _ := img.At(x, y).RGBA()
			out.SetNRGBA64(x, y, color.NRGBA64{R: scale(r), G: scale(g), B: scale(bl), A: 0xffff})
		}
	}
	return out
}

// decodePAM reads a P7 header terminated by ENDHDR and the tuple raster that
// follows. Depth 1 and 2 are gray with optional alpha, 3 and 4 are RGB with
// optional alpha.
func decodePAM(br *bufio.Reader) (image.Image, error) {
	fields := map[string]string{}
	first := true
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			return nil, corrupt(format.PNM, "read PAM header: %w", err)
		}
		line = strings.TrimSpace(line)
		if first {
			if line != "P7" {
				return nil, corrupt(format.PNM, "bad PAM magic %q", line)
			}
			first = false
			continue
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "ENDHDR" {
			break
		}
		key, value, _ := strings.Cut(line, " ")
		value = strings.TrimSpace(value)
		if key == "TUPLTYPE" && fields[key] != "" {
			value = fields[key] + " " + value
		}
		fields[key] = value
	}

	ints := make(map[string]int, 4)
	for _, key := range []string{"WIDTH", "HEIGHT", "DEPTH", "MAXVAL"} {
		v, err := strconv.Atoi(fields[key])
		if err != nil {
			return nil, corrupt(format.PNM, "PAM header field %s: %q", key, fields[key])
		}
		ints[key] = v
	}
	if err := checkDimensions(format.PNM, ints["WIDTH"], ints["HEIGHT"]); err != nil {
		return nil, err
	}
	depth := ints["DEPTH"]
	if depth < 1 || depth > 4 {
		return nil, corrupt(format.PNM, "PAM depth %d is not supported", depth)
	}
	alpha := depth == 2 || depth == 4
	channels := depth
	if alpha {
		channels--
	}
	return readPNMSamples(br, ints["WIDTH"], ints["HEIGHT"], channels, ints["MAXVAL"], alpha)
}

// readPNMSamples reads big-endian tuples of channels samples, plus an alpha
// sample when alpha is set.
func readPNMSamples(r io.Reader, width, height, channels, maxval int, alpha bool) (image.Image, error) {
	if maxval <= 0 || maxval > 0xffff {
		return nil, corrupt(format.PNM, "invalid maxval %d", maxval)
	}
	sampleBytes := 1
	if maxval > 255 {
		sampleBytes = 2
	}
	depth := channels
	if alpha {
		depth++
	}
	row := make([]byte, width*depth*sampleBytes)
	sample := func(i int) uint16 {
		var v uint32
		if sampleBytes == 2 {
			v = uint32(row[i*2])<<8 | uint32(row[i*2+1])
		} else {
			v = uint32(row[i])
		}
		return uint16(min(v, uint32(maxval)) * 0xffff / uint32(maxval))
	}

	img := image.NewNRGBA64(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		if _, err := io.ReadFull(r, row); err != nil {
			if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
				return nil, corrupt(format.PNM, "raster truncated at row %d", y)
			}
			return nil, err
		}
		for x := 0; x < width; x++ {
			i := x * depth
			c := color.NRGBA64{A: 0xffff}
			if channels == 1 {
				c.R, c.G, c.B = sample(i), sample(i), sample(i)
			} else {
				c.R, c.G, c.B = sample(i), sample(i+1), sample(i+2)
			}
			if alpha {
				c.A = sample(i + channels)
			}
			img.SetNRGBA64(x, y, c)
		}
	}
	return img, nil
}

func isGrayModel(m color.Model) bool {
	return m == color.GrayModel || m == color.Gray16Model
}
