package codec

import (
	"bufio"
	"encoding/binary"
	"image"
	"image/color"
	"io"

	"imgconv/internal/format"
)

const farbfeldMagic = "farbfeld"

// encodeFarbfeld writes the farbfeld layout: magic, big-endian uint32 width and
// height, then 16-bit big-endian non-premultiplied RGBA samples.
func encodeFarbfeld(w io.Writer, img image.Image) error {
	b := img.Bounds()
	bw := bufio.NewWriter(w)
	header := make([]byte, 16)
	copy(header, farbfeldMagic)
	binary.BigEndian.PutUint32(header[8:], uint32(b.Dx()))
	binary.BigEndian.PutUint32(header[12:], uint32(b.Dy()))
	if _, err := bw.Write(header); err != nil {
		return err
	}
	px := make([]byte, 8)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBA64Model.Convert(img.At(x, y)).(color.NRGBA64)
			binary.BigEndian.PutUint16(px[0:], c.R)
			binary.BigEndian.PutUint16(px[2:], c.G)
			binary.BigEndian.PutUint16(px[4:], c.B)
			binary.BigEndian.PutUint16(px[6:], c.A)
			if _, err := bw.Write(px); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

func decodeFarbfeld(r io.Reader) (image.Image, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, corrupt(format.Farbfeld, "read header: %w", err)
	}
	if string(header[:8]) != farbfeldMagic {
		return nil, corrupt(format.Farbfeld, "bad magic")
	}
	width := int(binary.BigEndian.Uint32(header[8:]))
	height := int(binary.BigEndian.Uint32(header[12:]))
	if err := checkDimensions(format.Farbfeld, width, height); err != nil {
		return nil, err
	}
	img := image.NewNRGBA64(image.Rect(0, 0, width, height))
	row := make([]byte, width*8)
	for y := 0; y < height; y++ {
		if _, err := io.ReadFull(r, row); err != nil {
			return nil, corrupt(format.Farbfeld, "read row %d: %w", y, err)
		}
		for x := 0; x < width; x++ {
			p := row[x*8:]
			img.SetNRGBA64(x, y, color.NRGBA64{
				R: binary.BigEndian.Uint16(p[0:]),
				G: binary.BigEndian.Uint16(p[2:]),
				B: binary.BigEndian.Uint16(p[4:]),
				A: binary.BigEndian.Uint16(p[6:]),
			})
		}
	}
	return img, nil
}
