package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"image"
	"io"

	ico "github.com/sergeymakinen/go-ico"

	"imgconv/internal/format"
)

const (
	icoHeaderSize   = 6
	icoEntrySize    = 16
	icoMaxDimension = 256
)

// encodeICO writes a single-entry icon. Rasters under 256 pixels are stored
// as 32-bit bitmaps with an AND mask, 256x256 as PNG.
func encodeICO(w io.Writer, img image.Image) error {
	b := img.Bounds()
	if b.Dx() > icoMaxDimension || b.Dy() > icoMaxDimension {
		return fmt.Errorf("ico dimensions %dx%d exceed %dx%d", b.Dx(), b.Dy(), icoMaxDimension, icoMaxDimension)
	}
	return ico.Encode(w, img)
}

func isICO(data []byte) bool {
	if len(data) < icoHeaderSize+icoEntrySize {
		return false
	}
	return data[0] == 0 && data[1] == 0 && data[2] == 1 && data[3] == 0 &&
		binary.LittleEndian.Uint16(data[4:]) > 0
}

// decodeICO returns the largest entry of an icon file, whether it is stored
// as PNG or as a DIB with an AND mask.
func decodeICO(data []byte) (image.Image, error) {
	img, err := ico.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Format: format.ICO, Err: err}
	}
	return img, nil
}
