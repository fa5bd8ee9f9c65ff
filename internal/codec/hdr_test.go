package codec

import (
	"bytes"
	"encoding/binary"
	"image"
	"image/color"
	"math"
	"testing"
)

func TestDecodeHDRRunLengthScanlines(t *testing.T) {
	var data bytes.Buffer
	data.WriteString("#?RADIANCE\nFORMAT=32-bit_rle_rgbe\n\n-Y 2 +X 8\n")
	for y := 0; y < 2; y++ {
		data.Write([]byte{2, 2, 0, 8})
		// R, G, B as runs; exponent as literals.
		data.Write([]byte{128 + 8, 128})
		data.Write([]byte{128 + 8, 64})
		data.Write([]byte{128 + 8, 0})
		data.Write([]byte{8, 128, 128, 128, 128, 128, 128, 128, 128})
	}

	img, err := decodeHDR(&data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 2 {
		t.Fatalf("expected 8x2, got %v", b)
	}
	r, g, b, _ := img.At(5, 1).RGBA()
	if r>>8 < 125 || r>>8 > 130 {
		t.Fatalf("expected red near half intensity, got %d", r>>8)
	}
	if g >= r || b>>8 > 1 {
		t.Fatalf("unexpected channels g=%d b=%d", g, b)
	}
}

func TestDecodeHDRRejectsRunOverflow(t *testing.T) {
	var data bytes.Buffer
	data.WriteString("#?RADIANCE\n\n-Y 1 +X 8\n")
	data.Write([]byte{2, 2, 0, 8, 128 + 9, 1})
	if _, err := decodeHDR(&data); err == nil {
		t.Fatal("expected error for overflowing run")
	}
}

func TestRGBERoundTrip(t *testing.T) {
	px := toRGBE(0.25, 0.5, 1)
	r, g, b := fromRGBE(px[:])
	for _, pair := range [][2]float64{{r, 0.25}, {g, 0.5}, {b, 1}} {
		if math.Abs(pair[0]-pair[1]) > 0.01 {
			t.Fatalf("expected %.3f, got %.3f", pair[1], pair[0])
		}
	}
	if zero := toRGBE(0, 0, 0); zero != [4]byte{} {
		t.Fatalf("expected zero pixel, got %v", zero)
	}
}

func TestHalfToFloat(t *testing.T) {
	cases := map[uint16]float64{
		0x0000: 0,
		0x3c00: 1,
		0x3800: 0.5,
		0xc000: -2,
		0x0001: math.Ldexp(1, -24),
	}
	for in, want := range cases {
		if got := halfToFloat(in); got != want {
			t.Fatalf("halfToFloat(%#04x): expected %v, got %v", in, want, got)
		}
	}
	if !math.IsInf(halfToFloat(0x7c00), 1) {
		t.Fatal("expected +Inf")
	}
}

func TestDecodeEXRRejectsCompression(t *testing.T) {
	var buf bytes.Buffer
	if err := encodeEXR(&buf, image1x1()); err != nil {
		t.Fatalf("encode: %v", err)
	}
	data := buf.Bytes()
	idx := bytes.Index(data, []byte("compression\x00compression\x00"))
	if idx < 0 {
		t.Fatal("compression attribute not found")
	}
	data[idx+len("compression\x00compression\x00")+4] = 3 // ZIP
	if _, err := decodeEXR(data); err == nil {
		t.Fatal("expected compressed file to be rejected")
	}
}

func TestEXRStoresPremultipliedColor(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	src.SetNRGBA(0, 0, color.NRGBA{R: 0xff, G: 0x40, A: 0x80})
	var buf bytes.Buffer
	if err := encodeEXR(&buf, src); err != nil {
		t.Fatalf("encode: %v", err)
	}
	data := buf.Bytes()

	// The only block holds A, B, G, R as one float each.
	tail := data[len(data)-16:]
	sample := func(i int) float64 {
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(tail[i*4:])))
	}
	alpha, red := sample(0), sample(3)
	if math.Abs(alpha-128.0/255) > 1e-3 {
		t.Fatalf("expected alpha near 0.502, got %.4f", alpha)
	}
	if math.Abs(red-alpha) > 1e-3 {
		t.Fatalf("expected red premultiplied to %.4f, got %.4f", alpha, red)
	}

	img, err := decodeEXR(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	got := color.NRGBAModel.Convert(img.At(0, 0)).(color.NRGBA)
	if got.A != 0x80 || got.R < 0xfe || got.G < 0x3f || got.G > 0x41 {
		t.Fatalf("expected straight color back, got %v", got)
	}
}

func image1x1() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.SetNRGBA(0, 0, color.NRGBA{R: 1, G: 2, B: 3, A: 0xff})
	return img
}
