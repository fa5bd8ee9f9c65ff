package codec_test

import (
	"errors"
	"image"
	"image/color"
	"testing"

	"imgconv/internal/codec"
	"imgconv/internal/format"
)

func gradient(w, h int, alpha uint8) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 40), G: uint8(y * 60), B: 90, A: alpha})
		}
	}
	return img
}

func TestConvertRoundTripPreservesDimensions(t *testing.T) {
	engine := codec.NewEngine()
	decoder := codec.NewDecoder(0)
	src := gradient(6, 4, 0xff)
	src.SetNRGBA(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 128})

	for _, target := range format.Supported() {
		t.Run(string(target), func(t *testing.T) {
			encoded, err := engine.Convert(src, target)
			if err != nil {
				t.Fatalf("convert: %v", err)
			}
			if len(encoded) == 0 {
				t.Fatal("expected encoded bytes")
			}
			decoded, err := decoder.Decode(encoded)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if decoded.Format != target {
				t.Fatalf("expected format %q, got %q", target, decoded.Format)
			}
			b := decoded.Raster.Bounds()
			if b.Dx() != 6 || b.Dy() != 4 {
				t.Fatalf("expected 6x4, got %dx%d", b.Dx(), b.Dy())
			}
		})
	}
}

func TestLosslessTargetsPreserveOpaquePixels(t *testing.T) {
	engine := codec.NewEngine()
	decoder := codec.NewDecoder(0)
	src := gradient(5, 3, 0xff)

	for _, target := range []format.Format{format.PNG, format.QOI, format.TGA, format.PNM, format.Farbfeld, format.EXR, format.BMP, format.TIFF} {
		encoded, err := engine.Convert(src, target)
		if err != nil {
			t.Fatalf("%s: convert: %v", target, err)
		}
		decoded, err := decoder.Decode(encoded)
		if err != nil {
			t.Fatalf("%s: decode: %v", target, err)
		}
		for y := 0; y < 3; y++ {
			for x := 0; x < 5; x++ {
				want := src.NRGBAAt(x, y)
				got := color.NRGBAModel.Convert(decoded.Raster.At(x, y)).(color.NRGBA)
				if got != want {
					t.Fatalf("%s: pixel (%d,%d) expected %v, got %v", target, x, y, want, got)
				}
			}
		}
	}
}

func TestConvertJPEGDropsAlpha(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for i := 0; i < len(src.Pix); i += 4 {
		src.Pix[i] = 0xff
	}
	encoded, err := codec.NewEngine().Convert(src, format.JPEG)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	decoded, err := codec.NewDecoder(0).Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	r, g, b, _ := decoded.Raster.At(8, 8).RGBA()
	if r>>8 < 200 || g>>8 > 60 || b>>8 > 60 {
		t.Fatalf("expected red pixel, got r=%d g=%d b=%d", r>>8, g>>8, b>>8)
	}
}

func TestConvertWEBPIsUnsupported(t *testing.T) {
	engine := codec.NewEngine()
	if engine.Supports(format.WEBP) {
		t.Fatal("expected WEBP to have no encoder")
	}
	_, err := engine.Convert(gradient(2, 2, 0xff), format.WEBP)
	var unsupported *codec.UnsupportedFormatError
	if !errors.As(err, &unsupported) {
		t.Fatalf("expected UnsupportedFormatError, got %v", err)
	}
	if unsupported.Format != format.WEBP {
		t.Fatalf("expected WEBP in error, got %q", unsupported.Format)
	}
	if !errors.Is(err, codec.ErrUnsupported) {
		t.Fatal("expected ErrUnsupported marker")
	}
	if kind := codec.Kind(err); kind != "unsupported" {
		t.Fatalf("expected kind unsupported, got %q", kind)
	}
}

func TestConvertUnknownTargetIsUnsupported(t *testing.T) {
	_, err := codec.NewEngine().Convert(gradient(2, 2, 0xff), format.Format("psd"))
	if !errors.Is(err, codec.ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestConvertICORejectsLargeRaster(t *testing.T) {
	_, err := codec.NewEngine().Convert(image.NewNRGBA(image.Rect(0, 0, 300, 10)), format.ICO)
	var convErr *codec.ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected ConversionError, got %v", err)
	}
	if !errors.Is(err, codec.ErrEncode) {
		t.Fatal("expected ErrEncode marker")
	}
	if codec.Kind(err) != "conversion" {
		t.Fatalf("expected kind conversion, got %q", codec.Kind(err))
	}
}

func TestConvertNilRaster(t *testing.T) {
	_, err := codec.NewEngine().Convert(nil, format.PNG)
	if !errors.Is(err, codec.ErrEncode) {
		t.Fatalf("expected ErrEncode, got %v", err)
	}
}
