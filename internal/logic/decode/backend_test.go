package decode

import (
	"bytes"
	"image"
	"image/png"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pkg/errors"
)

func encodeQR(t *testing.T, text string) image.Image {
	t.Helper()
	bm, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, 240, 240, nil)
	if err != nil {
		t.Fatalf("encode QR: %v", err)
	}
	return bm
}

func encodeCode128(t *testing.T, text string) image.Image {
	t.Helper()
	bm, err := oned.NewCode128Writer().Encode(text, gozxing.BarcodeFormat_CODE_128, 400, 120, nil)
	if err != nil {
		t.Fatalf("encode Code128: %v", err)
	}
	return bm
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode: %v", err)
	}
	return buf.Bytes()
}

func blank(w, h int) image.Image {
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	return img
}

func TestZXing_QRCode(t *testing.T) {
	res, err := NewZXing(true).DecodeOnce(encodeQR(t, "HEIS-1234"), MatrixFormats)
	if err != nil {
		t.Fatalf("DecodeOnce: %v", err)
	}
	if res.Text != "HEIS-1234" {
		t.Errorf("text = %q, want HEIS-1234", res.Text)
	}
	if res.Format != FormatQRCode {
		t.Errorf("format = %s, want QR_CODE", res.Format)
	}
	if res.DecodedAt.IsZero() {
		t.Error("decoded_at should be set")
	}
}

func TestZXing_Code128(t *testing.T) {
	res, err := NewZXing(true).DecodeOnce(encodeCode128(t, "HEIS-1234"), LinearFormats)
	if err != nil {
		t.Fatalf("DecodeOnce: %v", err)
	}
	if res.Text != "HEIS-1234" || res.Format != FormatCode128 {
		t.Errorf("got %+v, want HEIS-1234 / CODE_128", res)
	}
}

func TestZXing_LinearSymbologies(t *testing.T) {
	cases := []struct {
		name   string
		format gozxing.BarcodeFormat
		writer gozxing.Writer
		text   string
		want   Format
	}{
		{"code39", gozxing.BarcodeFormat_CODE_39, oned.NewCode39Writer(), "HEIS-1234", FormatCode39},
		{"ean13", gozxing.BarcodeFormat_EAN_13, oned.NewEAN13Writer(), "4006381333931", FormatEAN13},
		{"ean8", gozxing.BarcodeFormat_EAN_8, oned.NewEAN8Writer(), "96385074", FormatEAN8},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			bm, err := tc.writer.Encode(tc.text, tc.format, 400, 120, nil)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			res, err := NewZXing(true).DecodeOnce(bm, LinearFormats)
			if err != nil {
				t.Fatalf("DecodeOnce: %v", err)
			}
			if res.Text != tc.text || res.Format != tc.want {
				t.Errorf("got %q / %s, want %q / %s", res.Text, res.Format, tc.text, tc.want)
			}
		})
	}
}

func TestZXing_ReadersForFormats(t *testing.T) {
	z := NewZXing(false)
	cases := []struct {
		formats []Format
		want    int
	}{
		{[]Format{FormatQRCode}, 1},
		{[]Format{FormatCode128, FormatCode39}, 2},
		{[]Format{FormatEAN13, FormatEAN8, FormatUPCA, FormatUPCE}, 1},
		{LinearFormats, 6},
		{AllFormats(), 8},
	}
	for _, tc := range cases {
		if got := len(z.readers(tc.formats)); got != tc.want {
			t.Errorf("readers(%v) = %d readers, want %d", tc.formats, got, tc.want)
		}
	}
}

func TestZXing_BlankIsMiss(t *testing.T) {
	_, err := NewZXing(false).DecodeOnce(blank(120, 120), AllFormats())
	if !errors.Is(err, ErrNoCode) {
		t.Errorf("expected ErrNoCode, got %v", err)
	}
}

func TestZXing_FormatRestriction(t *testing.T) {
	// A QR code is not found when only linear formats are allowed.
	_, err := NewZXing(false).DecodeOnce(encodeQR(t, "HEIS-1234"), []Format{FormatEAN13})
	if !errors.Is(err, ErrNoCode) {
		t.Errorf("expected ErrNoCode, got %v", err)
	}
}

func TestParseFormat(t *testing.T) {
	cases := []struct {
		in   string
		want Format
		ok   bool
	}{
		{"QR_CODE", FormatQRCode, true},
		{"qr-code", FormatQRCode, true},
		{"qrcode", FormatQRCode, true},
		{"code128", FormatCode128, true},
		{"EAN 13", FormatEAN13, true},
		{"maxicode", "", false},
	}
	for _, tc := range cases {
		got, err := ParseFormat(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
		if !tc.ok && err == nil {
			t.Errorf("ParseFormat(%q) should fail", tc.in)
		}
	}
}

func TestFormat_IsLinear(t *testing.T) {
	if FormatQRCode.IsLinear() {
		t.Error("QR is not linear")
	}
	if !FormatUPCA.IsLinear() {
		t.Error("UPC-A is linear")
	}
	if len(AllFormats()) != len(MatrixFormats)+len(LinearFormats) {
		t.Error("AllFormats should cover matrix and linear formats")
	}
}
