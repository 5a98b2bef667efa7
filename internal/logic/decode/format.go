package decode

import (
	"strings"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/pkg/errors"
)

// Format names a machine-readable code symbology.
type Format string

const (
	FormatQRCode     Format = "QR_CODE"
	FormatDataMatrix Format = "DATA_MATRIX"
	FormatCode128    Format = "CODE_128"
	FormatCode39     Format = "CODE_39"
	FormatCode93     Format = "CODE_93"
	FormatCodabar    Format = "CODABAR"
	FormatEAN13      Format = "EAN_13"
	FormatEAN8       Format = "EAN_8"
	FormatITF        Format = "ITF"
	FormatUPCA       Format = "UPC_A"
	FormatUPCE       Format = "UPC_E"
)

var zxFormats = map[Format]gozxing.BarcodeFormat{
	FormatQRCode:     gozxing.BarcodeFormat_QR_CODE,
	FormatDataMatrix: gozxing.BarcodeFormat_DATA_MATRIX,
	FormatCode128:    gozxing.BarcodeFormat_CODE_128,
	FormatCode39:     gozxing.BarcodeFormat_CODE_39,
	FormatCode93:     gozxing.BarcodeFormat_CODE_93,
	FormatCodabar:    gozxing.BarcodeFormat_CODABAR,
	FormatEAN13:      gozxing.BarcodeFormat_EAN_13,
	FormatEAN8:       gozxing.BarcodeFormat_EAN_8,
	FormatITF:        gozxing.BarcodeFormat_ITF,
	FormatUPCA:       gozxing.BarcodeFormat_UPC_A,
	FormatUPCE:       gozxing.BarcodeFormat_UPC_E,
}

// MatrixFormats are the two-dimensional symbologies.
var MatrixFormats = []Format{FormatQRCode, FormatDataMatrix}

// LinearFormats are the one-dimensional barcode symbologies.
var LinearFormats = []Format{
	FormatCode128, FormatCode39, FormatCode93, FormatCodabar,
	FormatEAN13, FormatEAN8, FormatITF, FormatUPCA, FormatUPCE,
}

// AllFormats is every supported symbology.
func AllFormats() []Format {
	all := make([]Format, 0, len(MatrixFormats)+len(LinearFormats))
	all = append(all, MatrixFormats...)
	return append(all, LinearFormats...)
}

// ParseFormat accepts names like "qr_code", "CODE-128" or "ean13".
func ParseFormat(s string) (Format, error) {
	norm := strings.ToUpper(strings.NewReplacer("-", "_", " ", "_").Replace(strings.TrimSpace(s)))
	if _, ok := zxFormats[Format(norm)]; ok {
		return Format(norm), nil
	}
	for f := range zxFormats {
		if strings.ReplaceAll(string(f), "_", "") == strings.ReplaceAll(norm, "_", "") {
			return f, nil
		}
	}
	return "", errors.Errorf("unsupported format %q", s)
}

// IsLinear reports whether f is a one-dimensional symbology.
func (f Format) IsLinear() bool {
	for _, l := range LinearFormats {
		if l == f {
			return true
		}
	}
	return false
}

func formatFromZX(zf gozxing.BarcodeFormat) Format {
	for f, z := range zxFormats {
		if z == zf {
			return f
		}
	}
	return Format(zf.String())
}

// Result is a successful decode. It is never modified after creation.
type Result struct {
	Text      string    `json:"text"`
	Format    Format    `json:"format"`
	DecodedAt time.Time `json:"decoded_at"`
}
