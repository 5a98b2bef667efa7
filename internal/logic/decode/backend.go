package decode

import (
	"image"
	"time"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/datamatrix"
	"github.com/makiuchi-d/gozxing/oned"
	"github.com/makiuchi-d/gozxing/qrcode"
	"github.com/pkg/errors"
)

// ErrNoCode means the image holds no readable code. In a live loop this
// is routine; only a static decode turns it into a user-visible failure.
var ErrNoCode = errors.New("no code in image")

// Backend decodes one image. It returns ErrNoCode when nothing was found
// and any other error only for real failures.
type Backend interface {
	DecodeOnce(img image.Image, formats []Format) (Result, error)
}

// ZXing is the Backend built on gozxing.
type ZXing struct {
	tryHarder bool
	now       func() time.Time
}

func NewZXing(tryHarder bool) *ZXing {
	return &ZXing{tryHarder: tryHarder, now: time.Now}
}

func (z *ZXing) DecodeOnce(img image.Image, formats []Format) (Result, error) {
	if len(formats) == 0 {
		formats = AllFormats()
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return Result{}, errors.Wrap(err, "binarize image")
	}

	for _, reader := range z.readers(formats) {
		res, err := reader.Decode(bmp, z.hints(formats))
		if err == nil {
			return Result{
				Text:      res.GetText(),
				Format:    formatFromZX(res.GetBarcodeFormat()),
				DecodedAt: z.now(),
			}, nil
		}
		if !isMiss(err) {
			return Result{}, errors.Wrap(err, "zxing decode")
		}
	}
	return Result{}, ErrNoCode
}

func (z *ZXing) hints(formats []Format) map[gozxing.DecodeHintType]interface{} {
	hints := make(map[gozxing.DecodeHintType]interface{})
	if z.tryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	zf := make([]gozxing.BarcodeFormat, 0, len(formats))
	for _, f := range formats {
		if v, ok := zxFormats[f]; ok {
			zf = append(zf, v)
		}
	}
	hints[gozxing.DecodeHintType_POSSIBLE_FORMATS] = zf
	return hints
}

// readers builds one reader per requested symbology. The EAN/UPC family
// shares a single reader that honours the POSSIBLE_FORMATS hint.
func (z *ZXing) readers(formats []Format) []gozxing.Reader {
	var readers []gozxing.Reader
	upcean := false
	for _, f := range formats {
		switch f {
		case FormatQRCode:
			readers = append(readers, qrcode.NewQRCodeReader())
		case FormatDataMatrix:
			readers = append(readers, datamatrix.NewDataMatrixReader())
		case FormatCode128:
			readers = append(readers, oned.NewCode128Reader())
		case FormatCode39:
			readers = append(readers, oned.NewCode39Reader())
		case FormatCode93:
			readers = append(readers, oned.NewCode93Reader())
		case FormatCodabar:
			readers = append(readers, oned.NewCodaBarReader())
		case FormatITF:
			readers = append(readers, oned.NewITFReader())
		case FormatEAN13, FormatEAN8, FormatUPCA, FormatUPCE:
			upcean = true
		}
	}
	if upcean {
		readers = append(readers, oned.NewMultiFormatUPCEANReader(z.hints(formats)))
	}
	return readers
}

// isMiss reports whether err only says "nothing readable here".
func isMiss(err error) bool {
	switch err.(type) {
	case gozxing.NotFoundException, gozxing.ChecksumException, gozxing.FormatException:
		return true
	}
	return false
}
