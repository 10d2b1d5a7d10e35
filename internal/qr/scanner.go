package qr

import (
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/multi"
	multiqr "github.com/makiuchi-d/gozxing/multi/qrcode"
	xdraw "golang.org/x/image/draw"

	"playback-observer/internal/metrics"
)

// Mode selects the scan effort level.
type Mode int

const (
	// ModeGeneral scans the plain and inverted grayscale frame.
	ModeGeneral Mode = iota
	// ModeIntensive additionally scans adaptively thresholded variants.
	// Slower, for recordings with uneven screen brightness.
	ModeIntensive
)

func (m Mode) String() string {
	if m == ModeIntensive {
		return "intensive"
	}
	return "general"
}

// minScanEdge is the smallest crop edge the decoder handles reliably.
// Smaller crops are upscaled before decoding.
const minScanEdge = 250

// Scanner decodes the QR codes of a single frame. A Scanner is stateless
// apart from its configuration and safe for concurrent use by the scan
// worker pool.
type Scanner struct {
	mode    Mode
	regions *Regions
	reader  multi.MultipleBarcodeReader
	hints   map[gozxing.DecodeHintType]interface{}
}

// NewScanner returns a scanner. regions may be nil to scan whole frames,
// which is how the locator bootstraps itself.
func NewScanner(m Mode, regions *Regions) *Scanner {
	return &Scanner{
		mode:    m,
		regions: regions,
		reader:  multiqr.NewQRCodeMultiReader(),
		hints: map[gozxing.DecodeHintType]interface{}{
			gozxing.DecodeHintType_TRY_HARDER: true,
		},
	}
}

// Scan decodes all QR codes visible on the frame and classifies their
// payloads. Results are deduplicated by payload text.
func (s *Scanner) Scan(gray *image.Gray, cameraFrameIndex int) []Detection {
	start := time.Now()

	crops := s.cropRects(gray.Rect)
	seen := make(map[string]bool)
	var detections []Detection

	for _, crop := range crops {
		sub, scale := prepareCrop(gray, crop)

		for _, variant := range s.variants(sub) {
			for _, result := range s.decodeAll(variant) {
				text := result.GetText()
				if seen[text] {
					continue
				}
				seen[text] = true

				loc := resultBounds(result, crop, scale)
				detections = append(detections, Parse(text, cameraFrameIndex, loc))
			}
		}
	}

	metrics.QrScanDuration.WithLabelValues(s.mode.String()).Observe(time.Since(start).Seconds())
	if len(detections) > 0 {
		metrics.QrScansTotal.WithLabelValues("detected").Inc()
	} else {
		metrics.QrScansTotal.WithLabelValues("empty").Inc()
	}
	for _, d := range detections {
		metrics.QrCodesDecodedTotal.WithLabelValues(d.Kind.String()).Inc()
	}

	return detections
}

func (s *Scanner) cropRects(frame image.Rectangle) []image.Rectangle {
	if s.regions == nil {
		return []image.Rectangle{frame}
	}
	var rects []image.Rectangle
	if !s.regions.Mezzanine.Empty() {
		rects = append(rects, s.regions.Mezzanine.Intersect(frame))
	}
	if !s.regions.Status.Empty() {
		rects = append(rects, s.regions.Status.Intersect(frame))
	}
	if len(rects) == 0 {
		rects = append(rects, frame)
	}
	return rects
}

// prepareCrop extracts the crop and upscales it when it is too small to
// decode reliably. Returns the working image and the applied scale factor.
func prepareCrop(gray *image.Gray, crop image.Rectangle) (*image.Gray, int) {
	sub := gray.SubImage(crop).(*image.Gray)

	scale := 1
	for edge := min(crop.Dx(), crop.Dy()); edge > 0 && edge*scale < minScanEdge; {
		scale *= 2
	}
	if scale == 1 {
		return sub, 1
	}

	dst := image.NewGray(image.Rect(0, 0, crop.Dx()*scale, crop.Dy()*scale))
	xdraw.NearestNeighbor.Scale(dst, dst.Rect, sub, crop, xdraw.Src, nil)
	return dst, scale
}

// variants produces the image transformations tried in order. The screen
// shows dark codes on a light page, but camera exposure can flip the
// effective polarity, so the inverted frame is always tried too.
func (s *Scanner) variants(gray *image.Gray) []*image.Gray {
	inverted := grayFromImage(imaging.Invert(gray))
	out := []*image.Gray{gray, inverted}
	if s.mode == ModeIntensive {
		out = append(out,
			adaptiveThreshold(gray, 11, 2),
			adaptiveThreshold(inverted, 11, 2),
		)
	}
	return out
}

func (s *Scanner) decodeAll(gray *image.Gray) []*gozxing.Result {
	src := gozxing.NewLuminanceSourceFromImage(gray)
	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		metrics.QrScansTotal.WithLabelValues("error").Inc()
		return nil
	}
	results, err := s.reader.DecodeMultiple(bmp, s.hints)
	if err != nil {
		// NotFoundException just means no code in this variant.
		return nil
	}
	return results
}

// resultBounds maps the decoder's finder-pattern points back into frame
// coordinates, undoing the crop offset and upscale.
func resultBounds(result *gozxing.Result, crop image.Rectangle, scale int) image.Rectangle {
	points := result.GetResultPoints()
	if len(points) == 0 {
		return crop
	}
	minX, minY := int(points[0].GetX()), int(points[0].GetY())
	maxX, maxY := minX, minY
	for _, p := range points[1:] {
		x, y := int(p.GetX()), int(p.GetY())
		if x < minX {
			minX = x
		}
		if x > maxX {
			maxX = x
		}
		if y < minY {
			minY = y
		}
		if y > maxY {
			maxY = y
		}
	}
	r := image.Rect(minX/scale, minY/scale, maxX/scale+1, maxY/scale+1)
	return r.Add(crop.Min)
}

func grayFromImage(img image.Image) *image.Gray {
	if g, ok := img.(*image.Gray); ok {
		return g
	}
	b := img.Bounds()
	dst := image.NewGray(b)
	xdraw.Draw(dst, b, img, b.Min, xdraw.Src)
	return dst
}

// adaptiveThreshold binarizes using a gaussian-weighted approximation: each
// pixel is compared against its local block mean minus a constant. Computed
// with an integral image so the cost stays linear in pixels.
func adaptiveThreshold(src *image.Gray, blockSize, c int) *image.Gray {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return src
	}

	// integral[y][x] holds the sum of the (y, x) prefix rectangle.
	integral := make([][]int64, h+1)
	integral[0] = make([]int64, w+1)
	for y := 0; y < h; y++ {
		integral[y+1] = make([]int64, w+1)
		var rowSum int64
		for x := 0; x < w; x++ {
			rowSum += int64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			integral[y+1][x+1] = integral[y][x+1] + rowSum
		}
	}

	half := blockSize / 2
	dst := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		y0, y1 := max(0, y-half), min(h-1, y+half)
		for x := 0; x < w; x++ {
			x0, x1 := max(0, x-half), min(w-1, x+half)
			area := int64((y1 - y0 + 1) * (x1 - x0 + 1))
			sum := integral[y1+1][x1+1] - integral[y0][x1+1] - integral[y1+1][x0] + integral[y0][x0]
			mean := sum / area

			v := int64(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y)
			if v > mean-int64(c) {
				dst.Pix[y*dst.Stride+x] = 255
			}
		}
	}
	return dst
}
