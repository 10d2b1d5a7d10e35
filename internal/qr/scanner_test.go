package qr

import (
	"image"
	"image/color"
	"testing"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// drawQR encodes text as a QR code and paints it onto the frame with its
// top-left corner at (x, y).
func drawQR(t *testing.T, frame *image.Gray, text string, x, y, size int) {
	t.Helper()

	writer := qrcode.NewQRCodeWriter()
	matrix, err := writer.Encode(text, gozxing.BarcodeFormat_QR_CODE, size, size, nil)
	if err != nil {
		t.Fatalf("failed to encode QR code: %v", err)
	}
	for my := 0; my < matrix.GetHeight(); my++ {
		for mx := 0; mx < matrix.GetWidth(); mx++ {
			c := color.Gray{Y: 255}
			if matrix.Get(mx, my) {
				c = color.Gray{Y: 0}
			}
			frame.SetGray(x+mx, y+my, c)
		}
	}
}

func whiteFrame(w, h int) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, w, h))
	for i := range g.Pix {
		g.Pix[i] = 255
	}
	return g
}

func TestScanDecodesMezzanineAndStatus(t *testing.T) {
	frame := whiteFrame(800, 500)
	drawQR(t, frame, "croatia_J1;00:00:05.208;0000126;25", 40, 40, 180)
	drawQR(t, frame, `{"s":"playing","a":"play","ct":5.2,"d":120}`, 560, 40, 180)

	s := NewScanner(ModeGeneral, nil)
	dets := s.Scan(frame, 9)

	var mezz, status *Detection
	for i := range dets {
		switch dets[i].Kind {
		case KindMezzanine:
			mezz = &dets[i]
		case KindStatus:
			status = &dets[i]
		}
	}

	if mezz == nil {
		t.Fatal("mezzanine code not decoded")
	}
	if mezz.Mezzanine.FrameNumber != 126 || mezz.Mezzanine.CameraFrameIndex != 9 {
		t.Errorf("mezzanine = %+v, want frame 126 at camera frame 9", mezz.Mezzanine)
	}
	if !mezz.Location.Overlaps(image.Rect(40, 40, 220, 220)) {
		t.Errorf("mezzanine location %v does not overlap drawn area", mezz.Location)
	}

	if status == nil {
		t.Fatal("status code not decoded")
	}
	if status.Status.Status != "playing" {
		t.Errorf("status = %+v, want playing", status.Status)
	}
	if !status.Location.Overlaps(image.Rect(560, 40, 740, 220)) {
		t.Errorf("status location %v does not overlap drawn area", status.Location)
	}
}

func TestScanEmptyFrame(t *testing.T) {
	s := NewScanner(ModeGeneral, nil)
	if dets := s.Scan(whiteFrame(400, 300), 0); len(dets) != 0 {
		t.Errorf("Scan of blank frame returned %d detections", len(dets))
	}
}

func TestScanInvertedCode(t *testing.T) {
	frame := whiteFrame(400, 400)
	drawQR(t, frame, "clip_A1;00:00:00.000;0000001;30", 60, 60, 260)
	for i, p := range frame.Pix {
		frame.Pix[i] = 255 - p
	}

	s := NewScanner(ModeGeneral, nil)
	dets := s.Scan(frame, 0)
	if len(dets) == 0 || dets[0].Kind != KindMezzanine {
		t.Fatalf("inverted code not decoded, got %v", dets)
	}
}

func TestScanRespectsRegions(t *testing.T) {
	frame := whiteFrame(800, 500)
	drawQR(t, frame, "clip_A1;00:00:00.040;0000002;25", 40, 40, 180)

	in := NewScanner(ModeGeneral, &Regions{Mezzanine: image.Rect(0, 0, 400, 500)})
	if dets := in.Scan(frame, 0); len(dets) != 1 {
		t.Errorf("scanner with covering region found %d detections, want 1", len(dets))
	}

	out := NewScanner(ModeGeneral, &Regions{Mezzanine: image.Rect(400, 0, 800, 500)})
	if dets := out.Scan(frame, 0); len(dets) != 0 {
		t.Errorf("scanner with excluding region found %d detections, want 0", len(dets))
	}
}

func TestLocatorCompletesAfterAllPositions(t *testing.T) {
	loc := NewLocator(50)

	mezzAt := func(r image.Rectangle) []Detection {
		return []Detection{{Kind: KindMezzanine, Location: r}}
	}
	statusAt := func(r image.Rectangle) []Detection {
		return []Detection{{Kind: KindStatus, Location: r}}
	}

	// The mezzanine alternates the code between four positions.
	loc.Observe(mezzAt(image.Rect(100, 100, 200, 200)))
	loc.Observe(statusAt(image.Rect(600, 100, 700, 200)))
	if loc.Complete() {
		t.Fatal("locator complete after a single mezzanine position")
	}

	loc.Observe(mezzAt(image.Rect(210, 100, 310, 200)))
	if loc.Complete() {
		t.Fatal("locator complete after one row of positions")
	}

	loc.Observe(mezzAt(image.Rect(100, 210, 200, 310)))
	loc.Observe(mezzAt(image.Rect(210, 210, 310, 310)))
	if !loc.Complete() {
		t.Fatal("locator not complete after all four positions and status")
	}

	frame := image.Rect(0, 0, 1920, 1080)
	r := loc.Regions(frame)
	want := image.Rect(50, 50, 360, 360)
	if r.Mezzanine != want {
		t.Errorf("Mezzanine region = %v, want %v", r.Mezzanine, want)
	}
	if r.Status != image.Rect(550, 50, 750, 250) {
		t.Errorf("Status region = %v, want %v", r.Status, image.Rect(550, 50, 750, 250))
	}
}

func TestLocatorRegionFallback(t *testing.T) {
	loc := NewLocator(0)
	frame := image.Rect(0, 0, 1000, 600)

	r := loc.Regions(frame)
	if r.Mezzanine != image.Rect(0, 0, 500, 600) {
		t.Errorf("Mezzanine fallback = %v, want left half", r.Mezzanine)
	}
	if r.Status != image.Rect(500, 0, 1000, 600) {
		t.Errorf("Status fallback = %v, want right half", r.Status)
	}
}

func TestLocatorClampsToFrame(t *testing.T) {
	loc := NewLocator(100)
	loc.Observe([]Detection{
		{Kind: KindMezzanine, Location: image.Rect(0, 0, 100, 100)},
		{Kind: KindMezzanine, Location: image.Rect(200, 200, 300, 300)},
		{Kind: KindStatus, Location: image.Rect(500, 0, 600, 100)},
	})
	if !loc.Complete() {
		t.Fatal("locator should be complete")
	}

	frame := image.Rect(0, 0, 640, 360)
	r := loc.Regions(frame)
	if !r.Mezzanine.In(frame) || !r.Status.In(frame) {
		t.Errorf("regions %v / %v not clamped to %v", r.Mezzanine, r.Status, frame)
	}
}
