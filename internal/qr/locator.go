package qr

import (
	"image"

	"playback-observer/internal/logging"
)

// Regions holds the frame areas cropped before decoding. Restricting the
// scan to where the codes actually appear is what makes full-session
// scanning affordable.
type Regions struct {
	Mezzanine image.Rectangle
	Status    image.Rectangle
}

// positionRatio is how much larger than a single code the mezzanine union
// must grow before the locator considers all code positions covered. The
// mezzanine alternates the code between four positions, so a union close to
// twice the code size in both dimensions means every position was seen.
const positionRatio = 1.9

// Locator learns the mezzanine and status code areas from full-frame scans
// at the start of a session.
type Locator struct {
	margin int

	mezzUnion  image.Rectangle
	mezzSingle image.Point
	status     image.Rectangle
}

// NewLocator returns a locator expanding found areas by margin pixels.
func NewLocator(margin int) *Locator {
	return &Locator{margin: margin}
}

// Observe feeds the detections of one full-frame scan into the locator.
func (l *Locator) Observe(dets []Detection) {
	for _, d := range dets {
		switch d.Kind {
		case KindMezzanine:
			if d.Location.Dx() > l.mezzSingle.X {
				l.mezzSingle.X = d.Location.Dx()
			}
			if d.Location.Dy() > l.mezzSingle.Y {
				l.mezzSingle.Y = d.Location.Dy()
			}
			l.mezzUnion = l.mezzUnion.Union(d.Location)
		case KindStatus, KindPreTest:
			l.status = l.status.Union(d.Location)
		}
	}
}

// Complete reports whether every mezzanine code position and the status
// code area have been seen.
func (l *Locator) Complete() bool {
	if l.status.Empty() || l.mezzUnion.Empty() || l.mezzSingle.X == 0 {
		return false
	}
	return float64(l.mezzUnion.Dx()) > positionRatio*float64(l.mezzSingle.X) &&
		float64(l.mezzUnion.Dy()) > positionRatio*float64(l.mezzSingle.Y)
}

// Regions returns the learned areas expanded by the margin and clamped to
// the frame. Areas the locator never completed fall back to frame halves:
// the mezzanine codes live in the left half of the page layout and the
// status code in the right.
func (l *Locator) Regions(frame image.Rectangle) *Regions {
	r := &Regions{}

	if !l.mezzUnion.Empty() && l.Complete() {
		r.Mezzanine = expand(l.mezzUnion, l.margin).Intersect(frame)
	} else {
		r.Mezzanine = image.Rect(frame.Min.X, frame.Min.Y, frame.Min.X+frame.Dx()/2, frame.Max.Y)
		logging.Warn("Mezzanine QR area not fully located, scanning left frame half")
	}

	if !l.status.Empty() {
		r.Status = expand(l.status, l.margin).Intersect(frame)
	} else {
		r.Status = image.Rect(frame.Min.X+frame.Dx()/2, frame.Min.Y, frame.Max.X, frame.Max.Y)
		logging.Warn("Status QR area not located, scanning right frame half")
	}

	return r
}

func expand(r image.Rectangle, margin int) image.Rectangle {
	return image.Rect(r.Min.X-margin, r.Min.Y-margin, r.Max.X+margin, r.Max.Y+margin)
}
