package detection

// BoundingBox is an axis-aligned box in original-image pixel coordinates.
type BoundingBox struct {
	X1 float32
	Y1 float32
	X2 float32
	Y2 float32
}

func (b BoundingBox) Width() float32  { return b.X2 - b.X1 }
func (b BoundingBox) Height() float32 { return b.Y2 - b.Y1 }

// Center returns the box centre point.
func (b BoundingBox) Center() (cx, cy float32) {
	return (b.X1 + b.X2) / 2, (b.Y1 + b.Y2) / 2
}

// Area returns the box area, or 0 for an invalid box.
func (b BoundingBox) Area() float32 {
	if !b.Valid() {
		return 0
	}
	return b.Width() * b.Height()
}

// Valid reports whether the box has strictly positive width and height.
func (b BoundingBox) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Intersection returns the overlapping region of b and o. The result is not
// Valid when the boxes do not overlap.
func (b BoundingBox) Intersection(o BoundingBox) BoundingBox {
	return BoundingBox{
		X1: max(b.X1, o.X1),
		Y1: max(b.Y1, o.Y1),
		X2: min(b.X2, o.X2),
		Y2: min(b.Y2, o.Y2),
	}
}

// IoU returns the intersection-over-union of b and o. Coordinates are
// treated as continuous, so touching boxes have an IoU of 0.
func (b BoundingBox) IoU(o BoundingBox) float32 {
	inter := b.Intersection(o).Area()
	if inter <= 0 {
		return 0
	}
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// clampBox restricts every coordinate of b into [0,width]×[0,height].
func clampBox(b BoundingBox, width, height float32) BoundingBox {
	return BoundingBox{
		X1: clamp(b.X1, 0, width),
		Y1: clamp(b.Y1, 0, height),
		X2: clamp(b.X2, 0, width),
		Y2: clamp(b.Y2, 0, height),
	}
}

func clamp(val, lo, hi float32) float32 {
	if val < lo {
		return lo
	}
	if val > hi {
		return hi
	}
	return val
}
