package geom

// Point represents a 2D point
type Point struct {
	X, Y float32
}

// BoundingBox is an axis aligned box in corner form
type BoundingBox struct {
	X1, Y1 float32 // top-left
	X2, Y2 float32 // bottom-right
}

// Width returns box width
func (b BoundingBox) Width() float32 {
	return b.X2 - b.X1
}

// Height returns box height
func (b BoundingBox) Height() float32 {
	return b.Y2 - b.Y1
}

// Area returns box area, zero for inverted boxes
func (b BoundingBox) Area() float32 {
	w, h := b.Width(), b.Height()
	if w <= 0 || h <= 0 {
		return 0
	}
	return w * h
}

// Empty reports whether the box has no positive extent
func (b BoundingBox) Empty() bool {
	return !(b.Width() > 0 && b.Height() > 0)
}

// Scale multiplies x coordinates by sx and y coordinates by sy
func (b BoundingBox) Scale(sx, sy float32) BoundingBox {
	return BoundingBox{X1: b.X1 * sx, Y1: b.Y1 * sy, X2: b.X2 * sx, Y2: b.Y2 * sy}
}

// Clamp limits the box to [0,width]x[0,height]
func (b BoundingBox) Clamp(width, height float32) BoundingBox {
	return BoundingBox{
		X1: Clamp(b.X1, 0, width),
		Y1: Clamp(b.Y1, 0, height),
		X2: Clamp(b.X2, 0, width),
		Y2: Clamp(b.Y2, 0, height),
	}
}

// NumLandmarks is the number of facial keypoints predicted per face
const NumLandmarks = 5

// Landmarks represents 5 facial landmark points
type Landmarks struct {
	LeftEye    Point // index 0
	RightEye   Point // index 1
	Nose       Point // index 2
	LeftMouth  Point // index 3
	RightMouth Point // index 4
}

// Points returns the landmarks in index order
func (l Landmarks) Points() [NumLandmarks]Point {
	return [NumLandmarks]Point{l.LeftEye, l.RightEye, l.Nose, l.LeftMouth, l.RightMouth}
}

// Scale multiplies x coordinates by sx and y coordinates by sy
func (l Landmarks) Scale(sx, sy float32) Landmarks {
	pts := l.Points()
	for i := range pts {
		pts[i].X *= sx
		pts[i].Y *= sy
	}
	return LandmarksFromPoints(pts)
}

// LandmarksFromPoints builds Landmarks from points in index order
func LandmarksFromPoints(pts [NumLandmarks]Point) Landmarks {
	return Landmarks{
		LeftEye:    pts[0],
		RightEye:   pts[1],
		Nose:       pts[2],
		LeftMouth:  pts[3],
		RightMouth: pts[4],
	}
}
