package detection

import (
	"encoding/json"
	"image"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Polygon is a detection zone of a monitor. Objects whose box does not intersect any zone are
// rejected. A non-empty Pattern restricts the labels a zone accepts.
type Polygon struct {
	Name    string
	Points  []image.Point
	Pattern string
}

type polygonJSON struct {
	Name    string   `json:"name"`
	Value   [][2]int `json:"value"`
	Pattern *string  `json:"pattern"`
}

// MarshalJSON encodes the polygon the way remote gateways expect it.
func (p Polygon) MarshalJSON() ([]byte, error) {
	out := polygonJSON{Name: p.Name, Value: make([][2]int, 0, len(p.Points))}
	for _, pt := range p.Points {
		out.Value = append(out.Value, [2]int{pt.X, pt.Y})
	}
	if p.Pattern != "" {
		pattern := p.Pattern
		out.Pattern = &pattern
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a polygon.
func (p *Polygon) UnmarshalJSON(data []byte) error {
	var in polygonJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	p.Name = in.Name
	p.Points = make([]image.Point, 0, len(in.Value))
	for _, v := range in.Value {
		p.Points = append(p.Points, image.Pt(v[0], v[1]))
	}
	p.Pattern = ""
	if in.Pattern != nil {
		p.Pattern = *in.Pattern
	}
	return nil
}

// ParsePoints parses zone coordinates written as "x1,y1 x2,y2 x3,y3". At least three points are
// required.
func ParsePoints(s string) ([]image.Point, error) {
	fields := strings.Fields(s)
	if len(fields) < 3 {
		return nil, errors.Errorf("polygon %q needs at least 3 points", s)
	}
	pts := make([]image.Point, 0, len(fields))
	for _, f := range fields {
		xs, ys, ok := strings.Cut(f, ",")
		if !ok {
			return nil, errors.Errorf("invalid point %q in polygon %q", f, s)
		}
		x, err := strconv.Atoi(strings.TrimSpace(xs))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid x in point %q", f)
		}
		y, err := strconv.Atoi(strings.TrimSpace(ys))
		if err != nil {
			return nil, errors.Wrapf(err, "invalid y in point %q", f)
		}
		pts = append(pts, image.Pt(x, y))
	}
	return pts, nil
}

// FullFramePolygon returns a zone covering a whole frame of the given size.
func FullFramePolygon(width, height int) Polygon {
	return Polygon{
		Name:   "full_image",
		Points: []image.Point{{0, 0}, {width, 0}, {width, height}, {0, height}},
	}
}

// Contains reports whether pt is inside the polygon, using the even-odd rule.
func (p Polygon) Contains(pt image.Point) bool {
	inside := false
	n := len(p.Points)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := p.Points[i], p.Points[j]
		if (a.Y > pt.Y) != (b.Y > pt.Y) {
			xCross := float64(b.X-a.X)*float64(pt.Y-a.Y)/float64(b.Y-a.Y) + float64(a.X)
			if float64(pt.X) < xCross {
				inside = !inside
			}
		}
	}
	return inside
}

// IntersectsBox reports whether the box and the polygon overlap.
func (p Polygon) IntersectsBox(b Box) bool {
	if len(p.Points) < 3 {
		return false
	}
	r := b.Rect()
	corners := []image.Point{r.Min, {r.Max.X, r.Min.Y}, r.Max, {r.Min.X, r.Max.Y}}
	for _, c := range corners {
		if p.Contains(c) {
			return true
		}
	}
	for _, pt := range p.Points {
		if pt.In(r) {
			return true
		}
	}
	n := len(p.Points)
	for i := 0; i < n; i++ {
		a, b := p.Points[i], p.Points[(i+1)%n]
		for j := 0; j < 4; j++ {
			if segmentsIntersect(a, b, corners[j], corners[(j+1)%4]) {
				return true
			}
		}
	}
	return false
}

func orientation(a, b, c image.Point) int {
	v := (b.Y-a.Y)*(c.X-b.X) - (b.X-a.X)*(c.Y-b.Y)
	switch {
	case v > 0:
		return 1
	case v < 0:
		return 2
	default:
		return 0
	}
}

func onSegment(a, b, c image.Point) bool {
	return b.X <= max(a.X, c.X) && b.X >= min(a.X, c.X) && b.Y <= max(a.Y, c.Y) && b.Y >= min(a.Y, c.Y)
}

func segmentsIntersect(p1, q1, p2, q2 image.Point) bool {
	o1 := orientation(p1, q1, p2)
	o2 := orientation(p1, q1, q2)
	o3 := orientation(p2, q2, p1)
	o4 := orientation(p2, q2, q1)
	if o1 != o2 && o3 != o4 {
		return true
	}
	return (o1 == 0 && onSegment(p1, p2, q1)) ||
		(o2 == 0 && onSegment(p1, q2, q1)) ||
		(o3 == 0 && onSegment(p2, p1, q2)) ||
		(o4 == 0 && onSegment(p2, q1, q2))
}
