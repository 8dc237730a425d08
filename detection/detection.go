// Package detection holds the detection record shared by the local and remote detectors, and the
// post-processing applied to it before it is reported to the calling process.
package detection

import (
	"encoding/json"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Frame ids with a special meaning on the surveillance server.
const (
	FrameAlarm    = "alarm"
	FrameSnapshot = "snapshot"
)

// SplitMarker separates the human readable prediction from its JSON form on stdout.
const SplitMarker = "--SPLIT--"

// Box is a bounding box in pixels, ordered x1, y1, x2, y2.
type Box [4]int

// Rect returns the box as an image rectangle.
func (b Box) Rect() image.Rectangle {
	return image.Rect(b[0], b[1], b[2], b[3])
}

// Area returns the box area in square pixels.
func (b Box) Area() int {
	r := b.Rect()
	return r.Dx() * r.Dy()
}

// Intersects returns true when the two boxes share at least a border.
func (b Box) Intersects(o Box) bool {
	r1, r2 := b.Rect(), o.Rect()
	return r1.Min.X <= r2.Max.X && r2.Min.X <= r1.Max.X && r1.Min.Y <= r2.Max.Y && r2.Min.Y <= r1.Max.Y
}

// FrameID identifies the frame that produced a match. Remote gateways send it either as a string
// or as a bare frame number.
type FrameID string

// UnmarshalJSON accepts strings and numbers.
func (f *FrameID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FrameID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return errors.Wrapf(err, "invalid frame id %s", string(data))
	}
	*f = FrameID(n.String())
	return nil
}

// ImageDimensions records the height and width of the analysed frame before and after resizing.
type ImageDimensions struct {
	Original []int `json:"original"`
	Resized  []int `json:"resized"`
}

// NewImageDimensions returns the dimensions of a frame that was resized from orig to resized. A
// nil resized image means the frame was analysed at its original size.
func NewImageDimensions(orig, resized image.Image) ImageDimensions {
	dims := ImageDimensions{Original: []int{orig.Bounds().Dy(), orig.Bounds().Dx()}}
	if resized != nil {
		dims.Resized = []int{resized.Bounds().Dy(), resized.Bounds().Dx()}
	}
	return dims
}

// Detection is a single detected object.
type Detection struct {
	Label      string
	Box        Box
	Confidence float64
	// Model is the name of the model variant that produced the detection, if known.
	Model string
}

func (d Detection) String() string {
	return fmt.Sprintf("%s:%.2f@%v", d.Label, d.Confidence, d.Box)
}

// Result is the matched frame of a detection run. Labels, Boxes and Confidences are parallel
// slices with one entry per detected object.
type Result struct {
	Labels          []string        `json:"labels"`
	Boxes           []Box           `json:"boxes"`
	Confidences     []float64       `json:"confidences"`
	FrameID         FrameID         `json:"frame_id"`
	ImageDimensions ImageDimensions `json:"image_dimensions"`
	Polygons        []Polygon       `json:"polygons,omitempty"`
	ErrorBoxes      []Box           `json:"error_boxes,omitempty"`
	ModelNames      []string        `json:"model_names,omitempty"`

	// Image is the frame the boxes refer to, when one was retrieved.
	Image image.Image `json:"-"`
}

// NewResult builds a result from a list of detections.
func NewResult(frameID string, dets []Detection) *Result {
	r := &Result{
		FrameID:     FrameID(frameID),
		Labels:      make([]string, 0, len(dets)),
		Boxes:       make([]Box, 0, len(dets)),
		Confidences: make([]float64, 0, len(dets)),
	}
	r.SetDetections(dets)
	return r
}

// Validate checks the parallel slices have equal length.
func (r *Result) Validate() error {
	if len(r.Labels) != len(r.Boxes) || len(r.Labels) != len(r.Confidences) {
		return errors.Errorf("mismatched detection result: %d labels, %d boxes, %d confidences",
			len(r.Labels), len(r.Boxes), len(r.Confidences))
	}
	return nil
}

// Len returns the number of detected objects.
func (r *Result) Len() int {
	return len(r.Labels)
}

// Detections returns the parallel slices zipped into detections.
func (r *Result) Detections() []Detection {
	dets := make([]Detection, 0, len(r.Labels))
	for i := range r.Labels {
		d := Detection{Label: r.Labels[i]}
		if i < len(r.Boxes) {
			d.Box = r.Boxes[i]
		}
		if i < len(r.Confidences) {
			d.Confidence = r.Confidences[i]
		}
		dets = append(dets, d)
	}
	return dets
}

// SetDetections replaces the labels, boxes and confidences with dets.
func (r *Result) SetDetections(dets []Detection) {
	r.Labels = r.Labels[:0]
	r.Boxes = r.Boxes[:0]
	r.Confidences = r.Confidences[:0]
	for _, d := range dets {
		r.Labels = append(r.Labels, d.Label)
		r.Boxes = append(r.Boxes, d.Box)
		r.Confidences = append(r.Confidences, d.Confidence)
	}
}

// Summary is the JSON object handed to the calling process and written to objects.json.
type Summary struct {
	Labels          []string        `json:"labels"`
	Boxes           []Box           `json:"boxes"`
	FrameID         FrameID         `json:"frame_id"`
	Confidences     []float64       `json:"confidences"`
	ImageDimensions ImageDimensions `json:"image_dimensions"`
}

// Summary returns the reportable part of the result.
func (r *Result) Summary() Summary {
	return Summary{
		Labels:          nonNil(r.Labels),
		Boxes:           nonNil(r.Boxes),
		FrameID:         r.FrameID,
		Confidences:     nonNil(r.Confidences),
		ImageDimensions: r.ImageDimensions,
	}
}

func nonNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

// Prefix returns the marker telling the calling process which frame matched.
func (r *Result) Prefix() string {
	switch string(r.FrameID) {
	case FrameSnapshot:
		return "[s] "
	case FrameAlarm:
		return "[a] "
	default:
		return "[x] "
	}
}

// Prediction returns the human readable detection string, e.g. "[a] detected:person,car". With
// showPercent each label carries its confidence, e.g. "[a] detected:person:97% car:81% ". An
// empty string means nothing was detected.
func (r *Result) Prediction(showPercent bool) string {
	var sb strings.Builder
	seen := make(map[string]struct{}, len(r.Labels))
	for idx, l := range r.Labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		if showPercent {
			conf := 0.0
			if idx < len(r.Confidences) {
				conf = r.Confidences[idx]
			}
			sb.WriteString(l + ":" + strconv.FormatFloat(conf*100, 'f', 0, 64) + "% ")
		} else {
			sb.WriteString(l + ",")
		}
	}
	pred := sb.String()
	if pred == "" {
		return ""
	}
	return r.Prefix() + "detected:" + strings.TrimRight(pred, ",")
}

// Output returns the line printed for the calling process: the prediction, the split marker and
// the JSON summary. ok is false when nothing was detected and nothing should be printed.
func (r *Result) Output(showPercent bool) (line string, ok bool, err error) {
	pred := r.Prediction(showPercent)
	if pred == "" {
		return "", false, nil
	}
	jos, err := json.Marshal(r.Summary())
	if err != nil {
		return "", false, err
	}
	return pred + SplitMarker + string(jos), true, nil
}
