package detection

import (
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"
)

// PastDetections is the last unfiltered match recorded for a monitor.
type PastDetections struct {
	Boxes       []Box     `json:"boxes"`
	Labels      []string  `json:"labels"`
	Confidences []float64 `json:"confidences"`
}

// PastDetectionsPath returns the file holding the past detections of a monitor.
func PastDetectionsPath(imagePath, monitorID string) string {
	return filepath.Join(imagePath, "monitor-"+monitorID+"-data.json")
}

// LoadPastDetections reads the past detections stored at path. A missing file yields nil and no
// error. A file that cannot be decoded is removed so the next run starts fresh.
func LoadPastDetections(path string) (*PastDetections, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var past PastDetections
	if err := json.Unmarshal(data, &past); err != nil {
		utils.UncheckedError(os.Remove(path))
		return nil, errors.Wrapf(err, "corrupt past detections in %s", path)
	}
	if len(past.Labels) != len(past.Boxes) {
		utils.UncheckedError(os.Remove(path))
		return nil, errors.Errorf("corrupt past detections in %s: %d labels, %d boxes", path, len(past.Labels), len(past.Boxes))
	}
	return &past, nil
}

// SavePastDetections records the detections of r for future comparisons.
func SavePastDetections(path string, r *Result) error {
	past := PastDetections{
		Boxes:       nonNil(r.Boxes),
		Labels:      nonNil(r.Labels),
		Confidences: nonNil(r.Confidences),
	}
	data, err := json.Marshal(past)
	if err != nil {
		return err
	}
	//nolint:gosec
	return os.WriteFile(path, data, 0o644)
}

// PastFilter suppresses objects that were already reported in the previous run of a monitor.
type PastFilter struct {
	// MaxDiffArea is how much the area of a box may differ from a past box of the same label for
	// the two to be considered the same object.
	MaxDiffArea AreaSpec
	// LabelMaxDiffArea overrides MaxDiffArea per label.
	LabelMaxDiffArea map[string]AreaSpec
	// IgnoreLabels are never suppressed.
	IgnoreLabels []string
}

// Apply removes from r every detection matching a past detection and returns the removed ones.
// r is left untouched when past is nil.
func (f *PastFilter) Apply(r *Result, past *PastDetections) []Detection {
	if past == nil {
		return nil
	}
	kept, removed := split(r.Detections(), func(d Detection) bool {
		return !f.matchesPast(d, past)
	})
	r.SetDetections(kept)
	return removed
}

func (f *PastFilter) matchesPast(d Detection, past *PastDetections) bool {
	if lo.Contains(f.IgnoreLabels, d.Label) {
		return false
	}
	spec := f.MaxDiffArea
	if override, ok := f.LabelMaxDiffArea[d.Label]; ok {
		spec = override
	}
	for i, savedBox := range past.Boxes {
		if past.Labels[i] != d.Label {
			continue
		}
		if !savedBox.Intersects(d.Box) {
			continue
		}
		maxDiff := spec.Pixels(savedBox.Area())
		diff := math.Abs(float64(savedBox.Area() - d.Box.Area()))
		if diff <= maxDiff {
			return true
		}
	}
	return false
}
