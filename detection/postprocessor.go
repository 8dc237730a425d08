package detection

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cast"
)

// Postprocessor splits incoming detections into the ones it keeps and the ones it rejects.
type Postprocessor func([]Detection) (kept, rejected []Detection)

func split(in []Detection, keep func(Detection) bool) (kept, rejected []Detection) {
	kept = make([]Detection, 0, len(in))
	for _, d := range in {
		if keep(d) {
			kept = append(kept, d)
		} else {
			rejected = append(rejected, d)
		}
	}
	return kept, rejected
}

// Chain applies the postprocessors in order. Rejections of every stage are accumulated.
func Chain(pps ...Postprocessor) Postprocessor {
	return func(in []Detection) ([]Detection, []Detection) {
		var rejected []Detection
		kept := in
		for _, pp := range pps {
			if pp == nil {
				continue
			}
			var r []Detection
			kept, r = pp(kept)
			rejected = append(rejected, r...)
		}
		return kept, rejected
	}
}

// NewScoreFilter returns a function that filters out detections below a certain confidence.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []Detection) ([]Detection, []Detection) {
		return split(in, func(d Detection) bool { return d.Confidence >= conf })
	}
}

// CompilePattern compiles a label pattern. Like the detectors it configures, the pattern must
// match at the beginning of the label. An empty pattern matches everything.
func CompilePattern(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		pattern = ".*"
	}
	re, err := regexp.Compile("^(?:" + pattern + ")")
	if err != nil {
		return nil, errors.Wrapf(err, "invalid detection pattern %q", pattern)
	}
	return re, nil
}

// NewPatternFilter returns a function that filters out detections whose label does not match
// pattern.
func NewPatternFilter(pattern string) (Postprocessor, error) {
	re, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return func(in []Detection) ([]Detection, []Detection) {
		return split(in, func(d Detection) bool { return re.MatchString(d.Label) })
	}, nil
}

// AreaSpec is an area limit written either as a percentage ("5%") or in pixels ("300px", "300").
type AreaSpec struct {
	Value   float64
	Percent bool
}

// ParseAreaSpec parses an area limit. The empty string yields a zero spec.
func ParseAreaSpec(s string) (AreaSpec, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return AreaSpec{}, nil
	}
	spec := AreaSpec{}
	switch {
	case strings.HasSuffix(s, "%"):
		spec.Percent = true
		s = strings.TrimSuffix(s, "%")
	case strings.HasSuffix(s, "px"):
		s = strings.TrimSuffix(s, "px")
	}
	v, err := cast.ToFloat64E(strings.TrimSpace(s))
	if err != nil {
		return AreaSpec{}, errors.Wrapf(err, "invalid area %q", s)
	}
	spec.Value = v
	return spec, nil
}

// IsZero is true for an unset spec.
func (a AreaSpec) IsZero() bool {
	return a.Value == 0 && !a.Percent
}

// Pixels converts the spec into square pixels relative to base.
func (a AreaSpec) Pixels(base int) float64 {
	if a.Percent {
		return float64(base) * a.Value / 100
	}
	return a.Value
}

// NewSizeFilter returns a function that filters out detections larger than maxSize within a
// frame of width x height. An empty maxSize disables the filter.
func NewSizeFilter(maxSize string, width, height int) (Postprocessor, error) {
	spec, err := ParseAreaSpec(maxSize)
	if err != nil {
		return nil, errors.Wrap(err, "max_detection_size")
	}
	if spec.IsZero() {
		return nil, nil
	}
	limit := spec.Pixels(width * height)
	return func(in []Detection) ([]Detection, []Detection) {
		return split(in, func(d Detection) bool { return float64(d.Box.Area()) <= limit })
	}, nil
}

// NewZoneFilter returns a function that filters out detections that do not intersect any of the
// zones accepting their label. With no zones every detection is kept.
func NewZoneFilter(zones []Polygon) (Postprocessor, error) {
	if len(zones) == 0 {
		return nil, nil
	}
	patterns := make([]*regexp.Regexp, len(zones))
	for i, z := range zones {
		if z.Pattern == "" {
			continue
		}
		re, err := CompilePattern(z.Pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "zone %s", z.Name)
		}
		patterns[i] = re
	}
	return func(in []Detection) ([]Detection, []Detection) {
		return split(in, func(d Detection) bool {
			for i, z := range zones {
				if patterns[i] != nil && !patterns[i].MatchString(d.Label) {
					continue
				}
				if z.IntersectsBox(d.Box) {
					return true
				}
			}
			return false
		})
	}, nil
}
