package detector

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/zmeventnotification/zmdetect/config"
	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/logging"
)

// Sequence runs the configured models locally over the frames of a stream.
type Sequence struct {
	frames   FrameSource
	newModel ModelFactory
	logger   logging.Logger

	mu sync.Mutex
	// models caches loaded variants by type and index. A nil entry could not be loaded.
	models map[string]Model
}

// NewSequence returns a local detector. frames may be nil when only files are analysed, and a
// nil factory uses NewModel.
func NewSequence(frames FrameSource, factory ModelFactory, logger logging.Logger) *Sequence {
	if factory == nil {
		factory = NewModel
	}
	return &Sequence{frames: frames, newModel: factory, logger: logger, models: map[string]Model{}}
}

// Close releases every loaded model.
func (s *Sequence) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err error
	for k, m := range s.models {
		if m != nil {
			err = multierr.Append(err, m.Close())
		}
		delete(s.models, k)
	}
	return err
}

func (s *Sequence) model(modelType string, idx int, opts config.ModelOptions) Model {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := fmt.Sprintf("%s/%d", modelType, idx)
	if m, ok := s.models[key]; ok {
		return m
	}
	m, err := s.newModel(modelType, opts, s.logger)
	if err != nil {
		if errors.Is(err, ErrUnsupported) {
			s.logger.Warnw("skipping model", "type", modelType, "name", opts.Name, "reason", err)
		} else {
			s.logger.Errorw("cannot load model", "type", modelType, "name", opts.Name, "error", err)
		}
		m = nil
	}
	s.models[key] = m
	return m
}

// frameMatch is what the models found in one frame.
type frameMatch struct {
	frame      Frame
	dets       []detection.Detection
	errorBoxes []detection.Box
	models     []string
}

// Detect implements Detector.
func (s *Sequence) Detect(ctx context.Context, req Request) (*detection.Result, error) {
	return s.DetectStream(ctx, req)
}

// DetectStream analyses the frames of req and returns the frame picked by the frame strategy.
func (s *Sequence) DetectStream(ctx context.Context, req Request) (*detection.Result, error) {
	ml, so := req.MLOptions, req.StreamOptions
	if ml == nil {
		return nil, errors.New("no ml options")
	}
	if so == nil {
		so = &config.StreamOptions{FrameSet: []string{config.FrameSnapshot, config.FrameAlarm}, MaxAttempts: 1}
	}
	strategy := so.FrameStrategy

	var frameIDs []string
	if req.File {
		frameIDs = []string{FileFrameID}
	} else {
		if s.frames == nil {
			return nil, errors.New("no frame source to read event frames from")
		}
		frameIDs = so.FrameSet
	}

	var best *frameMatch
	var firstFrame *Frame
	var errs error
	for _, fid := range frameIDs {
		var frame Frame
		var err error
		if req.File {
			frame, err = LoadFileFrame(req.Stream, so)
		} else {
			frame, err = fetchFrame(ctx, s.frames, req.Stream, fid, so, s.logger)
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Errorw("skipping frame", "frame", fid, "error", err)
			errs = multierr.Append(errs, err)
			continue
		}
		if firstFrame == nil {
			firstFrame = &frame
		}

		match, err := s.detectFrame(ctx, frame, ml, so.Polygons)
		if err != nil {
			return nil, err
		}
		s.logger.Debugw("frame analysed", "frame", fid, "detections", match.dets)
		if betterFrame(strategy, match, best) {
			best = match
		}
		if strategy == config.StrategyFirst && len(best.dets) > 0 {
			break
		}
	}

	if firstFrame == nil {
		return nil, errors.Wrap(errs, "no frame could be read")
	}
	if best == nil || len(best.dets) == 0 {
		s.logger.Debug("no detections in any frame")
		res := detection.NewResult("", nil)
		res.ImageDimensions = firstFrame.Dimensions
		if best != nil {
			res.ErrorBoxes = best.errorBoxes
		}
		return res, nil
	}

	res := detection.NewResult(best.frame.ID, best.dets)
	res.ImageDimensions = best.frame.Dimensions
	res.Image = best.frame.Image
	res.Polygons = scalePolygons(so.Polygons, best.frame.Dimensions)
	res.ErrorBoxes = best.errorBoxes
	res.ModelNames = best.models
	return res, nil
}

// betterFrame is true when m beats the current best under the frame strategy. Ties keep the
// earlier frame.
func betterFrame(strategy string, m, best *frameMatch) bool {
	if best == nil {
		return true
	}
	switch strategy {
	case config.StrategyMostUnique:
		return uniqueLabels(m.dets) > uniqueLabels(best.dets)
	case config.StrategyMostModels:
		if len(m.models) != len(best.models) {
			return len(m.models) > len(best.models)
		}
		return len(m.dets) > len(best.dets)
	default:
		return len(m.dets) > len(best.dets)
	}
}

func uniqueLabels(dets []detection.Detection) int {
	return len(lo.UniqBy(dets, func(d detection.Detection) string { return d.Label }))
}

// detectFrame runs every model type of the sequence on one frame.
func (s *Sequence) detectFrame(
	ctx context.Context,
	frame Frame,
	ml *config.MLOptions,
	polygons []detection.Polygon,
) (*frameMatch, error) {
	match := &frameMatch{frame: frame}
	width, height := frame.Image.Bounds().Dx(), frame.Image.Bounds().Dy()
	polygons = scalePolygons(polygons, frame.Dimensions)
	if len(polygons) == 0 {
		polygons = []detection.Polygon{detection.FullFramePolygon(width, height)}
	}
	zones, err := detection.NewZoneFilter(polygons)
	if err != nil {
		return nil, err
	}

	for _, modelType := range ml.General.ModelSequence {
		mto := ml.ModelType(modelType)
		if mto == nil {
			s.logger.Warnw("model type in model_sequence is not configured", "type", modelType)
			continue
		}
		pattern, err := detection.NewPatternFilter(mto.General.Pattern)
		if err != nil {
			return nil, err
		}

		var chosen []detection.Detection
		var chosenModel string
	variants:
		for idx, vo := range mto.Sequence {
			if !vo.IsEnabled() {
				continue
			}
			if len(vo.PreExistingLabels) > 0 && !hasAnyLabel(match.dets, vo.PreExistingLabels) {
				s.logger.Debugw("skipping model, required labels not found", "type", modelType,
					"name", vo.Name, "pre_existing_labels", vo.PreExistingLabels)
				continue
			}
			m := s.model(modelType, idx, vo)
			if m == nil {
				continue
			}
			dets, err := m.Detect(ctx, frame.Image)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				s.logger.Errorw("model failed", "type", modelType, "name", vo.Name, "error", err)
				continue
			}
			size, err := detection.NewSizeFilter(vo.MaxDetectionSize, width, height)
			if err != nil {
				return nil, err
			}
			kept, rejected := detection.Chain(detection.NewScoreFilter(vo.ObjectMinConfidence), pattern, size, zones)(dets)
			for _, r := range rejected {
				match.errorBoxes = append(match.errorBoxes, r.Box)
			}

			switch mto.General.SameModelSequenceStrategy {
			case config.StrategyUnion:
				chosen = append(chosen, kept...)
				if len(kept) > 0 {
					match.models = append(match.models, modelName(modelType, vo))
				}
			case config.StrategyMost:
				if len(kept) > len(chosen) {
					chosen, chosenModel = kept, modelName(modelType, vo)
				}
			case config.StrategyMostUnique:
				if uniqueLabels(kept) > uniqueLabels(chosen) {
					chosen, chosenModel = kept, modelName(modelType, vo)
				}
			default:
				if len(kept) > 0 {
					chosen, chosenModel = kept, modelName(modelType, vo)
					break variants
				}
			}
		}
		if len(chosen) == 0 {
			continue
		}
		if mto.General.SameModelSequenceStrategy != config.StrategyUnion {
			match.models = append(match.models, chosenModel)
		}
		match.dets = append(match.dets, chosen...)
	}
	return match, nil
}

func modelName(modelType string, vo config.ModelOptions) string {
	if vo.Name != "" {
		return vo.Name
	}
	return modelType
}

func hasAnyLabel(dets []detection.Detection, labels []string) bool {
	return lo.ContainsBy(dets, func(d detection.Detection) bool { return lo.Contains(labels, d.Label) })
}

// scalePolygons maps zones drawn on the original frame onto the resized one.
func scalePolygons(polygons []detection.Polygon, dims detection.ImageDimensions) []detection.Polygon {
	if len(dims.Resized) != 2 || len(dims.Original) != 2 || dims.Original[1] == 0 || dims.Original[0] == 0 {
		return polygons
	}
	sx := float64(dims.Resized[1]) / float64(dims.Original[1])
	sy := float64(dims.Resized[0]) / float64(dims.Original[0])
	out := make([]detection.Polygon, len(polygons))
	for i, p := range polygons {
		out[i] = detection.Polygon{Name: p.Name, Pattern: p.Pattern, Points: make([]image.Point, len(p.Points))}
		for j, pt := range p.Points {
			out[i].Points[j] = image.Pt(int(float64(pt.X)*sx), int(float64(pt.Y)*sy))
		}
	}
	return out
}
