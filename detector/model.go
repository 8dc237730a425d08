package detector

import (
	"context"
	"image"
	"io"
	"strings"

	"github.com/pkg/errors"

	"github.com/zmeventnotification/zmdetect/config"
	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/logging"
)

// ErrUnsupported is returned by a ModelFactory for variants that cannot run locally.
var ErrUnsupported = errors.New("unsupported model")

// A Model detects objects in a single frame.
type Model interface {
	Detect(ctx context.Context, img image.Image) ([]detection.Detection, error)
	io.Closer
}

// ModelFactory builds the model of a variant of a model type.
type ModelFactory func(modelType string, opts config.ModelOptions, logger logging.Logger) (Model, error)

// NewModel is the default ModelFactory: ONNX object models and Plate Recognizer ALPR.
func NewModel(modelType string, opts config.ModelOptions, logger logging.Logger) (Model, error) {
	switch modelType {
	case config.ModelObject:
		if fw := strings.ToLower(opts.ObjectFramework); fw != "onnx" {
			return nil, errors.Wrapf(ErrUnsupported, "object framework %q", fw)
		}
		return NewONNXModel(opts, logger)
	case config.ModelAlpr:
		if svc := strings.ToLower(opts.AlprService); svc != "plate_recognizer" {
			return nil, errors.Wrapf(ErrUnsupported, "alpr service %q", svc)
		}
		return NewPlateRecognizer(opts, logger)
	case config.ModelFace:
		return nil, errors.Wrap(ErrUnsupported, "local face recognition")
	default:
		return nil, errors.Wrapf(ErrUnsupported, "model type %q", modelType)
	}
}
