// Package detector finds objects in the frames of an event or in an image file, either through a
// remote inference gateway or with a local sequence of models.
package detector

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"github.com/zmeventnotification/zmdetect/config"
	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/logging"
)

// Request identifies what to run detection on.
type Request struct {
	// Stream is an event id, or the path of an image file when File is set.
	Stream string
	File   bool
	// MonitorID and Reason are optional.
	MonitorID string
	Reason    string

	MLOptions     *config.MLOptions
	StreamOptions *config.StreamOptions
}

// A Detector produces the matched frame of a request.
type Detector interface {
	Detect(ctx context.Context, req Request) (*detection.Result, error)
}

// FrameSource downloads frames of an event. fid is a frame number, "alarm" or "snapshot".
type FrameSource interface {
	FrameImage(ctx context.Context, eventID, fid string) (image.Image, error)
}

// Fallback runs the primary detector and, when it fails, the secondary one once.
type Fallback struct {
	Primary   Detector
	Secondary Detector
	Logger    logging.Logger
}

// Detect implements Detector.
func (f *Fallback) Detect(ctx context.Context, req Request) (*detection.Result, error) {
	res, err := f.Primary.Detect(ctx, req)
	if err == nil {
		return res, nil
	}
	if f.Secondary == nil {
		return nil, err
	}
	f.Logger.Errorw("remote detection failed, falling back to local detection", "error", err)
	res, err2 := f.Secondary.Detect(ctx, req)
	if err2 != nil {
		return nil, errors.Wrap(err2, "local fallback detection failed")
	}
	return res, nil
}
