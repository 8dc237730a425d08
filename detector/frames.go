package detector

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"github.com/zmeventnotification/zmdetect/config"
	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/logging"
	"github.com/zmeventnotification/zmdetect/rimage"
)

// FileFrameID is the frame id of an image file.
const FileFrameID = "1"

// Frame is a frame prepared for detection.
type Frame struct {
	ID string
	// Image is the frame at the size detection runs on.
	Image image.Image
	// Dimensions records the original and resized sizes.
	Dimensions detection.ImageDimensions
}

// prepareFrame scales img down to the stream's resize width.
func prepareFrame(id string, img image.Image, so *config.StreamOptions) Frame {
	f := Frame{ID: id, Image: img}
	if so != nil && so.Resize > 0 && so.Resize < img.Bounds().Dx() {
		f.Image = rimage.ResizeToWidth(img, so.Resize)
		f.Dimensions = detection.NewImageDimensions(img, f.Image)
	} else {
		f.Dimensions = detection.NewImageDimensions(img, nil)
	}
	return f
}

// LoadFileFrame reads an image file as a single frame.
func LoadFileFrame(path string, so *config.StreamOptions) (Frame, error) {
	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		return Frame{}, err
	}
	return prepareFrame(FileFrameID, img, so), nil
}

// fetchFrame downloads a frame of an event, trying up to max_attempts times.
func fetchFrame(
	ctx context.Context,
	src FrameSource,
	eventID, fid string,
	so *config.StreamOptions,
	logger logging.Logger,
) (Frame, error) {
	attempts := 1
	var sleep time.Duration
	if so != nil {
		attempts = so.MaxAttempts
		sleep = time.Duration(so.SleepBetweenAttempts) * time.Second
	}
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for i := 1; i <= attempts; i++ {
		img, err := src.FrameImage(ctx, eventID, fid)
		if err == nil {
			return prepareFrame(fid, img, so), nil
		}
		lastErr = err
		logger.Debugw("cannot read frame", "event", eventID, "frame", fid, "attempt", i, "error", err)
		if i < attempts && !utils.SelectContextOrWait(ctx, sleep) {
			return Frame{}, ctx.Err()
		}
	}
	return Frame{}, errors.Wrapf(lastErr, "frame %s of event %s", fid, eventID)
}
