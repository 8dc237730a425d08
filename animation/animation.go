// Package animation builds a short mp4 or gif of an event around its matched frame.
package animation

import (
	"context"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	ffmpeg "github.com/u2takey/ffmpeg-go"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/logging"
	"github.com/zmeventnotification/zmdetect/rimage"
	"github.com/zmeventnotification/zmdetect/zmapi"
)

// Output types.
const (
	TypeMP4 = "mp4"
	TypeGIF = "gif"
)

// defaultSeconds is the length of an animation when no frame count is configured.
const defaultSeconds = 5

// EventSource reads events and their frames.
type EventSource interface {
	Event(ctx context.Context, eventID string) (*zmapi.Event, error)
	FrameImage(ctx context.Context, eventID, fid string) (image.Image, error)
}

// Options configures an animation.
type Options struct {
	// Types lists the outputs to build: mp4 and/or gif (animated_gif is accepted).
	Types []string
	// Width frames are scaled down to.
	Width int
	// Frames is the number of frames around the matched one. Zero means five seconds of video.
	Frames int
	// RetrySleep and MaxTries bound the wait for the event to be long enough.
	RetrySleep time.Duration
	MaxTries   int
	// FastGIF keeps only every other frame in gifs.
	FastGIF bool
}

// ResolveFrame returns the frame number of a matched frame id.
func ResolveFrame(ev *zmapi.Event, frameID string) (int, error) {
	switch frameID {
	case detection.FrameAlarm:
		return ev.AlarmFrameID, nil
	case detection.FrameSnapshot:
		return ev.MaxScoreFrameID, nil
	default:
		fid, err := strconv.Atoi(frameID)
		if err != nil {
			return 0, errors.Errorf("invalid frame id %q", frameID)
		}
		return fid, nil
	}
}

// Window returns the first and last frame of a window of length frames centred on anchor. The
// window is moved, then cut, to fit in [1, total].
func Window(anchor, length, total int) (start, end int) {
	if length < 1 {
		length = 1
	}
	start = anchor - length/2
	end = start + length - 1
	if start < 1 {
		end += 1 - start
		start = 1
	}
	if end > total {
		start -= end - total
		end = total
	}
	if start < 1 {
		start = 1
	}
	return start, end
}

func (o Options) frameCount(ev *zmapi.Event) int {
	if o.Frames > 0 {
		return o.Frames
	}
	return int(math.Max(1, math.Round(ev.FPS()*defaultSeconds)))
}

func normalizeTypes(types []string) ([]string, error) {
	var out []string
	for _, t := range types {
		switch strings.ToLower(strings.TrimSpace(t)) {
		case TypeMP4:
			out = append(out, TypeMP4)
		case TypeGIF, "animated_gif":
			out = append(out, TypeGIF)
		case "":
		default:
			return nil, errors.Errorf("unknown animation type %q", t)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no animation type configured")
	}
	return out, nil
}

// Create builds the configured animations of an event at basePath plus the type extension, e.g.
// <eventpath>/objdetect.gif.
func Create(
	ctx context.Context,
	src EventSource,
	eventID, frameID, basePath string,
	opts Options,
	logger logging.Logger,
) error {
	types, err := normalizeTypes(opts.Types)
	if err != nil {
		return err
	}
	ev, start, end, err := waitForFrames(ctx, src, eventID, frameID, opts, logger)
	if err != nil {
		return err
	}
	logger.Debugw("animation: building", "event", eventID, "start", start, "end", end, "fps", ev.FPS())

	frames := make([]image.Image, 0, end-start+1)
	for fid := start; fid <= end; fid++ {
		img, err := src.FrameImage(ctx, eventID, strconv.Itoa(fid))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Debugw("animation: skipping frame", "frame", fid, "error", err)
			continue
		}
		frames = append(frames, rimage.ResizeToWidth(img, opts.Width))
	}
	if len(frames) == 0 {
		return errors.Errorf("no frames of event %s could be read", eventID)
	}

	fps := ev.FPS()
	if fps <= 0 {
		fps = 1
	}
	var allErrs error
	for _, t := range types {
		path := basePath + "." + t
		var err error
		switch t {
		case TypeGIF:
			err = WriteGIF(path, frames, fps, opts.FastGIF)
		case TypeMP4:
			err = WriteMP4(ctx, path, frames, fps)
		}
		if err != nil {
			allErrs = multierr.Append(allErrs, errors.Wrapf(err, "cannot create %s", path))
			continue
		}
		logger.Debugf("animation: wrote %s", path)
	}
	return allErrs
}

// waitForFrames polls the event until it holds the whole window or the tries run out.
func waitForFrames(
	ctx context.Context,
	src EventSource,
	eventID, frameID string,
	opts Options,
	logger logging.Logger,
) (*zmapi.Event, int, int, error) {
	tries := opts.MaxTries
	if tries < 1 {
		tries = 1
	}
	for try := 1; ; try++ {
		ev, err := src.Event(ctx, eventID)
		if err != nil {
			return nil, 0, 0, err
		}
		anchor, err := ResolveFrame(ev, frameID)
		if err != nil {
			return nil, 0, 0, err
		}
		length := opts.frameCount(ev)
		wantEnd := anchor - length/2 + length - 1
		if ev.Frames >= wantEnd || try >= tries {
			if ev.Frames < 1 {
				return nil, 0, 0, errors.Errorf("event %s has no frames", eventID)
			}
			start, end := Window(anchor, length, ev.Frames)
			return ev, start, end, nil
		}
		logger.Debugf("animation: event %s has %d frames, waiting for %d (try %d of %d)",
			eventID, ev.Frames, wantEnd, try, tries)
		if !utils.SelectContextOrWait(ctx, opts.RetrySleep) {
			return nil, 0, 0, ctx.Err()
		}
	}
}

// WriteGIF writes frames as an animated gif playing at fps. fast drops every other frame.
func WriteGIF(path string, frames []image.Image, fps float64, fast bool) error {
	delay := int(math.Max(1, math.Round(100/fps)))
	anim := &gif.GIF{}
	for i, f := range frames {
		if fast && i%2 == 1 {
			continue
		}
		b := f.Bounds()
		p := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), palette.Plan9)
		draw.FloydSteinberg.Draw(p, p.Bounds(), f, b.Min)
		anim.Image = append(anim.Image, p)
		anim.Delay = append(anim.Delay, delay)
	}
	//nolint:gosec
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	return multierr.Combine(gif.EncodeAll(out, anim), out.Close())
}

// WriteMP4 encodes frames to an H.264 mp4 with ffmpeg.
func WriteMP4(ctx context.Context, path string, frames []image.Image, fps float64) error {
	dir, err := os.MkdirTemp("", "zmdetect-animation")
	if err != nil {
		return err
	}
	defer func() {
		utils.UncheckedError(os.RemoveAll(dir))
	}()
	for i, f := range frames {
		name := filepath.Join(dir, fmt.Sprintf("frame-%05d.jpg", i))
		if err := rimage.WriteImageToFile(name, f); err != nil {
			return err
		}
	}

	stream := ffmpeg.Input(filepath.Join(dir, "frame-%05d.jpg"), ffmpeg.KwArgs{
		"framerate": strconv.FormatFloat(fps, 'f', 2, 64),
	}).Output(path, ffmpeg.KwArgs{
		"vcodec":   "libx264",
		"pix_fmt":  "yuv420p",
		"movflags": "+faststart",
		// libx264 needs even dimensions
		"vf": "scale=trunc(iw/2)*2:trunc(ih/2)*2",
	})
	stream.Context = ctx
	return stream.OverWriteOutput().Run()
}
