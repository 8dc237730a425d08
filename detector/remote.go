package detector

import (
	"context"

	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/logging"
	"github.com/zmeventnotification/zmdetect/mlapi"
	"github.com/zmeventnotification/zmdetect/rimage"
)

// Gateway runs detection on a remote inference gateway.
type Gateway interface {
	Detect(ctx context.Context, req mlapi.DetectRequest) (*mlapi.DetectResponse, error)
}

// Remote delegates detection to a remote gateway.
type Remote struct {
	Gateway Gateway
	// Frames is used to fetch the matched frame of an event when FetchImage is set.
	Frames     FrameSource
	FetchImage bool
	Version    string
	Logger     logging.Logger
}

// Detect implements Detector. Files are uploaded, events are read by the gateway itself.
func (r *Remote) Detect(ctx context.Context, req Request) (*detection.Result, error) {
	dr := mlapi.DetectRequest{
		Version:   r.Version,
		MonitorID: req.MonitorID,
		Reason:    req.Reason,
		Stream:    req.Stream,
	}
	if req.MLOptions != nil {
		dr.MLOverrides = req.MLOptions.RemoteOverrides()
	}
	if req.StreamOptions != nil {
		so := *req.StreamOptions
		so.MonitorID = req.MonitorID
		dr.StreamOptions = &so
	}

	var fileFrame *Frame
	if req.File {
		f, err := LoadFileFrame(req.Stream, req.StreamOptions)
		if err != nil {
			return nil, err
		}
		data, err := rimage.EncodeJPEG(f.Image)
		if err != nil {
			return nil, err
		}
		dr.Image = data
		fileFrame = &f
	}

	resp, err := r.Gateway.Detect(ctx, dr)
	if err != nil {
		return nil, err
	}
	res := resp.MatchedData
	r.Logger.Debugw("remote detection finished", "matched_frame", res.FrameID, "all_matches", string(resp.AllMatches))

	if !r.FetchImage || res.FrameID == "" {
		return res, nil
	}
	switch {
	case fileFrame != nil:
		res.Image = fileFrame.Image
	case r.Frames != nil:
		img, err := r.Frames.FrameImage(ctx, req.Stream, string(res.FrameID))
		if err != nil {
			r.Logger.Errorw("error during image grab", "event", req.Stream, "frame", res.FrameID, "error", err)
			break
		}
		if req.StreamOptions != nil && req.StreamOptions.Resize > 0 {
			img = rimage.ResizeToWidth(img, req.StreamOptions.Resize)
		}
		res.Image = img
	}
	return res, nil
}
