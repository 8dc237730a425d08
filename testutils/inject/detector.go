// Package inject provides fakes whose behaviour is set per test through function fields.
package inject

import (
	"context"
	"image"

	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/detector"
	"github.com/zmeventnotification/zmdetect/mlapi"
)

// FrameSource is an injected source of event frames.
type FrameSource struct {
	detector.FrameSource
	FrameImageFunc func(ctx context.Context, eventID, fid string) (image.Image, error)
}

// FrameImage calls the injected FrameImage or the real variant.
func (fs *FrameSource) FrameImage(ctx context.Context, eventID, fid string) (image.Image, error) {
	if fs.FrameImageFunc == nil {
		return fs.FrameSource.FrameImage(ctx, eventID, fid)
	}
	return fs.FrameImageFunc(ctx, eventID, fid)
}

// Model is an injected detection model.
type Model struct {
	detector.Model
	DetectFunc func(ctx context.Context, img image.Image) ([]detection.Detection, error)
	CloseFunc  func() error
}

// Detect calls the injected Detect or the real variant.
func (m *Model) Detect(ctx context.Context, img image.Image) ([]detection.Detection, error) {
	if m.DetectFunc == nil {
		return m.Model.Detect(ctx, img)
	}
	return m.DetectFunc(ctx, img)
}

// Close calls the injected Close or the real variant.
func (m *Model) Close() error {
	if m.CloseFunc == nil {
		if m.Model == nil {
			return nil
		}
		return m.Model.Close()
	}
	return m.CloseFunc()
}

// Gateway is an injected remote inference gateway.
type Gateway struct {
	detector.Gateway
	DetectFunc func(ctx context.Context, req mlapi.DetectRequest) (*mlapi.DetectResponse, error)
}

// Detect calls the injected Detect or the real variant.
func (g *Gateway) Detect(ctx context.Context, req mlapi.DetectRequest) (*mlapi.DetectResponse, error) {
	if g.DetectFunc == nil {
		return g.Gateway.Detect(ctx, req)
	}
	return g.DetectFunc(ctx, req)
}

// Detector is an injected detector.
type Detector struct {
	detector.Detector
	DetectFunc func(ctx context.Context, req detector.Request) (*detection.Result, error)
}

// Detect calls the injected Detect or the real variant.
func (d *Detector) Detect(ctx context.Context, req detector.Request) (*detection.Result, error) {
	if d.DetectFunc == nil {
		return d.Detector.Detect(ctx, req)
	}
	return d.DetectFunc(ctx, req)
}
