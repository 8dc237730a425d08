package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"

	"github.com/zmeventnotification/zmdetect/config"
	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/logging"
	"github.com/zmeventnotification/zmdetect/rimage"
)

const plateRecognizerURL = "https://api.platerecognizer.com/v1"

// PlateRecognizer reads licence plates through the Plate Recognizer cloud API.
type PlateRecognizer struct {
	opts   config.ModelOptions
	http   *resty.Client
	logger logging.Logger
}

// NewPlateRecognizer returns an ALPR model for opts. Only the cloud API is supported.
func NewPlateRecognizer(opts config.ModelOptions, logger logging.Logger) (*PlateRecognizer, error) {
	if t := strings.ToLower(opts.AlprAPIType); t != "" && t != "cloud" {
		return nil, errors.Wrapf(ErrUnsupported, "alpr api type %q", t)
	}
	if opts.AlprURL == "" {
		opts.AlprURL = plateRecognizerURL
	}
	opts.AlprURL = strings.TrimRight(opts.AlprURL, "/")
	if opts.Name == "" {
		opts.Name = "plate_recognizer"
	}
	client := resty.New().
		SetTimeout(time.Minute).
		SetLogger(logger)
	if opts.AlprKey != "" {
		client.SetHeader("Authorization", "Token "+opts.AlprKey)
	}
	return &PlateRecognizer{opts: opts, http: client, logger: logger}, nil
}

type plateResponse struct {
	Results []struct {
		Plate  string  `json:"plate"`
		Score  float64 `json:"score"`
		Dscore float64 `json:"dscore"`
		Box    struct {
			Xmin int `json:"xmin"`
			Ymin int `json:"ymin"`
			Xmax int `json:"xmax"`
			Ymax int `json:"ymax"`
		} `json:"box"`
	} `json:"results"`
}

// Detect implements Model. Plates below platerec_min_dscore or platerec_min_score are dropped.
func (p *PlateRecognizer) Detect(ctx context.Context, img image.Image) ([]detection.Detection, error) {
	if strings.EqualFold(p.opts.PlaterecStats, "yes") {
		p.logStats(ctx)
	}
	data, err := rimage.EncodeJPEG(img)
	if err != nil {
		return nil, err
	}
	form := url.Values{}
	for _, r := range p.opts.PlaterecRegions {
		form.Add("regions", r)
	}
	resp, err := p.http.R().
		SetContext(ctx).
		SetFileReader("upload", "frame.jpg", bytes.NewReader(data)).
		SetFormDataFromValues(form).
		Post(p.opts.AlprURL + "/plate-reader/")
	if err != nil {
		return nil, errors.Wrap(err, "plate recognizer request failed")
	}
	if resp.IsError() {
		return nil, errors.Errorf("plate recognizer: %s: %s", resp.Status(), resp.String())
	}
	var pr plateResponse
	if err := json.Unmarshal(resp.Body(), &pr); err != nil {
		return nil, errors.Wrap(err, "invalid plate recognizer response")
	}

	var dets []detection.Detection
	for _, r := range pr.Results {
		if r.Dscore < p.opts.PlaterecMinDscore || r.Score < p.opts.PlaterecMinScore {
			p.logger.Debugw("ignoring plate", "plate", r.Plate, "score", r.Score, "dscore", r.Dscore)
			continue
		}
		dets = append(dets, detection.Detection{
			Label:      r.Plate,
			Box:        detection.Box{r.Box.Xmin, r.Box.Ymin, r.Box.Xmax, r.Box.Ymax},
			Confidence: r.Score,
			Model:      p.opts.Name,
		})
	}
	return dets, nil
}

func (p *PlateRecognizer) logStats(ctx context.Context) {
	resp, err := p.http.R().SetContext(ctx).Get(p.opts.AlprURL + "/statistics/")
	if err != nil || resp.IsError() {
		p.logger.Warnw("cannot read plate recognizer statistics", "error", err)
		return
	}
	p.logger.Debugf("plate recognizer statistics: %s", resp.String())
}

// Close implements Model.
func (p *PlateRecognizer) Close() error {
	return nil
}
