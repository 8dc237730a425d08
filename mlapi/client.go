// Package mlapi is a client for a remote inference gateway. Access tokens are cached on disk so
// consecutive detection runs share a login.
package mlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/utils"

	"github.com/zmeventnotification/zmdetect/config"
	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/logging"
)

// TokenFileName is the name of the token cache in the data directory.
const TokenFileName = "zm_login.json"

// tokenMargin is how long a cached token must still be valid for to be reused.
const tokenMargin = 30 * time.Second

// TokenRecord is a cached access token. Times are in seconds since the epoch.
type TokenRecord struct {
	Token   string  `json:"token"`
	Expires float64 `json:"expires"`
	Time    float64 `json:"time"`
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Valid is true while the token has more than 30 seconds left at now.
func (r TokenRecord) Valid(now time.Time) bool {
	return r.Token != "" && unixSeconds(now.Add(tokenMargin))-r.Time < r.Expires
}

// Options configures a Client.
type Options struct {
	// GatewayURL is the root of the gateway, e.g. http://host:5000/api/v1.
	GatewayURL string
	User       string
	Password   string
	// DataPath is the directory holding the token cache.
	DataPath string
	Timeout  time.Duration
	// Clock defaults to the wall clock.
	Clock clock.Clock
}

// Client talks to a remote inference gateway.
type Client struct {
	opts   Options
	http   *resty.Client
	clock  clock.Clock
	logger logging.Logger
}

// New returns a client for the gateway described by opts.
func New(opts Options, logger logging.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	opts.GatewayURL = strings.TrimRight(opts.GatewayURL, "/")
	client := resty.New().
		SetBaseURL(opts.GatewayURL).
		SetTimeout(opts.Timeout).
		SetLogger(logger)
	return &Client{opts: opts, http: client, clock: opts.Clock, logger: logger}
}

// TokenPath returns the location of the token cache.
func (c *Client) TokenPath() string {
	return filepath.Join(c.opts.DataPath, TokenFileName)
}

// LoadToken reads the token cache. A missing cache yields nil. A cache that cannot be decoded is
// removed and treated as missing.
func (c *Client) LoadToken() *TokenRecord {
	data, err := os.ReadFile(c.TokenPath())
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warnw("cannot read token cache", "path", c.TokenPath(), "error", err)
		}
		return nil
	}
	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Errorw("corrupt token cache, removing it", "path", c.TokenPath(), "error", err)
		utils.UncheckedError(os.Remove(c.TokenPath()))
		return nil
	}
	return &rec
}

func (c *Client) saveToken(rec TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(c.TokenPath(), data, 0o600)
}

type loginResponse struct {
	AccessToken string  `json:"access_token"`
	Expires     float64 `json:"expires"`
}

// Token returns a valid access token, logging in when the cached one is missing or about to
// expire.
func (c *Client) Token(ctx context.Context) (string, error) {
	now := c.clock.Now()
	if rec := c.LoadToken(); rec != nil {
		if rec.Valid(now) {
			c.logger.Debugf("access token is valid for %.0f more seconds", rec.Time+rec.Expires-unixSeconds(now))
			return rec.Token, nil
		}
		c.logger.Debug("cached access token has expired or is about to expire")
	}

	c.logger.Debug("logging into the remote gateway")
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"username": c.opts.User, "password": c.opts.Password}).
		Post("/login")
	if err != nil {
		return "", errors.Wrap(err, "remote gateway login failed")
	}
	var lr loginResponse
	if err := json.Unmarshal(resp.Body(), &lr); err != nil || lr.AccessToken == "" {
		return "", errors.Errorf("error getting remote API token (%s): %s", resp.Status(), resp.String())
	}

	rec := TokenRecord{Token: lr.AccessToken, Expires: lr.Expires, Time: unixSeconds(c.clock.Now())}
	if err := c.saveToken(rec); err != nil {
		c.logger.Warnw("cannot cache access token", "path", c.TokenPath(), "error", err)
	}
	return rec.Token, nil
}

// DetectRequest describes one detection round trip.
type DetectRequest struct {
	Version string
	// MonitorID and Reason are optional.
	MonitorID string
	Reason    string
	// Stream is an event id, or the name of the uploaded file.
	Stream        string
	StreamOptions *config.StreamOptions
	MLOverrides   map[string]interface{}
	// Image is uploaded as the frame to analyse when set.
	Image []byte
}

type detectBody struct {
	Version       string                 `json:"version"`
	MonitorID     *string                `json:"mid"`
	Reason        *string                `json:"reason"`
	Stream        string                 `json:"stream"`
	StreamOptions *config.StreamOptions  `json:"stream_options"`
	MLOverrides   map[string]interface{} `json:"ml_overrides"`
}

// DetectResponse is the gateway's answer: the matched frame and every frame it looked at.
type DetectResponse struct {
	MatchedData *detection.Result `json:"matched_data"`
	AllMatches  json.RawMessage   `json:"all_matches"`
}

// Detect sends a detection request to the gateway.
func (c *Client) Detect(ctx context.Context, dr DetectRequest) (*DetectResponse, error) {
	token, err := c.Token(ctx)
	if err != nil {
		return nil, err
	}
	body := detectBody{
		Version:       dr.Version,
		MonitorID:     lo.EmptyableToPtr(dr.MonitorID),
		Reason:        lo.EmptyableToPtr(dr.Reason),
		Stream:        dr.Stream,
		StreamOptions: dr.StreamOptions,
		MLOverrides:   dr.MLOverrides,
	}
	requestID := uuid.NewString()
	req := c.http.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetHeader("X-Request-ID", requestID).
		SetQueryParams(map[string]string{
			"type":            "object",
			"delete":          "true",
			"response_format": "zm_detect",
		})
	if dr.Image != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		req.SetFileReader("file", "image.jpg", bytes.NewReader(dr.Image)).
			SetFormData(map[string]string{"json": string(payload)})
	} else {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	c.logger.Debugw("invoking remote gateway", "stream", dr.Stream, "monitor", dr.MonitorID, "request_id", requestID)
	start := c.clock.Now()
	resp, err := req.Post("/detect/object")
	if err != nil {
		return nil, errors.Wrap(err, "error during remote post")
	}
	if resp.IsError() {
		return nil, errors.Errorf("error during remote post: %s: %s", resp.Status(), resp.String())
	}
	c.logger.Debugf("remote detection took %s", c.clock.Since(start))

	var out DetectResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, errors.Wrap(err, "invalid remote detection response")
	}
	if out.MatchedData == nil {
		return nil, errors.New("remote detection response has no matched_data")
	}
	if err := out.MatchedData.Validate(); err != nil {
		return nil, err
	}
	return &out, nil
}
