// Package zmapi is a thin client for the few ZoneMinder API calls a detection run needs: login,
// event lookup, notes update, frame download and zone listing.
package zmapi

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/logging"
	"github.com/zmeventnotification/zmdetect/rimage"
)

// Options configures a Client.
type Options struct {
	// APIURL is the API root, e.g. https://host/zm/api.
	APIURL string
	// PortalURL is the web root, e.g. https://host/zm.
	PortalURL string
	User      string
	Password  string
	// DisableSSLCertCheck accepts self signed certificates.
	DisableSSLCertCheck bool
	Timeout             time.Duration
}

// Client talks to a ZoneMinder server. It logs in lazily on first use.
type Client struct {
	opts   Options
	http   *resty.Client
	logger logging.Logger

	mu sync.Mutex
	// authParams are appended to every request once logged in.
	authParams map[string]string
	loggedIn   bool
	version    string
}

// New returns a client for the server described by opts.
func New(opts Options, logger logging.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	opts.PortalURL = strings.TrimRight(opts.PortalURL, "/")
	client := resty.New().
		SetTimeout(opts.Timeout).
		SetLogger(logger).
		SetHeader("User-Agent", "zmdetect")
	if opts.DisableSSLCertCheck {
		//nolint:gosec
		client.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	return &Client{opts: opts, http: client, logger: logger}
}

// Version returns the server version reported at login.
func (c *Client) Version() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

type loginResponse struct {
	AccessToken        string      `json:"access_token"`
	AccessTokenExpires interface{} `json:"access_token_expires"`
	Credentials        string      `json:"credentials"`
	AppendPassword     interface{} `json:"append_password"`
	Version            string      `json:"version"`
	APIVersion         string      `json:"apiversion"`
}

// Login authenticates against the server. Servers without authentication need no user.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	c.authParams = map[string]string{}
	if c.opts.User == "" {
		c.logger.Debug("no ZoneMinder user configured, skipping login")
		c.loggedIn = true
		return nil
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{"user": c.opts.User, "pass": c.opts.Password}).
		Post(c.opts.APIURL + "/host/login.json")
	if err != nil {
		return errors.Wrap(err, "ZoneMinder login failed")
	}
	if resp.IsError() {
		return errors.Errorf("ZoneMinder login failed: %s", resp.Status())
	}
	var lr loginResponse
	if err := json.Unmarshal(resp.Body(), &lr); err != nil {
		return errors.Wrap(err, "invalid ZoneMinder login response")
	}
	switch {
	case lr.AccessToken != "":
		c.authParams["token"] = lr.AccessToken
	case lr.Credentials != "":
		// legacy auth hands out a query string
		for _, kv := range strings.Split(lr.Credentials, "&") {
			k, v, _ := strings.Cut(kv, "=")
			c.authParams[k] = v
		}
		if fmt.Sprint(lr.AppendPassword) == "1" {
			c.authParams["pass"] = c.opts.Password
		}
	default:
		return errors.New("ZoneMinder login returned neither a token nor credentials")
	}
	c.version = lr.Version
	c.loggedIn = true
	c.logger.Debugw("logged into ZoneMinder", "version", lr.Version, "api_version", lr.APIVersion)
	return nil
}

// do runs an authenticated request, logging in again once if the session expired.
func (c *Client) do(ctx context.Context, method, url string, prepare func(*resty.Request)) (*resty.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.loggedIn {
		if err := c.loginLocked(ctx); err != nil {
			return nil, err
		}
	}
	for attempt := 0; ; attempt++ {
		req := c.http.R().SetContext(ctx).SetQueryParams(c.authParams)
		if prepare != nil {
			prepare(req)
		}
		resp, err := req.Execute(method, url)
		if err != nil {
			return nil, errors.Wrapf(err, "%s %s", method, url)
		}
		if resp.StatusCode() == http.StatusUnauthorized && attempt == 0 && c.opts.User != "" {
			c.logger.Debug("ZoneMinder session expired, logging in again")
			if err := c.loginLocked(ctx); err != nil {
				return nil, err
			}
			continue
		}
		if resp.IsError() {
			return nil, errors.Errorf("%s %s: %s", method, url, resp.Status())
		}
		return resp, nil
	}
}

// Event is the part of a ZoneMinder event a detection run uses.
type Event struct {
	ID              string  `mapstructure:"Id"`
	MonitorID       string  `mapstructure:"MonitorId"`
	Name            string  `mapstructure:"Name"`
	Cause           string  `mapstructure:"Cause"`
	Notes           string  `mapstructure:"Notes"`
	Frames          int     `mapstructure:"Frames"`
	AlarmFrames     int     `mapstructure:"AlarmFrames"`
	AlarmFrameID    int     `mapstructure:"AlarmFrameId"`
	MaxScoreFrameID int     `mapstructure:"MaxScoreFrameId"`
	Length          float64 `mapstructure:"Length"`
}

// FPS returns the average frame rate of the event.
func (e *Event) FPS() float64 {
	if e.Length <= 0 {
		return 0
	}
	return float64(e.Frames) / e.Length
}

// Event reads an event. ZoneMinder sends numbers as strings, so fields are decoded weakly.
func (c *Client) Event(ctx context.Context, eventID string) (*Event, error) {
	resp, err := c.do(ctx, resty.MethodGet, fmt.Sprintf("%s/events/%s.json", c.opts.APIURL, eventID), nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Event struct {
			Event map[string]interface{} `json:"Event"`
		} `json:"event"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, errors.Wrapf(err, "invalid event %s", eventID)
	}
	if body.Event.Event == nil {
		return nil, errors.Errorf("event %s not found", eventID)
	}
	var ev Event
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{WeaklyTypedInput: true, Result: &ev})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(body.Event.Event); err != nil {
		return nil, errors.Wrapf(err, "invalid event %s", eventID)
	}
	return &ev, nil
}

// UpdateNotes replaces the notes of an event.
func (c *Client) UpdateNotes(ctx context.Context, eventID, notes string) error {
	_, err := c.do(ctx, resty.MethodPut, fmt.Sprintf("%s/events/%s.json", c.opts.APIURL, eventID), func(r *resty.Request) {
		r.SetFormData(map[string]string{"Event[Notes]": notes})
	})
	return err
}

// FrameImage downloads a frame of an event. fid is a frame number, "alarm" or "snapshot".
func (c *Client) FrameImage(ctx context.Context, eventID, fid string) (image.Image, error) {
	resp, err := c.do(ctx, resty.MethodGet, c.opts.PortalURL+"/index.php", func(r *resty.Request) {
		r.SetQueryParams(map[string]string{"view": "image", "eid": eventID, "fid": fid})
	})
	if err != nil {
		return nil, err
	}
	if ct := resp.Header().Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "image/") {
		return nil, errors.Errorf("frame %s of event %s is not an image (%s)", fid, eventID, ct)
	}
	img, err := rimage.DecodeImage(resp.Body())
	if err != nil {
		return nil, errors.Wrapf(err, "frame %s of event %s", fid, eventID)
	}
	return img, nil
}

// Zone is a zone defined on a monitor.
type Zone struct {
	Name   string `json:"Name"`
	Type   string `json:"Type"`
	Coords string `json:"Coords"`
}

// Polygon converts the zone into a detection zone.
func (z Zone) Polygon() (detection.Polygon, error) {
	points, err := detection.ParsePoints(z.Coords)
	if err != nil {
		return detection.Polygon{}, errors.Wrapf(err, "zone %s", z.Name)
	}
	return detection.Polygon{Name: strings.ReplaceAll(strings.ToLower(z.Name), " ", "_"), Points: points}, nil
}

// Zones lists the zones of a monitor.
func (c *Client) Zones(ctx context.Context, monitorID string) ([]Zone, error) {
	resp, err := c.do(ctx, resty.MethodGet, fmt.Sprintf("%s/zones/forMonitor/%s.json", c.opts.APIURL, monitorID), nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Zones []struct {
			Zone Zone `json:"Zone"`
		} `json:"zones"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return nil, errors.Wrapf(err, "invalid zones of monitor %s", monitorID)
	}
	zones := make([]Zone, 0, len(body.Zones))
	for _, z := range body.Zones {
		zones = append(zones, z.Zone)
	}
	return zones, nil
}
