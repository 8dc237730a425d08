package cli

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/urfave/cli/v2"
	"go.viam.com/utils"

	"github.com/zmeventnotification/zmdetect/animation"
	"github.com/zmeventnotification/zmdetect/config"
	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/detector"
	"github.com/zmeventnotification/zmdetect/logging"
	"github.com/zmeventnotification/zmdetect/mlapi"
	"github.com/zmeventnotification/zmdetect/rimage"
	zutils "github.com/zmeventnotification/zmdetect/utils"
	"github.com/zmeventnotification/zmdetect/zmapi"
)

const (
	unknownVersion     = "(?)"
	pastDiffAreaSuffix = "_past_det_max_diff_area"
	motionMarker       = "Motion:"
	inactiveZoneType   = "Inactive"
)

var (
	// newModel builds the models of local detection.
	newModel detector.ModelFactory = detector.NewModel
	// esVersionCommand prints the version of the event server.
	esVersionCommand = "/usr/bin/zmeventnotification.pl"
)

// detectRun is one detection on an event or a file, from the configuration to the report.
type detectRun struct {
	args   args
	cfg    *config.Config
	logger logging.Logger
	out    io.Writer
	zm     *zmapi.Client
}

func loggerName(monitorID string) string {
	if monitorID == "" {
		return "zmesdetect"
	}
	return "zmesdetect_m" + monitorID
}

// runDetection reads the configuration, sets up logging and runs one detection. Any error is
// logged and turned into exit code 1.
func runDetection(ctx context.Context, a args, out, errOut io.Writer) error {
	name := loggerName(a.monitorID)
	// the configuration decides where logs go, until it is read only the console is used
	bootstrap, err := logging.NewFromOptions(logging.Options{
		Name: name, Debug: a.debug, Console: a.debug, ConsoleWriter: errOut,
	})
	if err != nil {
		return cli.Exit(err, 1)
	}
	cfg, err := config.Read(a.config, a.monitorID, bootstrap)
	if err != nil {
		printf(errOut, "Unrecoverable error: %+v", err)
		return cli.Exit(err, 1)
	}

	logger, err := logging.NewFromOptions(logging.Options{
		Name:          name,
		Debug:         a.debug || cfg.Bool("log_debug"),
		Console:       a.debug,
		ConsoleWriter: errOut,
		LogPath:       cfg.String("log_path"),
		MaxSizeMB:     cfg.Int("log_max_size_mb", 10),
		MaxBackups:    cfg.Int("log_max_backups", 3),
	})
	if err != nil {
		logger.Warnw("file logging disabled", "error", err)
	}
	defer func() {
		utils.UncheckedError(logger.Sync())
	}()

	run := &detectRun{args: a, cfg: cfg, logger: logger, out: out}
	if err := run.run(ctx); err != nil {
		logger.Errorf("Unrecoverable error: %+v", err)
		return cli.Exit(err, 1)
	}
	logger.Debug("closing logs")
	return nil
}

func (d *detectRun) run(ctx context.Context) error {
	d.logger.Infof("---------| app:%s, go:%s, ES:%s |------------", Version, runtime.Version(), esVersion(ctx))
	d.logger.Debugw("starting detection", "run", uuid.NewString(), "stream", d.args.stream(), "monitor", d.args.monitorID)

	misc := filepath.Join(d.cfg.String("base_data_path"), "misc")
	if err := os.MkdirAll(misc, 0o750); err != nil {
		d.logger.Warnw("cannot create data directory", "path", misc, "error", err)
	}

	d.logger.Info("Connecting with ZM APIs")
	d.zm = zmapi.New(zmapi.Options{
		APIURL:              d.cfg.String("api_portal"),
		PortalURL:           d.cfg.String("portal"),
		User:                d.cfg.String("user"),
		Password:            d.cfg.String("password"),
		DisableSSLCertCheck: d.cfg.Bool("allow_self_signed"),
	}, d.logger.Sublogger("zmapi"))
	if err := d.zm.Login(ctx); err != nil {
		d.logger.Warnw("cannot log into ZoneMinder", "error", err)
	} else if v := d.zm.Version(); v != "" {
		d.logger.Infof("Connected to ZoneMinder %s", v)
	}
	d.importZones(ctx)

	ml, err := d.cfg.MLSequence()
	if err != nil {
		return err
	}
	so, err := d.cfg.StreamSequence()
	if err != nil {
		return err
	}
	so.Polygons = d.cfg.Polygons

	if wait := d.cfg.Int("wait", 0); d.args.file == "" && wait > 0 {
		d.logger.Infof("Sleeping for %d seconds before inferencing", wait)
		if !utils.SelectContextOrWait(ctx, time.Duration(wait)*time.Second) {
			return ctx.Err()
		}
	}

	det, closeDetector := d.newDetector()
	defer func() {
		utils.UncheckedError(closeDetector())
	}()
	start := time.Now()
	res, err := det.Detect(ctx, detector.Request{
		Stream:        d.args.stream(),
		File:          d.args.file != "",
		MonitorID:     d.args.monitorID,
		Reason:        d.args.reason,
		MLOptions:     ml,
		StreamOptions: so,
	})
	if err != nil {
		return err
	}
	d.logger.Debugf("detection took %s", time.Since(start))
	return d.report(ctx, res)
}

// esVersion asks the event server for its version. It is only used in the banner.
func esVersion(ctx context.Context) string {
	//nolint:gosec
	out, err := exec.CommandContext(ctx, esVersionCommand, "--version").Output()
	if err != nil {
		return unknownVersion
	}
	return strings.TrimSpace(string(out))
}

// newDetector returns the remote gateway when one is configured, with local detection as a
// fallback when ml_fallback_local is set, and local detection otherwise.
func (d *detectRun) newDetector() (detector.Detector, func() error) {
	local := detector.NewSequence(d.zm, newModel, d.logger.Sublogger("sequence"))
	gateway := d.cfg.String("ml_gateway")
	if gateway == "" {
		d.logger.Info("using local detection")
		return local, local.Close
	}

	d.logger.Infof("Detecting using remote API Gateway %s", gateway)
	remote := &detector.Remote{
		Gateway: mlapi.New(mlapi.Options{
			GatewayURL: gateway,
			User:       d.cfg.String("ml_user"),
			Password:   d.cfg.String("ml_password"),
			DataPath:   d.cfg.String("base_data_path"),
		}, d.logger.Sublogger("mlapi")),
		Frames:     d.zm,
		FetchImage: d.cfg.Bool("write_image_to_zm"),
		Version:    Version,
		Logger:     d.logger,
	}
	fallback := &detector.Fallback{Primary: remote, Logger: d.logger}
	if d.cfg.Bool("ml_fallback_local") {
		fallback.Secondary = local
	}
	return fallback, local.Close
}

// importZones adds the active zones of the monitor to the configured ones. With
// only_triggered_zm_zones only the zones named in the event reason are kept.
func (d *detectRun) importZones(ctx context.Context) {
	if !d.cfg.Bool("import_zm_zones") || d.args.monitorID == "" {
		return
	}
	zones, err := d.zm.Zones(ctx, d.args.monitorID)
	if err != nil {
		d.logger.Errorw("cannot import ZoneMinder zones", "monitor", d.args.monitorID, "error", err)
		return
	}
	triggered := triggeredZones(d.args.reason)
	onlyTriggered := d.cfg.Bool("only_triggered_zm_zones") && len(triggered) > 0
	for _, z := range zones {
		if strings.EqualFold(z.Type, inactiveZoneType) {
			d.logger.Debugf("skipping inactive zone %s", z.Name)
			continue
		}
		if onlyTriggered && !lo.ContainsBy(triggered, func(name string) bool { return strings.EqualFold(name, z.Name) }) {
			d.logger.Debugf("skipping zone %s, it did not trigger the event", z.Name)
			continue
		}
		p, err := z.Polygon()
		if err != nil {
			d.logger.Warnw("skipping zone", "error", err)
			continue
		}
		d.logger.Debugf("importing zone %s", p.Name)
		d.cfg.AddPolygons(p)
	}
}

// triggeredZones returns the zone names listed after "Motion:" in an event reason.
func triggeredZones(reason string) []string {
	_, after, found := strings.Cut(reason, motionMarker)
	if !found {
		return nil
	}
	names := lo.Map(strings.Split(after, ","), func(name string, _ int) string {
		return strings.TrimSpace(name)
	})
	return lo.Compact(names)
}

// report removes past detections, prints the result for the calling process and writes the
// images, notes and animation. Everything after the printed line is best effort.
func (d *detectRun) report(ctx context.Context, res *detection.Result) error {
	if d.cfg.Bool("match_past_detections") && d.args.monitorID != "" {
		d.removePastDetections(res)
	}

	showPercent := d.cfg.Bool("show_percent")
	line, ok, err := res.Output(showPercent)
	if err != nil {
		return err
	}
	if !ok {
		d.logger.Info("no detections")
		return nil
	}
	pred := res.Prediction(showPercent)
	d.logger.Infof("Prediction string:%s", pred)
	printf(d.out, "%s", line)

	d.writeImages(res)
	if d.args.notes && !d.updateNotes(ctx, pred) {
		return nil
	}
	if d.cfg.Bool("create_animation") {
		d.createAnimation(ctx, res)
	}
	return nil
}

func pastFilter(cfg *config.Config) (*detection.PastFilter, error) {
	maxDiff, err := detection.ParseAreaSpec(cfg.String("past_det_max_diff_area"))
	if err != nil {
		return nil, errors.Wrap(err, "past_det_max_diff_area")
	}
	filter := &detection.PastFilter{
		MaxDiffArea:      maxDiff,
		LabelMaxDiffArea: map[string]detection.AreaSpec{},
		IgnoreLabels:     cfg.List("ignore_past_detection_labels"),
	}
	for _, key := range cfg.Keys() {
		label, found := strings.CutSuffix(key, pastDiffAreaSuffix)
		if !found || label == "" {
			continue
		}
		spec, err := detection.ParseAreaSpec(cfg.String(key))
		if err != nil {
			return nil, errors.Wrap(err, key)
		}
		filter.LabelMaxDiffArea[label] = spec
	}
	return filter, nil
}

// removePastDetections drops from res the objects already reported for the monitor, then records
// the unfiltered detections for the next run.
func (d *detectRun) removePastDetections(res *detection.Result) {
	filter, err := pastFilter(d.cfg)
	if err != nil {
		d.logger.Errorw("not matching past detections", "error", err)
		return
	}
	d.logger.Info("Removing matches to past detections")
	path := detection.PastDetectionsPath(d.cfg.String("image_path"), d.args.monitorID)
	past, err := detection.LoadPastDetections(path)
	if err != nil {
		d.logger.Warnw("ignoring past detections", "error", err)
	}
	unfiltered := detection.NewResult(string(res.FrameID), res.Detections())
	for _, removed := range filter.Apply(res, past) {
		d.logger.Debugf("removing %s, it matches a past detection", removed)
	}
	d.logger.Debugf("Saving detections for monitor %s for future match", d.args.monitorID)
	if err := detection.SavePastDetections(path, unfiltered); err != nil {
		d.logger.Errorw("past detections not recorded", "path", path, "error", err)
	}
}

// writeImages writes the debug image and, for events, objdetect.jpg and objects.json.
func (d *detectRun) writeImages(res *detection.Result) {
	toZM := d.cfg.Bool("write_image_to_zm")
	debug := d.cfg.Bool("write_debug_image")
	if res.Image == nil || !(toZM || debug) {
		return
	}
	polyColor, err := rimage.ParseColor(d.cfg.String("poly_color"))
	if err != nil {
		d.logger.Warnw("invalid poly_color", "error", err)
	}
	annotated := rimage.Overlay(res.Image, res, rimage.OverlayOptions{
		ShowPercent:   d.cfg.Bool("show_percent"),
		PolyColor:     polyColor,
		PolyThickness: d.cfg.Float("poly_thickness", 2),
	})

	if debug {
		dir := d.args.outputPath
		if dir == "" {
			dir = d.cfg.String("image_path")
		}
		path := filepath.Join(dir, filepath.Base(zutils.AppendSuffix(d.args.stream(), "-"+string(res.FrameID)+"-debug")))
		d.logger.Debugf("Writing bound boxes to debug image: %s", path)
		if err := rimage.WriteImageToFile(path, rimage.DrawErrorBoxes(annotated, res.ErrorBoxes)); err != nil {
			d.logger.Errorw("cannot write debug image", "path", path, "error", err)
		}
	}

	if !toZM || d.args.eventPath == "" {
		return
	}
	imagePath := filepath.Join(d.args.eventPath, "objdetect.jpg")
	d.logger.Debugf("Writing detected image to %s", imagePath)
	if err := rimage.WriteImageToFile(imagePath, annotated); err != nil {
		d.logger.Errorw("cannot write detected image", "path", imagePath, "error", err)
	}
	jsonPath := filepath.Join(d.args.eventPath, "objects.json")
	d.logger.Debugf("Writing JSON output to %s", jsonPath)
	data, err := json.Marshal(res.Summary())
	if err == nil {
		//nolint:gosec
		err = os.WriteFile(jsonPath, data, 0o644)
	}
	if err != nil {
		d.logger.Errorw("cannot write detections", "path", jsonPath, "error", err)
		zutils.RemoveFileNoError(jsonPath)
	}
}

// mergeNotes puts pred in front of the motion part of the event's notes.
func mergeNotes(pred, oldNotes string) string {
	if oldNotes == "" {
		return pred
	}
	_, motion, _ := strings.Cut(oldNotes, motionMarker)
	return pred + motionMarker + motion
}

// updateNotes writes the prediction to the event notes. It returns false when the event could
// not be read, which ends the run.
func (d *detectRun) updateNotes(ctx context.Context, pred string) bool {
	if d.args.eventID == "" {
		d.logger.Warn("cannot update notes without an event id")
		return true
	}
	ev, err := d.zm.Event(ctx, d.args.eventID)
	if err != nil {
		d.logger.Errorw("error during event notes retrieval", "event", d.args.eventID, "error", err)
		return false
	}
	notes := mergeNotes(pred, ev.Notes)
	if ev.Notes != "" {
		d.logger.Debugf("Replacing old note:%s with new note:%s", ev.Notes, notes)
	}
	if err := d.zm.UpdateNotes(ctx, d.args.eventID, notes); err != nil {
		d.logger.Errorw("error during notes update", "event", d.args.eventID, "error", err)
	}
	return true
}

func (d *detectRun) createAnimation(ctx context.Context, res *detection.Result) {
	if d.args.eventID == "" {
		d.logger.Error("Cannot create animation as you did not pass an event ID")
		return
	}
	d.logger.Debug("animation: Creating burst...")
	err := animation.Create(ctx, d.zm, d.args.eventID, string(res.FrameID),
		filepath.Join(d.args.eventPath, "objdetect"), animation.Options{
			Types:      d.cfg.List("animation_types"),
			Width:      d.cfg.Int("animation_width", 640),
			Frames:     d.cfg.Int("animation_frames", 0),
			RetrySleep: time.Duration(d.cfg.Int("animation_retry_sleep", 15)) * time.Second,
			MaxTries:   d.cfg.Int("animation_max_tries", 3),
			FastGIF:    d.cfg.Bool("fast_gif"),
		}, d.logger.Sublogger("animation"))
	if err != nil {
		d.logger.Errorw("error creating animation", "error", err)
	}
}
