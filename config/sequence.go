package config

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.uber.org/multierr"

	"github.com/zmeventnotification/zmdetect/detection"
)

// Model types of a detection sequence.
const (
	ModelObject = "object"
	ModelFace   = "face"
	ModelAlpr   = "alpr"
)

// Strategies choosing between the variants of a model type, or between the frames of a stream.
const (
	StrategyFirst      = "first"
	StrategyMost       = "most"
	StrategyMostUnique = "most_unique"
	StrategyMostModels = "most_models"
	StrategyUnion      = "union"
)

// Frame ids understood by the frame set.
const (
	FrameSnapshot = detection.FrameSnapshot
	FrameAlarm    = detection.FrameAlarm
)

// MLOptions describes which models run and how.
type MLOptions struct {
	General MLGeneral         `mapstructure:"general"`
	Object  *ModelTypeOptions `mapstructure:"object"`
	Face    *ModelTypeOptions `mapstructure:"face"`
	Alpr    *ModelTypeOptions `mapstructure:"alpr"`
}

// MLGeneral holds the settings shared by all model types.
type MLGeneral struct {
	// ModelSequence lists the model types to run, in order.
	ModelSequence []string               `mapstructure:"model_sequence"`
	Extra         map[string]interface{} `mapstructure:",remain"`
}

// ModelTypeOptions configures one model type and its variants.
type ModelTypeOptions struct {
	General  ModelTypeGeneral `mapstructure:"general"`
	Sequence []ModelOptions   `mapstructure:"sequence"`
}

// ModelTypeGeneral holds the settings shared by the variants of a model type.
type ModelTypeGeneral struct {
	// Pattern is the regular expression labels must match.
	Pattern string `mapstructure:"pattern"`
	// SameModelSequenceStrategy picks between the variants: first, most, most_unique or union.
	SameModelSequenceStrategy string                 `mapstructure:"same_model_sequence_strategy"`
	Extra                     map[string]interface{} `mapstructure:",remain"`
}

// ModelOptions configures a single model variant.
type ModelOptions struct {
	Name    string `mapstructure:"name"`
	Enabled string `mapstructure:"enabled"`
	// MaxDetectionSize rejects boxes larger than this share ("N%") or pixel area of the frame.
	MaxDetectionSize string `mapstructure:"max_detection_size"`
	// PreExistingLabels makes the model run only when an earlier model found one of the labels.
	PreExistingLabels []string `mapstructure:"pre_existing_labels"`

	ObjectFramework     string  `mapstructure:"object_framework"`
	ObjectProcessor     string  `mapstructure:"object_processor"`
	ObjectConfig        string  `mapstructure:"object_config"`
	ObjectWeights       string  `mapstructure:"object_weights"`
	ObjectLabels        string  `mapstructure:"object_labels"`
	ObjectMinConfidence float64 `mapstructure:"object_min_confidence"`
	ModelWidth          int     `mapstructure:"model_width"`
	ModelHeight         int     `mapstructure:"model_height"`

	FaceDetectionFramework string `mapstructure:"face_detection_framework"`

	AlprService       string   `mapstructure:"alpr_service"`
	AlprAPIType       string   `mapstructure:"alpr_api_type"`
	AlprURL           string   `mapstructure:"alpr_url"`
	AlprKey           string   `mapstructure:"alpr_key"`
	PlaterecStats     string   `mapstructure:"platerec_stats"`
	PlaterecRegions   []string `mapstructure:"platerec_regions"`
	PlaterecMinDscore float64  `mapstructure:"platerec_min_dscore"`
	PlaterecMinScore  float64  `mapstructure:"platerec_min_score"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// IsEnabled is true unless the variant is explicitly disabled.
func (m ModelOptions) IsEnabled() bool {
	return m.Enabled == "" || strings.EqualFold(m.Enabled, "yes")
}

// ModelType returns the options of a model type, or nil when it is not configured.
func (o *MLOptions) ModelType(name string) *ModelTypeOptions {
	switch name {
	case ModelObject:
		return o.Object
	case ModelFace:
		return o.Face
	case ModelAlpr:
		return o.Alpr
	default:
		return nil
	}
}

// RemoteOverrides returns the part of the options a remote gateway applies on top of its own.
func (o *MLOptions) RemoteOverrides() map[string]interface{} {
	pattern := func(t *ModelTypeOptions) map[string]interface{} {
		if t == nil {
			return map[string]interface{}{"pattern": nil}
		}
		return map[string]interface{}{"pattern": t.General.Pattern}
	}
	return map[string]interface{}{
		"model_sequence": strings.Join(o.General.ModelSequence, ","),
		ModelObject:      pattern(o.Object),
		ModelFace:        pattern(o.Face),
		ModelAlpr:        pattern(o.Alpr),
	}
}

func (o *MLOptions) setDefaults() {
	if len(o.General.ModelSequence) == 0 {
		o.General.ModelSequence = lo.Filter([]string{ModelObject, ModelFace, ModelAlpr}, func(name string, _ int) bool {
			return o.ModelType(name) != nil
		})
	}
	for _, t := range []*ModelTypeOptions{o.Object, o.Face, o.Alpr} {
		if t == nil {
			continue
		}
		if t.General.Pattern == "" {
			t.General.Pattern = ".*"
		}
		if t.General.SameModelSequenceStrategy == "" {
			t.General.SameModelSequenceStrategy = StrategyFirst
		}
	}
}

// Validate checks the model sequence only names known model types.
func (o *MLOptions) Validate() error {
	var allErrs error
	for _, name := range o.General.ModelSequence {
		if !lo.Contains([]string{ModelObject, ModelFace, ModelAlpr}, name) {
			allErrs = multierr.Append(allErrs, errors.Errorf("unknown model type %q in model_sequence", name))
		}
	}
	return allErrs
}

// DecodeMLOptions builds ML options from a parsed sequence literal.
func DecodeMLOptions(raw map[string]interface{}) (*MLOptions, error) {
	opts := &MLOptions{}
	if err := decode(raw, opts); err != nil {
		return nil, errors.Wrap(err, "invalid ml_sequence")
	}
	opts.setDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return opts, nil
}

// StreamOptions describes which frames of a stream are analysed.
type StreamOptions struct {
	// FrameSet lists the frames to analyse: alarm, snapshot or frame numbers.
	FrameSet []string `mapstructure:"frame_set"`
	// Resize is the width frames are scaled down to. Zero keeps the original size.
	Resize int `mapstructure:"resize"`
	// FrameStrategy picks the matched frame: first, most, most_unique or most_models.
	FrameStrategy        string `mapstructure:"frame_strategy"`
	DisableSSLCertCheck  bool   `mapstructure:"disable_ssl_cert_check"`
	MaxAttempts          int    `mapstructure:"max_attempts"`
	SleepBetweenAttempts int    `mapstructure:"sleep_between_attempts"`

	Polygons  []detection.Polygon `mapstructure:"-"`
	MonitorID string              `mapstructure:"-"`

	Extra map[string]interface{} `mapstructure:",remain"`
}

// MarshalJSON encodes the options the way remote gateways read them. Unknown settings are passed
// through.
func (o StreamOptions) MarshalJSON() ([]byte, error) {
	out := lo.Assign(o.Extra)
	out["frame_set"] = strings.Join(o.FrameSet, ",")
	out["resize"] = nil
	if o.Resize > 0 {
		out["resize"] = o.Resize
	}
	out["frame_strategy"] = o.FrameStrategy
	out["disable_ssl_cert_check"] = o.DisableSSLCertCheck
	out["max_attempts"] = o.MaxAttempts
	out["sleep_between_attempts"] = o.SleepBetweenAttempts
	out["polygons"] = lo.Ternary(o.Polygons == nil, []detection.Polygon{}, o.Polygons)
	if o.MonitorID != "" {
		out["monitorid"] = o.MonitorID
	}
	return json.Marshal(out)
}

// DecodeStreamOptions builds stream options from a parsed sequence literal. A resize of "no"
// keeps the original size, and "strategy" is accepted for "frame_strategy".
func DecodeStreamOptions(raw map[string]interface{}) (*StreamOptions, error) {
	raw = lo.Assign(raw)
	if v, ok := raw["resize"]; ok {
		if s, isStr := v.(string); v == nil || (isStr && (s == "" || strings.EqualFold(s, "no"))) {
			delete(raw, "resize")
		}
	}
	if v, ok := raw["strategy"]; ok {
		if _, has := raw["frame_strategy"]; !has {
			raw["frame_strategy"] = v
		}
		delete(raw, "strategy")
	}

	opts := &StreamOptions{
		FrameStrategy:        StrategyMostModels,
		MaxAttempts:          1,
		SleepBetweenAttempts: 3,
	}
	if err := decode(raw, opts); err != nil {
		return nil, errors.Wrap(err, "invalid stream_sequence")
	}
	if len(opts.FrameSet) == 0 {
		opts.FrameSet = []string{FrameSnapshot, FrameAlarm}
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.SleepBetweenAttempts < 0 {
		opts.SleepBetweenAttempts = 0
	}
	if opts.Resize < 0 {
		return nil, errors.Errorf("invalid resize %d", opts.Resize)
	}
	return opts, nil
}

// usesSequence is true when key holds a sequence literal that should be used.
func (cfg *Config) usesSequence(key string) bool {
	return cfg.Bool("use_sequence") && strings.TrimSpace(cfg.String(key)) != ""
}

// MLSequence returns the ML options. They come from the ml_sequence literal when use_sequence is
// enabled, and are mapped from the legacy object_, face_ and alpr_ keys otherwise.
func (cfg *Config) MLSequence() (*MLOptions, error) {
	if cfg.usesSequence("ml_sequence") {
		raw, err := ParseLiteral(cfg.String("ml_sequence"))
		if err != nil {
			return nil, errors.Wrap(err, "ml_sequence")
		}
		return DecodeMLOptions(raw)
	}
	raw, err := cfg.legacyMLSequence()
	if err != nil {
		return nil, err
	}
	return DecodeMLOptions(raw)
}

// StreamSequence returns the stream options. They come from the stream_sequence literal when
// use_sequence is enabled, and are mapped from frame_id, detection_mode and resize otherwise.
func (cfg *Config) StreamSequence() (*StreamOptions, error) {
	if cfg.usesSequence("stream_sequence") {
		raw, err := ParseLiteral(cfg.String("stream_sequence"))
		if err != nil {
			return nil, errors.Wrap(err, "stream_sequence")
		}
		return DecodeStreamOptions(raw)
	}
	return DecodeStreamOptions(cfg.legacyStreamSequence())
}

var legacyModelKeys = map[string][]string{
	ModelObject: {
		"object_framework", "object_processor", "object_config", "object_weights", "object_labels",
		"object_min_confidence", "model_width", "model_height", "max_detection_size",
	},
	ModelFace: {
		"face_detection_framework", "face_recog_framework", "face_model", "face_train_model",
		"known_images_path", "unknown_images_path", "save_unknown_faces", "save_unknown_faces_leeway_pixels",
		"face_num_jitters", "face_upsample_times", "face_recog_dist_threshold", "unknown_face_name",
		"max_detection_size",
	},
	ModelAlpr: {
		"alpr_service", "alpr_api_type", "alpr_url", "alpr_key", "platerec_stats", "platerec_regions",
		"platerec_min_dscore", "platerec_min_score", "openalpr_recognize_vehicle", "openalpr_country",
		"openalpr_state", "openalpr_min_confidence", "openalpr_cmdline_binary", "openalpr_cmdline_params",
		"openalpr_cmdline_min_confidence", "max_detection_size",
	},
}

func (cfg *Config) legacyMLSequence() (map[string]interface{}, error) {
	models := cfg.List("detection_sequence")
	raw := map[string]interface{}{
		"general": map[string]interface{}{
			"model_sequence": strings.Join(models, ","),
		},
	}
	for _, model := range models {
		keys, ok := legacyModelKeys[model]
		if !ok {
			return nil, errors.Errorf("unknown model type %q in detection_sequence", model)
		}
		entry := map[string]interface{}{}
		for _, key := range keys {
			v, ok := cfg.Get(key)
			if !ok {
				continue
			}
			if strings.HasPrefix(strings.TrimSpace(v), "[") {
				list, err := parseListLiteral(v)
				if err != nil {
					return nil, errors.Wrap(err, key)
				}
				entry[key] = list
				continue
			}
			entry[key] = v
		}
		raw[model] = map[string]interface{}{
			"general": map[string]interface{}{
				"pattern":                      cfg.String(model + "_detection_pattern"),
				"same_model_sequence_strategy": StrategyFirst,
			},
			"sequence": []interface{}{entry},
		}
	}
	return raw, nil
}

func (cfg *Config) legacyStreamSequence() map[string]interface{} {
	mode := cfg.String("detection_mode")
	if mode == "all" {
		mode = StrategyMostModels
	}
	frameSet := cfg.String("frame_id")
	if frameSet == "bestmatch" {
		frameSet = lo.Ternary(cfg.String("bestmatch_order") == "s,a",
			FrameSnapshot+","+FrameAlarm, FrameAlarm+","+FrameSnapshot)
	}
	raw := map[string]interface{}{
		"frame_set":              frameSet,
		"strategy":               mode,
		"disable_ssl_cert_check": cfg.String("allow_self_signed") != "no",
	}
	if resize := cfg.String("resize"); resize != "no" {
		raw["resize"] = resize
	}
	return raw
}

func parseListLiteral(s string) ([]interface{}, error) {
	wrapped, err := ParseLiteral(`{"v": ` + s + `}`)
	if err != nil {
		return nil, err
	}
	list, ok := wrapped["v"].([]interface{})
	if !ok {
		return nil, errors.Errorf("%q is not a list", s)
	}
	return list, nil
}
