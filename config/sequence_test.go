package config

import (
	"encoding/json"
	"image"
	"strings"
	"testing"

	"go.viam.com/test"

	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/logging"
)

const legacyConfig = `
[general]
detection_sequence=object,alpr
detection_mode=all
frame_id=bestmatch
bestmatch_order=s,a
resize=800
allow_self_signed=no

[object]
object_detection_pattern=(person|car)
object_framework=onnx
object_weights=/models/yolov8n.onnx
object_labels=/models/coco.names
object_min_confidence=0.4

[alpr]
alpr_detection_pattern=.*
alpr_key=abc
platerec_regions=['us','cn']
`

// structuredConfig describes the same pipeline as legacyConfig with sequence literals.
const structuredConfig = `
[general]
use_sequence=yes
object_detection_pattern=(person|car)

[ml]
ml_sequence= {
    'general': {
      'model_sequence': 'object,alpr',
    },
    'object': {
      'general': {
        'pattern': '{{object_detection_pattern}}',
        'same_model_sequence_strategy': 'first',
      },
      'sequence': [{
        'object_framework': 'onnx',
        'object_processor': 'cpu',
        'object_weights': '/models/yolov8n.onnx',
        'object_labels': '/models/coco.names',
        'object_min_confidence': 0.4,
        'max_detection_size': '',
      }]
    },
    'alpr': {
      'general': {
        'pattern': '.*',
        'same_model_sequence_strategy': 'first',
      },
      'sequence': [{
        'alpr_service': 'plate_recognizer',
        'alpr_api_type': 'cloud',
        'alpr_url': '',
        'alpr_key': 'abc',
        'platerec_stats': 'no',
        'platerec_regions': ['us', 'cn'],
        'platerec_min_dscore': 0.1,
        'platerec_min_score': 0.2,
        'max_detection_size': '',
      }]
    }
  }

stream_sequence = {
    'frame_set': 'snapshot,alarm',
    'resize': 800,
    'frame_strategy': 'most_models',
    'disable_ssl_cert_check': False,
  }
`

func TestLegacyAndStructuredSequencesAreEquivalent(t *testing.T) {
	logger := logging.NewTestLogger(t)
	legacy, err := FromReader("legacy", strings.NewReader(legacyConfig), "", logger)
	test.That(t, err, test.ShouldBeNil)
	structured, err := FromReader("structured", strings.NewReader(structuredConfig), "", logger)
	test.That(t, err, test.ShouldBeNil)

	legacyML, err := legacy.MLSequence()
	test.That(t, err, test.ShouldBeNil)
	structuredML, err := structured.MLSequence()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, structuredML, test.ShouldResemble, legacyML)

	test.That(t, legacyML.General.ModelSequence, test.ShouldResemble, []string{"object", "alpr"})
	test.That(t, legacyML.Object.General.Pattern, test.ShouldEqual, "(person|car)")
	test.That(t, legacyML.Object.Sequence[0].ObjectMinConfidence, test.ShouldEqual, 0.4)
	test.That(t, legacyML.Alpr.Sequence[0].PlaterecRegions, test.ShouldResemble, []string{"us", "cn"})
	test.That(t, legacyML.Face, test.ShouldBeNil)

	legacyStream, err := legacy.StreamSequence()
	test.That(t, err, test.ShouldBeNil)
	structuredStream, err := structured.StreamSequence()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, structuredStream, test.ShouldResemble, legacyStream)
	test.That(t, legacyStream, test.ShouldResemble, &StreamOptions{
		FrameSet:             []string{"snapshot", "alarm"},
		Resize:               800,
		FrameStrategy:        StrategyMostModels,
		DisableSSLCertCheck:  false,
		MaxAttempts:          1,
		SleepBetweenAttempts: 3,
	})
}

func TestLegacyStreamMapping(t *testing.T) {
	for _, tc := range []struct {
		name   string
		values map[string]string
		want   StreamOptions
	}{
		{
			name:   "defaults",
			values: nil,
			want: StreamOptions{
				FrameSet: []string{"snapshot"}, FrameStrategy: StrategyMostModels,
				DisableSSLCertCheck: true, MaxAttempts: 1, SleepBetweenAttempts: 3,
			},
		},
		{
			name:   "bestmatch alarm first",
			values: map[string]string{"frame_id": "bestmatch", "bestmatch_order": "a,s", "detection_mode": "first", "resize": "640"},
			want: StreamOptions{
				FrameSet: []string{"alarm", "snapshot"}, Resize: 640, FrameStrategy: StrategyFirst,
				DisableSSLCertCheck: true, MaxAttempts: 1, SleepBetweenAttempts: 3,
			},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := New(tc.values).StreamSequence()
			test.That(t, err, test.ShouldBeNil)
			test.That(t, *got, test.ShouldResemble, tc.want)
		})
	}

	_, err := New(map[string]string{"resize": "wide"}).StreamSequence()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLegacyMLDefaults(t *testing.T) {
	opts, err := New(nil).MLSequence()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.General.ModelSequence, test.ShouldResemble, []string{"object"})
	test.That(t, opts.Object.General.Pattern, test.ShouldEqual, ".*")
	test.That(t, opts.Object.Sequence, test.ShouldHaveLength, 1)
	test.That(t, opts.Object.Sequence[0].IsEnabled(), test.ShouldBeTrue)

	_, err = New(map[string]string{"detection_sequence": "object,lidar"}).MLSequence()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDecodeMLOptions(t *testing.T) {
	raw, err := ParseLiteral(`{
		'face': {'sequence': [{'face_detection_framework': 'dlib', 'enabled': 'no', 'face_model': 'cnn'}]},
		'alpr': {'sequence': [{'alpr_service': 'plate_recognizer', 'pre_existing_labels': ['car', 'bus']}]},
	}`)
	test.That(t, err, test.ShouldBeNil)
	opts, err := DecodeMLOptions(raw)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.General.ModelSequence, test.ShouldResemble, []string{"face", "alpr"})
	test.That(t, opts.Face.Sequence[0].IsEnabled(), test.ShouldBeFalse)
	test.That(t, opts.Face.Sequence[0].Extra, test.ShouldResemble, map[string]interface{}{"face_model": "cnn"})
	test.That(t, opts.Alpr.Sequence[0].PreExistingLabels, test.ShouldResemble, []string{"car", "bus"})
	test.That(t, opts.Alpr.General.SameModelSequenceStrategy, test.ShouldEqual, StrategyFirst)
	test.That(t, opts.ModelType("alpr"), test.ShouldEqual, opts.Alpr)
	test.That(t, opts.ModelType("lidar"), test.ShouldBeNil)

	test.That(t, opts.RemoteOverrides(), test.ShouldResemble, map[string]interface{}{
		"model_sequence": "face,alpr",
		"object":         map[string]interface{}{"pattern": nil},
		"face":           map[string]interface{}{"pattern": ".*"},
		"alpr":           map[string]interface{}{"pattern": ".*"},
	})

	_, err = DecodeMLOptions(map[string]interface{}{"general": map[string]interface{}{"model_sequence": "object,radar"}})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStreamOptionsJSON(t *testing.T) {
	raw, err := ParseLiteral(`{'frame_set': 'alarm,1,2', 'resize': 'no', 'strategy': 'first', 'max_attempts': 3,
		'sleep_between_attempts': 2, 'contig_frames_before_error': 5}`)
	test.That(t, err, test.ShouldBeNil)
	opts, err := DecodeStreamOptions(raw)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.FrameSet, test.ShouldResemble, []string{"alarm", "1", "2"})
	test.That(t, opts.Resize, test.ShouldEqual, 0)
	test.That(t, opts.FrameStrategy, test.ShouldEqual, StrategyFirst)
	test.That(t, opts.MaxAttempts, test.ShouldEqual, 3)

	opts.MonitorID = "4"
	opts.Polygons = []detection.Polygon{{Name: "yard", Points: []image.Point{{0, 0}, {1, 0}, {1, 1}}}}
	out, err := json.Marshal(opts)
	test.That(t, err, test.ShouldBeNil)

	var decoded map[string]interface{}
	test.That(t, json.Unmarshal(out, &decoded), test.ShouldBeNil)
	test.That(t, decoded["frame_set"], test.ShouldEqual, "alarm,1,2")
	test.That(t, decoded["resize"], test.ShouldBeNil)
	test.That(t, decoded["frame_strategy"], test.ShouldEqual, "first")
	test.That(t, decoded["monitorid"], test.ShouldEqual, "4")
	test.That(t, decoded["contig_frames_before_error"], test.ShouldEqual, 5.0)
	test.That(t, decoded["polygons"], test.ShouldHaveLength, 1)
}
