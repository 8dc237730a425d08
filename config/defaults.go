package config

// Values used when a key is missing from the configuration file.
var defaultValues = map[string]string{
	"secrets":        "",
	"base_data_path": "/var/lib/zmeventnotification",
	"image_path":     "{{base_data_path}}/images",

	"portal":            "",
	"api_portal":        "",
	"user":              "",
	"password":          "",
	"allow_self_signed": "yes",

	"log_path":        "/var/log/zm",
	"log_debug":       "no",
	"log_max_size_mb": "10",
	"log_max_backups": "3",

	"wait":              "0",
	"use_sequence":      "no",
	"ml_sequence":       "",
	"stream_sequence":   "",
	"ml_gateway":        "",
	"ml_user":           "",
	"ml_password":       "",
	"ml_fallback_local": "no",

	"detection_sequence": "object",
	"detection_mode":     "all",
	"frame_id":           "snapshot",
	"bestmatch_order":    "s,a",
	"resize":             "no",

	"object_detection_pattern": ".*",
	"face_detection_pattern":   ".*",
	"alpr_detection_pattern":   ".*",
	"max_detection_size":       "",

	"object_framework":      "onnx",
	"object_processor":      "cpu",
	"object_weights":        "",
	"object_labels":         "",
	"object_min_confidence": "0.3",

	"alpr_service":        "plate_recognizer",
	"alpr_url":            "",
	"alpr_key":            "",
	"alpr_api_type":       "cloud",
	"platerec_stats":      "no",
	"platerec_regions":    "",
	"platerec_min_dscore": "0.1",
	"platerec_min_score":  "0.2",

	"import_zm_zones":         "no",
	"only_triggered_zm_zones": "no",

	"match_past_detections":        "no",
	"past_det_max_diff_area":       "5%",
	"ignore_past_detection_labels": "",

	"show_percent":      "no",
	"write_image_to_zm": "yes",
	"write_debug_image": "no",
	"poly_color":        "(255,255,255)",
	"poly_thickness":    "2",

	"create_animation":      "no",
	"animation_types":       "animated_gif,mp4",
	"animation_width":       "640",
	"animation_retry_sleep": "15",
	"animation_max_tries":   "3",
	"animation_frames":      "",
	"fast_gif":              "no",
}
