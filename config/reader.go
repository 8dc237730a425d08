package config

import (
	"bytes"
	"io"
	"strings"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gopkg.in/ini.v1"

	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/logging"
)

const (
	monitorSectionPrefix = "monitor-"
	secretsSection       = "secrets"
	zonePatternSuffix    = "_zone_detection_pattern"
)

var loadOptions = ini.LoadOptions{
	Insensitive:                true,
	IgnoreInlineComment:        true,
	AllowPythonMultilineValues: true,
	PreserveSurroundedQuote:    true,
	SkipUnrecognizableLines:    true,
	// sequence literals span many lines and are peeked in one read
	ReaderBufferSize: 1 << 20,
}

// Read reads the configuration file at path, expanding environment variables first. When
// monitorID is set the matching monitor section is applied on top of the general settings.
func Read(path, monitorID string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %s", path)
	}
	return FromReader(path, bytes.NewReader(buf), monitorID, logger)
}

// FromReader reads a configuration from r. originalPath is only used in messages.
func FromReader(originalPath string, r io.Reader, monitorID string, logger logging.Logger) (*Config, error) {
	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read config %s", originalPath)
	}
	file, err := ini.LoadSources(loadOptions, padBlankContinuationLines(buf))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse config %s", originalPath)
	}

	cfg := New(nil)
	cfg.Path = originalPath
	cfg.MonitorID = monitorID
	for _, sec := range file.Sections() {
		if strings.HasPrefix(sec.Name(), monitorSectionPrefix) {
			continue
		}
		for _, key := range sec.Keys() {
			cfg.values[key.Name()] = key.Value()
		}
	}

	if path := cfg.String("secrets"); path != "" {
		if cfg.secrets, err = ReadSecrets(path); err != nil {
			return nil, err
		}
	}

	var allErrs error
	for _, key := range cfg.Keys() {
		v, err := cfg.resolveSecret(cfg.values[key])
		allErrs = multierr.Append(allErrs, errors.Wrapf(err, "key %s", key))
		cfg.values[key] = v
	}

	if monitorID != "" {
		if sec, err := file.GetSection(monitorSectionPrefix + monitorID); err == nil {
			logger.Debugf("applying settings of monitor %s", monitorID)
			allErrs = multierr.Append(allErrs, cfg.applyMonitorSection(sec, logger))
		}
	}
	if allErrs != nil {
		return nil, allErrs
	}

	if err := cfg.ReplacePlaceholders(); err != nil {
		// unresolved placeholders stay in place, the detectors report what they cannot use
		logger.Warnw("unresolved config placeholders", "error", err)
	}
	return cfg, nil
}

// padBlankContinuationLines turns the empty lines inside an indented multi-line value into a
// single space, so the value goes on until the next unindented line as with Python's configparser.
func padBlankContinuationLines(buf []byte) []byte {
	lines := bytes.Split(buf, []byte("\n"))
	inValue := false
	for i, line := range lines {
		switch {
		case len(bytes.TrimSpace(line)) == 0:
			if inValue && nextLineIsIndented(lines[i+1:]) {
				lines[i] = []byte(" ")
			}
		case line[0] == ' ' || line[0] == '\t':
		case line[0] == '[' || line[0] == '#' || line[0] == ';':
			inValue = false
		default:
			inValue = bytes.ContainsAny(line, "=:")
		}
	}
	return bytes.Join(lines, []byte("\n"))
}

// nextLineIsIndented is true when the first non blank line of lines starts with whitespace.
func nextLineIsIndented(lines [][]byte) bool {
	for _, line := range lines {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		return line[0] == ' ' || line[0] == '\t'
	}
	return false
}

// ReadSecrets reads the [secrets] section of the secrets file at path.
func ReadSecrets(path string) (map[string]string, error) {
	buf, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read secrets %s", path)
	}
	file, err := ini.LoadSources(loadOptions, buf)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot parse secrets %s", path)
	}
	sec, err := file.GetSection(secretsSection)
	if err != nil {
		return nil, errors.Wrapf(err, "no [%s] section in %s", secretsSection, path)
	}
	return sec.KeysHash(), nil
}

// resolveSecret replaces a value of the form "!TOKEN" with the TOKEN secret.
func (cfg *Config) resolveSecret(value string) (string, error) {
	if !strings.HasPrefix(value, "!") {
		return value, nil
	}
	token := strings.TrimPrefix(value, "!")
	if cfg.secrets == nil {
		return value, errors.Errorf("secret token %s found, but no secrets file specified", token)
	}
	secret, ok := cfg.Secret(token)
	if !ok {
		return value, errors.Errorf("secret token %s not found in secrets file", token)
	}
	return secret, nil
}

// applyMonitorSection overrides known keys with the monitor's values. Any other key declares a
// zone polygon, whose label pattern is set with <zone>_zone_detection_pattern.
func (cfg *Config) applyMonitorSection(sec *ini.Section, logger logging.Logger) error {
	var allErrs error
	patterns := map[string]string{}
	for _, key := range sec.Keys() {
		name := key.Name()
		value, err := cfg.resolveSecret(key.Value())
		if err != nil {
			allErrs = multierr.Append(allErrs, errors.Wrapf(err, "monitor %s key %s", cfg.MonitorID, name))
			continue
		}
		switch {
		case strings.HasSuffix(name, zonePatternSuffix):
			patterns[strings.TrimSuffix(name, zonePatternSuffix)] = value
		case cfg.isKnown(name):
			logger.Debugf("monitor %s overrides %s=%s", cfg.MonitorID, name, value)
			cfg.values[name] = value
		default:
			points, err := detection.ParsePoints(value)
			if err != nil {
				allErrs = multierr.Append(allErrs, errors.Wrapf(err, "zone %s of monitor %s", name, cfg.MonitorID))
				continue
			}
			cfg.Polygons = append(cfg.Polygons, detection.Polygon{Name: name, Points: points})
		}
	}
	for i, p := range cfg.Polygons {
		if pattern, ok := patterns[p.Name]; ok {
			cfg.Polygons[i].Pattern = pattern
		}
	}
	return allErrs
}

func (cfg *Config) isKnown(key string) bool {
	_, ok := cfg.values[key]
	return ok
}
