package config

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// placeholderRegexp matches references to other configuration keys.
// Example string satisfying the regex:
// {{base_data_path}}/images
var placeholderRegexp = regexp.MustCompile(`\{\{\s*(?P<placeholder_key>[\w.-]+)\s*\}\}`)

// secretPlaceholderRegexp matches references to secrets.
// Example string satisfying the regex:
// {[ALPR_KEY]}
var secretPlaceholderRegexp = regexp.MustCompile(`\{\[\s*(?P<secret_key>[\w.-]+)\s*\]\}`)

const maxPlaceholderDepth = 10

// ReplacePlaceholders fills the placeholders of every value. Values referencing unknown keys or
// secrets keep the placeholder and the returned error lists them.
func (cfg *Config) ReplacePlaceholders() error {
	var allErrs error
	for _, key := range cfg.Keys() {
		filled, err := cfg.fill(cfg.values[key], 0)
		allErrs = multierr.Append(allErrs, errors.Wrapf(err, "key %s", key))
		cfg.values[key] = filled
	}
	return allErrs
}

// Fill replaces {{key}} with the value of key and {[SECRET]} with a secret.
func (cfg *Config) Fill(s string) (string, error) {
	return cfg.fill(s, 0)
}

func (cfg *Config) fill(s string, depth int) (string, error) {
	if depth > maxPlaceholderDepth {
		return s, errors.Errorf("placeholders nested too deep in %q", s)
	}
	var allErrs error
	patched := placeholderRegexp.ReplaceAllStringFunc(s, func(match string) string {
		matches := placeholderRegexp.FindStringSubmatch(match)
		key := strings.ToLower(matches[placeholderRegexp.SubexpIndex("placeholder_key")])
		value, ok := cfg.values[key]
		if !ok {
			allErrs = multierr.Append(allErrs, errors.Errorf("unknown config key in placeholder %q", match))
			return match
		}
		filled, err := cfg.fill(value, depth+1)
		allErrs = multierr.Append(allErrs, err)
		return filled
	})
	patched = secretPlaceholderRegexp.ReplaceAllStringFunc(patched, func(match string) string {
		matches := secretPlaceholderRegexp.FindStringSubmatch(match)
		secret, ok := cfg.Secret(matches[secretPlaceholderRegexp.SubexpIndex("secret_key")])
		if !ok {
			allErrs = multierr.Append(allErrs, errors.Errorf("unknown secret in placeholder %q", match))
			return match
		}
		return secret
	})
	return patched, allErrs
}
