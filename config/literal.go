package config

import (
	"reflect"
	"strings"
	"unicode"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"github.com/yosuke-furukawa/json5/encoding/json5"
)

var pythonKeywords = map[string]string{
	"True":  "true",
	"False": "false",
	"None":  "null",
}

// ParseLiteral parses a dictionary literal as written in sequence settings. Both JSON5 and
// Python dictionary syntax are accepted: single quoted strings, True/False/None, tuples,
// trailing commas and # comments.
func ParseLiteral(s string) (map[string]interface{}, error) {
	normalized := normalizeLiteral(s)
	var out map[string]interface{}
	if err := json5.Unmarshal([]byte(normalized), &out); err != nil {
		return nil, errors.Wrap(err, "invalid sequence literal")
	}
	if out == nil {
		return nil, errors.New("sequence literal is not a dictionary")
	}
	return out, nil
}

// normalizeLiteral rewrites Python literal syntax into JSON5.
func normalizeLiteral(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\'' || r == '"':
			i = writeString(&sb, runes, i)
		case r == '#':
			for i < len(runes) && runes[i] != '\n' {
				i++
			}
			if i < len(runes) {
				sb.WriteRune('\n')
			}
		case r == '(':
			sb.WriteRune('[')
		case r == ')':
			sb.WriteRune(']')
		case unicode.IsLetter(r) || r == '_':
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_') {
				j++
			}
			word := string(runes[i:j])
			if kw, ok := pythonKeywords[word]; ok {
				word = kw
			}
			sb.WriteString(word)
			i = j - 1
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// writeString copies the string starting at runes[start] as a double quoted string and returns
// the index of its closing quote.
func writeString(sb *strings.Builder, runes []rune, start int) int {
	quote := runes[start]
	sb.WriteRune('"')
	i := start + 1
	for ; i < len(runes); i++ {
		r := runes[i]
		switch {
		case r == '\\' && i+1 < len(runes):
			i++
			if runes[i] == '\'' {
				sb.WriteRune('\'')
			} else {
				sb.WriteRune('\\')
				sb.WriteRune(runes[i])
			}
		case r == quote:
			sb.WriteRune('"')
			return i
		case r == '"':
			sb.WriteString(`\"`)
		case r == '\n':
			sb.WriteString(`\n`)
		default:
			sb.WriteRune(r)
		}
	}
	sb.WriteRune('"')
	return i
}

// decode maps a parsed literal onto out. String values are converted to the field types, and
// comma separated strings to slices.
func decode(in interface{}, out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       stringToListHook,
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(in)
}

func stringToListHook(from, to reflect.Type, data interface{}) (interface{}, error) {
	if from.Kind() != reflect.String || to.Kind() != reflect.Slice {
		return data, nil
	}
	return splitList(reflect.ValueOf(data).String()), nil
}
