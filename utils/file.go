// Package utils contains small helpers shared by the detect command.
package utils

import (
	"os"
	"path/filepath"
	"strings"

	"go.viam.com/utils"
)

// DefaultImageExt is used for output images whose source has no extension, e.g. an event id.
const DefaultImageExt = ".jpg"

// AppendSuffix inserts token between the base name and the extension of filename, e.g.
// "front.png" with "-alarm-debug" gives "front-alarm-debug.png". A name without extension gets
// DefaultImageExt.
func AppendSuffix(filename, token string) string {
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	if ext == "" {
		ext = DefaultImageExt
	}
	return base + token + ext
}

// RemoveFileNoError will remove the file at the given path if it exists. Any
// errors will be suppressed.
func RemoveFileNoError(path string) {
	utils.UncheckedErrorFunc(func() error {
		if _, err := os.Stat(path); err == nil {
			return os.Remove(path)
		}
		return nil
	})
}
