package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
)

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualTrimmed := strings.TrimSuffix(output, "\n")
	actualParts := strings.Split(actualTrimmed, "\t")
	expectedParts := strings.Split(expected, "\t")
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Log level.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	// Logger name.
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	// Filename:line_number.
	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	// Log message.
	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])

	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	if len(actualParts) == 5 {
		return
	}

	// JSON encoding of maps can be unpredictable because map iteration order can change between
	// runs. Parse the output into maps and assert on map equality.
	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func newBufferLogger(name string, level Level) (Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	logger := &impl{name, NewAtomicLevelAt(level), true, []Appender{NewWriterAppender(buf)}}
	return logger, buf
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, buf := newBufferLogger("zmesdetect", INFO)

	logger.Info("Connecting with ZM APIs")
	assertLogMatches(t, buf,
		`2023-10-30T09:12:09.459Z	INFO	zmesdetect	logging/impl_test.go:68	Connecting with ZM APIs`)

	logger.Infof("Sleeping for %d seconds before inferencing", 3)
	assertLogMatches(t, buf,
		`2023-10-30T09:12:09.459Z	INFO	zmesdetect	logging/impl_test.go:72	Sleeping for 3 seconds before inferencing`)

	logger.Infow("prediction", "labels", []string{"person", "car"}, "frame_id", "alarm")
	assertLogMatches(t, buf,
		`2023-10-30T09:12:09.459Z	INFO	zmesdetect	logging/impl_test.go:76	prediction	{"labels":["person","car"],"frame_id":"alarm"}`)

	logger.Warnw("unpaired", "key")
	assertLogMatches(t, buf,
		`2023-10-30T09:12:09.459Z	WARN	zmesdetect	logging/impl_test.go:80	unpaired	{"key":"unpaired log key"}`)
}

func TestLevels(t *testing.T) {
	logger, buf := newBufferLogger("zmesdetect", INFO)

	logger.Debug("hidden")
	logger.Debugf("hidden %d", 1)
	test.That(t, buf.Len(), test.ShouldEqual, 0)

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	logger.Debug("visible")
	test.That(t, buf.String(), test.ShouldContainSubstring, "DEBUG")
	test.That(t, buf.String(), test.ShouldContainSubstring, "visible")

	buf.Reset()
	logger.SetLevel(ERROR)
	logger.Warn("hidden")
	logger.Error("shown")
	test.That(t, buf.String(), test.ShouldNotContainSubstring, "hidden")
	test.That(t, buf.String(), test.ShouldContainSubstring, "shown")
}

func TestLevelFromString(t *testing.T) {
	for input, expected := range map[string]Level{
		"debug":   DEBUG,
		"INFO":    INFO,
		"Warning": WARN,
		"error":   ERROR,
		"fatal":   ERROR,
	} {
		level, err := LevelFromString(input)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, expected)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var level Level
	test.That(t, json.Unmarshal([]byte(`"warn"`), &level), test.ShouldBeNil)
	test.That(t, level, test.ShouldEqual, WARN)
	out, err := json.Marshal(ERROR)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(out), test.ShouldEqual, `"Error"`)
}

func TestSublogger(t *testing.T) {
	logger, buf := newBufferLogger("zmesdetect_m2", INFO)
	sub := logger.Sublogger("mlapi")
	sub.Info("Detecting using remote API Gateway")
	test.That(t, buf.String(), test.ShouldContainSubstring, "zmesdetect_m2.mlapi")

	// Levels are copied, not shared.
	sub.SetLevel(ERROR)
	test.That(t, logger.GetLevel(), test.ShouldEqual, INFO)
}

func TestFatalExits(t *testing.T) {
	logger, buf := newBufferLogger("zmesdetect", INFO)

	var exitCode int
	exitFunc = func(code int) { exitCode = code }
	defer func() { exitFunc = os.Exit }()

	logger.Fatalf("Unrecoverable error:%s", "boom")
	test.That(t, exitCode, test.ShouldEqual, 1)
	test.That(t, buf.String(), test.ShouldContainSubstring, "ERROR")
	test.That(t, buf.String(), test.ShouldContainSubstring, "Unrecoverable error:boom")
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Infow("writing detections", "monitor", "3")
	test.That(t, logs.FilterMessage("writing detections").Len(), test.ShouldEqual, 1)
	test.That(t, logs.All()[0].ContextMap()["monitor"], test.ShouldEqual, "3")
}

func TestNewFromOptions(t *testing.T) {
	dir := t.TempDir()
	logger, err := NewFromOptions(Options{Name: "zmesdetect_m1", LogPath: dir, MaxBackups: 1})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.GetLevel(), test.ShouldEqual, INFO)

	logger.Info("written to file")
	logger.Debug("not written")
	test.That(t, logger.Sync(), test.ShouldBeNil)

	contents, err := os.ReadFile(filepath.Join(dir, "zmesdetect_m1.log"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "written to file")
	test.That(t, string(contents), test.ShouldNotContainSubstring, "not written")

	logger, err = NewFromOptions(Options{Name: "zmesdetect", Debug: true})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
}

func TestNewFromOptionsConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewFromOptions(Options{Name: "zmesdetect", Debug: true, Console: true, ConsoleWriter: &buf})
	test.That(t, err, test.ShouldBeNil)
	logger.Debug("to the console")
	test.That(t, buf.String(), test.ShouldContainSubstring, "to the console")
	test.That(t, buf.String(), test.ShouldContainSubstring, "zmesdetect")
}
