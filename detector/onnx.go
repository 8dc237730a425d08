package detector

import (
	"bufio"
	"context"
	"image"
	"math"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/nfnt/resize"
	"github.com/pkg/errors"
	"github.com/spf13/cast"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/zmeventnotification/zmdetect/config"
	"github.com/zmeventnotification/zmdetect/detection"
	"github.com/zmeventnotification/zmdetect/logging"
)

const (
	defaultModelSize = 640
	iouThreshold     = 0.45
)

var ortEnv struct {
	once sync.Once
	err  error
}

// initONNXRuntime loads the onnxruntime shared library once per process. An empty path uses the
// platform default.
func initONNXRuntime(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXModel runs a YOLO detector exported to ONNX. The network takes a 1x3xHxW float input and
// produces a 1x(4+classes)xN output of centre/size boxes followed by per class scores.
type ONNXModel struct {
	name          string
	labels        []string
	width, height int
	minConfidence float64

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	logger  logging.Logger
}

// NewONNXModel loads the model weights and labels of opts.
func NewONNXModel(opts config.ModelOptions, logger logging.Logger) (*ONNXModel, error) {
	if opts.ObjectWeights == "" {
		return nil, errors.New("object_weights is required for onnx models")
	}
	labels, err := readLabels(opts.ObjectLabels)
	if err != nil {
		return nil, err
	}
	m := &ONNXModel{
		name:          opts.Name,
		labels:        labels,
		width:         opts.ModelWidth,
		height:        opts.ModelHeight,
		minConfidence: opts.ObjectMinConfidence,
		logger:        logger,
	}
	if m.name == "" {
		m.name = "onnx"
	}
	if m.width <= 0 {
		m.width = defaultModelSize
	}
	if m.height <= 0 {
		m.height = defaultModelSize
	}
	if p := strings.ToLower(opts.ObjectProcessor); p != "" && p != "cpu" {
		logger.Warnf("object_processor %q is not supported for onnx models, using the cpu", p)
	}

	if err := initONNXRuntime(cast.ToString(opts.Extra["onnx_runtime_path"])); err != nil {
		return nil, errors.Wrap(err, "cannot initialize onnxruntime")
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "error creating session options")
	}
	defer func() {
		utils.UncheckedError(options.Destroy())
	}()
	warnOnError(logger, options.SetIntraOpNumThreads(runtime.NumCPU()))
	warnOnError(logger, options.SetInterOpNumThreads(runtime.NumCPU()))

	inputShape := ort.NewShape(1, 3, int64(m.height), int64(m.width))
	outputShape := ort.NewShape(1, int64(4+len(labels)), int64(anchorCount(m.width, m.height)))
	m.input, err = ort.NewEmptyTensor[float32](inputShape)
	if err != nil {
		return nil, errors.Wrap(err, "error creating input tensor")
	}
	m.output, err = ort.NewEmptyTensor[float32](outputShape)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "error creating output tensor"), m.input.Destroy())
	}

	inputName := cast.ToString(opts.Extra["onnx_input_name"])
	if inputName == "" {
		inputName = "images"
	}
	outputName := cast.ToString(opts.Extra["onnx_output_name"])
	if outputName == "" {
		outputName = "output0"
	}
	m.session, err = ort.NewAdvancedSession(
		opts.ObjectWeights,
		[]string{inputName},
		[]string{outputName},
		[]ort.ArbitraryTensor{m.input},
		[]ort.ArbitraryTensor{m.output},
		options,
	)
	if err != nil {
		return nil, multierr.Combine(
			errors.Wrapf(err, "cannot load %s", opts.ObjectWeights), m.input.Destroy(), m.output.Destroy())
	}
	logger.Debugw("loaded onnx model", "name", m.name, "weights", opts.ObjectWeights, "classes", len(labels))
	return m, nil
}

func warnOnError(logger logging.Logger, err error) {
	if err != nil {
		logger.Warnw("cannot set onnx session option", "error", err)
	}
}

// Detect implements Model.
func (m *ONNXModel) Detect(ctx context.Context, img image.Image) ([]detection.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	resized := resize.Resize(uint(m.width), uint(m.height), img, resize.Bilinear)
	fillInput(resized, m.input.GetData())
	if err := m.session.Run(); err != nil {
		return nil, errors.Wrapf(err, "inference of %s failed", m.name)
	}
	scaleX := float64(img.Bounds().Dx()) / float64(m.width)
	scaleY := float64(img.Bounds().Dy()) / float64(m.height)
	dets := decodeYOLO(m.output.GetData(), m.labels, m.minConfidence, scaleX, scaleY,
		img.Bounds().Dx(), img.Bounds().Dy())
	for i := range dets {
		dets[i].Model = m.name
	}
	return nonMaxSuppression(dets, iouThreshold), nil
}

// Close releases the session and its tensors.
func (m *ONNXModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var err error
	if m.session != nil {
		err = multierr.Append(err, m.session.Destroy())
	}
	if m.input != nil {
		err = multierr.Append(err, m.input.Destroy())
	}
	if m.output != nil {
		err = multierr.Append(err, m.output.Destroy())
	}
	return err
}

// readLabels reads one label per line.
func readLabels(path string) ([]string, error) {
	if path == "" {
		return nil, errors.New("object_labels is required for onnx models")
	}
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot read labels")
	}
	defer func() {
		_ = f.Close()
	}()
	var labels []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if l := strings.TrimSpace(scanner.Text()); l != "" {
			labels = append(labels, l)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "cannot read labels %s", path)
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("no labels in %s", path)
	}
	return labels, nil
}

// anchorCount is the number of predictions of a YOLO head with strides 8, 16 and 32.
func anchorCount(width, height int) int {
	n := 0
	for _, s := range []int{8, 16, 32} {
		n += (width / s) * (height / s)
	}
	return n
}

// fillInput writes img into buf as planar RGB scaled to [0,1].
func fillInput(img image.Image, buf []float32) {
	b := img.Bounds()
	channelSize := b.Dx() * b.Dy()
	for y := 0; y < b.Dy(); y++ {
		offset := y * b.Dx()
		for x := 0; x < b.Dx(); x++ {
			i := offset + x
			r, g, bl, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			buf[i] = float32(r>>8) / 255.0
			buf[channelSize+i] = float32(g>>8) / 255.0
			buf[channelSize*2+i] = float32(bl>>8) / 255.0
		}
	}
}

// decodeYOLO turns raw predictions into detections at or above minConf. Boxes are scaled back
// to the frame and clamped to its bounds.
func decodeYOLO(pred []float32, labels []string, minConf, scaleX, scaleY float64, maxW, maxH int) []detection.Detection {
	stride := 4 + len(labels)
	if len(pred) == 0 || len(pred)%stride != 0 {
		return nil
	}
	n := len(pred) / stride
	var dets []detection.Detection
	for i := 0; i < n; i++ {
		best, bestScore := -1, float32(0)
		for c := range labels {
			if s := pred[(4+c)*n+i]; s > bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 || float64(bestScore) < minConf {
			continue
		}
		cx, cy := float64(pred[i]), float64(pred[n+i])
		w, h := float64(pred[2*n+i]), float64(pred[3*n+i])
		box := detection.Box{
			clamp(int(math.Round((cx-w/2)*scaleX)), 0, maxW),
			clamp(int(math.Round((cy-h/2)*scaleY)), 0, maxH),
			clamp(int(math.Round((cx+w/2)*scaleX)), 0, maxW),
			clamp(int(math.Round((cy+h/2)*scaleY)), 0, maxH),
		}
		dets = append(dets, detection.Detection{Label: labels[best], Box: box, Confidence: float64(bestScore)})
	}
	return dets
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func iou(a, b detection.Box) float64 {
	x1 := math.Max(float64(a[0]), float64(b[0]))
	y1 := math.Max(float64(a[1]), float64(b[1]))
	x2 := math.Min(float64(a[2]), float64(b[2]))
	y2 := math.Min(float64(a[3]), float64(b[3]))
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := (x2 - x1) * (y2 - y1)
	union := float64(a.Area()+b.Area()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// nonMaxSuppression keeps the most confident of overlapping boxes with the same label.
func nonMaxSuppression(dets []detection.Detection, threshold float64) []detection.Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
	kept := make([]detection.Detection, 0, len(dets))
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if k.Label == d.Label && iou(k.Box, d.Box) > threshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}
