package retinaface

import (
	"fmt"
	"image"
	"sync"

	"github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
	"gocv.io/x/gocv"

	"github.com/dudu/retinaface/internal/anchor"
	"github.com/dudu/retinaface/internal/detector"
	"github.com/dudu/retinaface/internal/head"
	"github.com/dudu/retinaface/internal/inference"
)

// Options configures the ONNX backed detector
type Options struct {
	ModelPath string
	// InputWidth and InputHeight fix the network resolution; zero runs
	// at each image's own size, which needs a model with dynamic axes
	InputWidth  int
	InputHeight int

	InputName     string
	LocName       string
	ConfName      string
	LandmarksName string

	// Mean is subtracted per BGR channel
	Mean   [3]float64
	CoreML bool
}

// DefaultOptions returns the names and mean of the exported RetinaFace graph
func DefaultOptions(modelPath string) Options {
	return Options{
		ModelPath:     modelPath,
		InputName:     "input",
		LocName:       "loc",
		ConfName:      "conf",
		LandmarksName: "landmarks",
		Mean:          [3]float64{104, 117, 123},
	}
}

// RetinaFace runs a RetinaFace network and decodes its dense head
type RetinaFace struct {
	session *inference.Session
	opts    Options
	anchors *anchor.Cache
	decoder *detector.Decoder
	log     logrus.FieldLogger

	// the session reuses bound tensors
	mu sync.Mutex
}

// New creates a detector. The anchor cache must match the network's
// anchor layout. inference.Initialize must have been called.
func New(opts Options, anchors *anchor.Cache, decoder *detector.Decoder, log logrus.FieldLogger) (*RetinaFace, error) {
	if opts.InputWidth < 0 || opts.InputHeight < 0 {
		return nil, fmt.Errorf("invalid input size %dx%d", opts.InputWidth, opts.InputHeight)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	session, err := inference.NewSession(
		opts.ModelPath,
		[]string{opts.InputName},
		[]string{opts.LocName, opts.ConfName, opts.LandmarksName},
		inference.SessionOptions{CoreML: opts.CoreML, Log: log},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create RetinaFace session: %w", err)
	}

	return &RetinaFace{
		session: session,
		opts:    opts,
		anchors: anchors,
		decoder: decoder,
		log:     log,
	}, nil
}

// inputSize returns the network resolution used for an image
func (r *RetinaFace) inputSize(width, height int) (int, int) {
	w, h := r.opts.InputWidth, r.opts.InputHeight
	if w == 0 || h == 0 {
		return width, height
	}
	return w, h
}

// Predict runs the network on img and returns its raw head outputs along
// with the anchor set they index
func (r *RetinaFace) Predict(img gocv.Mat) (head.Prediction, *anchor.Set, error) {
	if img.Empty() {
		return head.Prediction{}, nil, fmt.Errorf("empty image")
	}

	w, h := r.inputSize(img.Cols(), img.Rows())
	anchors, err := r.anchors.Get(w, h)
	if err != nil {
		return head.Prediction{}, nil, fmt.Errorf("failed to build anchors: %w", err)
	}
	n := int64(anchors.Len())

	blob := gocv.BlobFromImage(img, 1.0, image.Pt(w, h),
		gocv.NewScalar(r.opts.Mean[0], r.opts.Mean[1], r.opts.Mean[2], 0), false, false)
	defer blob.Close()

	blobData, err := blob.DataPtrFloat32()
	if err != nil {
		return head.Prediction{}, nil, fmt.Errorf("failed to read input blob: %w", err)
	}
	inputData := make([]float32, len(blobData))
	copy(inputData, blobData)

	r.mu.Lock()
	defer r.mu.Unlock()

	inputTensor, err := inference.CreateTensor([]int64{1, 3, int64(h), int64(w)}, inputData)
	if err != nil {
		return head.Prediction{}, nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	shapes := [][]int64{{1, n, head.BoxDims}, {1, n, 2}, {1, n, head.LandmarkDims}}
	outputTensors := make([]*ort.Tensor[float32], 0, len(shapes))
	defer func() {
		for _, t := range outputTensors {
			t.Destroy()
		}
	}()
	outputs := make([]ort.Value, 0, len(shapes))
	for _, shape := range shapes {
		t, err := inference.CreateEmptyTensor[float32](shape)
		if err != nil {
			return head.Prediction{}, nil, fmt.Errorf("failed to create output tensor: %w", err)
		}
		outputTensors = append(outputTensors, t)
		outputs = append(outputs, t)
	}

	if err := r.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return head.Prediction{}, nil, fmt.Errorf("inference failed: %w", err)
	}

	pred, err := head.FromSlices(
		cloneData(outputTensors[1]),
		cloneData(outputTensors[0]),
		cloneData(outputTensors[2]),
	)
	if err != nil {
		return head.Prediction{}, nil, err
	}
	if err := pred.Validate(anchors.Len()); err != nil {
		return head.Prediction{}, nil, err
	}
	return pred, anchors, nil
}

// Detect finds faces in an image, in the image's own pixel coordinates
func (r *RetinaFace) Detect(img gocv.Mat) ([]detector.Face, error) {
	pred, anchors, err := r.Predict(img)
	if err != nil {
		return nil, err
	}

	faces, err := r.decoder.Decode(pred, anchors)
	if err != nil {
		return nil, fmt.Errorf("decode failed: %w", err)
	}

	if anchors.Width() != img.Cols() || anchors.Height() != img.Rows() {
		faces = detector.Rescale(faces,
			float32(img.Cols())/float32(anchors.Width()),
			float32(img.Rows())/float32(anchors.Height()))
	}

	r.log.WithFields(logrus.Fields{
		"anchors": anchors.Len(),
		"faces":   len(faces),
	}).Debug("detected")
	return faces, nil
}

// Close releases detector resources
func (r *RetinaFace) Close() error {
	return r.session.Destroy()
}

// tensor data is owned by the ORT value and freed on Destroy
func cloneData(t *ort.Tensor[float32]) []float32 {
	data := t.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out
}
