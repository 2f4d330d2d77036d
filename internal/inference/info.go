package inference

import (
	"errors"
	"fmt"
	"sort"

	ort "github.com/yalue/onnxruntime_go"
)

// IOInfo describes one model input or output
type IOInfo struct {
	Name       string
	Dimensions []int64
	DataType   string
}

// ModelInfo lists a model's inputs and outputs in declaration order
type ModelInfo struct {
	Inputs  []IOInfo
	Outputs []IOInfo
	// Producer is empty when the model carries no metadata
	Producer string
}

// Output returns the named output
func (m ModelInfo) Output(name string) (IOInfo, bool) {
	for _, o := range m.Outputs {
		if o.Name == name {
			return o, true
		}
	}
	return IOInfo{}, false
}

// Inspect reads a model's input/output description without creating a
// session. Initialize must have been called.
func Inspect(modelPath string) (ModelInfo, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return ModelInfo{}, fmt.Errorf("failed to get model info for %s: %w", modelPath, err)
	}

	info := ModelInfo{
		Inputs:  convertIO(inputs),
		Outputs: convertIO(outputs),
	}

	metadata, err := ort.GetModelMetadata(modelPath)
	if err == nil {
		if producer, err := metadata.GetProducerName(); err == nil {
			info.Producer = producer
		}
		metadata.Destroy()
	}
	return info, nil
}

func convertIO(in []ort.InputOutputInfo) []IOInfo {
	out := make([]IOInfo, len(in))
	for i, v := range in {
		out[i] = IOInfo{
			Name:       v.Name,
			Dimensions: []int64(v.Dimensions),
			DataType:   fmt.Sprint(v.DataType),
		}
	}
	return out
}

// DynamicDim marks an axis whose size is chosen at run time
const DynamicDim = -1

// MatchDims reports whether got fits want, treating DynamicDim or any
// negative entry in got as a wildcard
func MatchDims(got []int64, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] < 0 {
			continue
		}
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

// CheckOutputs verifies each named output exists with dimensions matching
// want
func (m ModelInfo) CheckOutputs(want map[string][]int64) error {
	names := make([]string, 0, len(want))
	for name := range want {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		o, ok := m.Output(name)
		if !ok {
			errs = append(errs, fmt.Errorf("output %q missing", name))
			continue
		}
		if !MatchDims(o.Dimensions, want[name]) {
			errs = append(errs, fmt.Errorf("output %q has shape %v, want %v", name, o.Dimensions, want[name]))
		}
	}
	return errors.Join(errs...)
}
