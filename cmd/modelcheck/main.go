package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tsawler/go-metal/checkpoints"
	"gorgonia.org/tensor"

	"github.com/dudu/retinaface/internal/anchor"
	"github.com/dudu/retinaface/internal/config"
	"github.com/dudu/retinaface/internal/head"
	"github.com/dudu/retinaface/internal/inference"
)

type Config struct {
	ConfigPath string
	Network    string
	ModelPath  string
	Width      int
	Height     int
	Layers     bool
	Dump       bool
	Priors     int
}

func main() {
	cfg := parseFlags()

	if err := run(cfg); err != nil {
		fmt.Printf("❌ %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() Config {
	cfg := Config{}

	flag.StringVar(&cfg.ConfigPath, "config", "", "JSON config file (network preset when empty)")
	flag.StringVar(&cfg.Network, "network", config.DefaultNetwork, "Backbone network preset")
	flag.IntVar(&cfg.Width, "width", 640, "Input width to check when the model's is dynamic")
	flag.IntVar(&cfg.Height, "height", 640, "Input height to check when the model's is dynamic")
	flag.BoolVar(&cfg.Layers, "layers", false, "Also import the graph with go-metal and list its layers")
	flag.BoolVar(&cfg.Dump, "dump", false, "Print the effective config as JSON")
	flag.IntVar(&cfg.Priors, "priors", 0, "Print the first N priors (cx, cy, w, h)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "modelcheck - verify an exported RetinaFace model against its anchor layout\n\n")
		fmt.Fprintf(os.Stderr, "Usage: modelcheck [options] [model.onnx]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  modelcheck weights/retinaface_mv2.onnx\n")
		fmt.Fprintf(os.Stderr, "  modelcheck --network resnet50 --layers\n")
	}

	flag.Parse()
	cfg.ModelPath = flag.Arg(0)
	return cfg
}

func run(cfg Config) error {
	if err := config.LoadEnv(); err != nil {
		return err
	}

	o := config.Overrides{}
	if cfg.ConfigPath == "" {
		o.Network = &cfg.Network
	}
	if cfg.ModelPath != "" {
		o.ModelPath = &cfg.ModelPath
	}
	s, err := config.Resolve(cfg.ConfigPath, o)
	if err != nil {
		return err
	}

	if cfg.Dump {
		if err := s.Write(os.Stdout); err != nil {
			return err
		}
	}

	modelPath := s.Model.Path
	fmt.Printf("Testing ONNX model: %s (%s)\n", modelPath, s.Network)
	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		return fmt.Errorf("file not found: %s", modelPath)
	}

	fmt.Println("Initializing ONNX Runtime...")
	if err := inference.Initialize(s.Model.LibraryPath); err != nil {
		fmt.Printf("\nSet %s to the onnxruntime shared library path\n", config.EnvLibraryPath)
		return err
	}
	defer inference.Shutdown()

	info, err := inference.Inspect(modelPath)
	if err != nil {
		return err
	}

	fmt.Printf("\nInputs (%d):\n", len(info.Inputs))
	for _, in := range info.Inputs {
		fmt.Printf("  %s: shape=%v, type=%s\n", in.Name, in.Dimensions, in.DataType)
	}
	fmt.Printf("\nOutputs (%d):\n", len(info.Outputs))
	for _, out := range info.Outputs {
		fmt.Printf("  %s: shape=%v, type=%s\n", out.Name, out.Dimensions, out.DataType)
	}
	if info.Producer != "" {
		fmt.Printf("\nProducer: %s\n", info.Producer)
	}

	w, h := inputSize(info, s, cfg.Width, cfg.Height)
	n := int64(anchor.Count(w, h, s.AnchorConfig()))
	fmt.Printf("\nAnchors at %dx%d: %d\n", w, h, n)
	if cfg.Priors > 0 {
		if err := printPriors(w, h, s.AnchorConfig(), cfg.Priors); err != nil {
			return err
		}
	}

	err = info.CheckOutputs(map[string][]int64{
		s.Model.LocName:       {1, n, head.BoxDims},
		s.Model.ConfName:      {1, n, 2},
		s.Model.LandmarksName: {1, n, head.LandmarkDims},
	})
	if err != nil {
		return fmt.Errorf("model does not match the anchor layout:\n%w", err)
	}
	fmt.Println("\n✅ SUCCESS! Outputs match the anchor layout.")

	if cfg.Layers {
		return listLayers(modelPath)
	}
	return nil
}

// inputSize prefers the model's static input size, then the configured
// one, then the flag fallback
func inputSize(info inference.ModelInfo, s config.Config, width, height int) (int, int) {
	for _, in := range info.Inputs {
		if in.Name != s.Model.InputName || len(in.Dimensions) != 4 {
			continue
		}
		if h, w := in.Dimensions[2], in.Dimensions[3]; h > 0 && w > 0 {
			return int(w), int(h)
		}
	}
	if s.Model.InputWidth > 0 && s.Model.InputHeight > 0 {
		return s.Model.InputWidth, s.Model.InputHeight
	}
	return width, height
}

func printPriors(w, h int, ac anchor.Config, rows int) error {
	set, err := anchor.Generate(w, h, ac)
	if err != nil {
		return err
	}
	priors := set.Tensor()
	view, err := priors.Slice(tensor.S(0, min(rows, set.Len())))
	if err != nil {
		return err
	}
	fmt.Printf("Priors %v:\n%v\n", priors.Shape(), view)
	return nil
}

func listLayers(modelPath string) error {
	fmt.Println("\nAttempting to import with go-metal...")
	importer := checkpoints.NewONNXImporter()
	checkpoint, err := importer.ImportFromONNX(modelPath)
	if err != nil {
		fmt.Println("go-metal only supports: Conv, MatMul, Add, Relu, LeakyRelu,")
		fmt.Println("Sigmoid, Tanh, BatchNorm, Dropout, Softmax, Flatten")
		return fmt.Errorf("failed to import ONNX model: %w", err)
	}

	fmt.Printf("  Layers: %d\n", len(checkpoint.ModelSpec.Layers))
	fmt.Printf("  Weights: %d tensors\n", len(checkpoint.Weights))
	for i, layer := range checkpoint.ModelSpec.Layers {
		fmt.Printf("  %d: %s (%s)\n", i+1, layer.Name, layer.Type)
	}
	return nil
}
