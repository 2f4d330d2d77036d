package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dudu/retinaface/internal/anchor"
	"github.com/dudu/retinaface/internal/detector"
)

func TestForNetwork_Presets(t *testing.T) {
	for _, name := range Networks() {
		t.Run(name, func(t *testing.T) {
			cfg, err := ForNetwork(name)
			require.NoError(t, err)
			assert.NoError(t, cfg.Validate())
			assert.Equal(t, 16800, anchor.Count(640, 640, cfg.AnchorConfig()))
		})
	}
	assert.Len(t, Networks(), 7)
}

func TestForNetwork_Unknown(t *testing.T) {
	_, err := ForNetwork("vgg16")
	assert.ErrorIs(t, err, ErrUnknownNetwork)

	_, err = Parse([]byte(`{"network": "vgg16"}`))
	assert.ErrorIs(t, err, ErrUnknownNetwork)
}

func TestDefault_Conversions(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultNetwork, cfg.Network)

	ac := cfg.AnchorConfig()
	require.Len(t, ac.Stages, 3)
	assert.Equal(t, 8, ac.Stages[0].Stride)
	assert.Equal(t, anchor.Template{Width: 512, Height: 512}, ac.Stages[2].Templates[1])
	assert.Equal(t, cfg.Anchors, anchorSettings(ac))

	assert.Equal(t, float32(0.1), cfg.CodecVariance()[0])
	assert.Equal(t, float32(0.2), cfg.CodecVariance()[1])
	assert.Equal(t, float32(0.35), cfg.AssignConfig().PositiveThreshold)
	assert.Equal(t, 7, cfg.LossConfig().NegPosRatio)
	assert.Equal(t, float32(2), cfg.LossConfig().BoxWeight)

	dc := cfg.DecodeConfig()
	assert.Equal(t, detector.ScoreProbability, dc.Score)
	assert.Equal(t, 5000, dc.PreNMSTopK)
	assert.Equal(t, 750, dc.PostNMSTopK)
	assert.Equal(t, float32(0.6), cfg.VisThreshold)
}

func TestParse_OverlaysPreset(t *testing.T) {
	cfg, err := Parse([]byte(`{
		"network": "resnet50",
		"decode": {"conf_threshold": 0.4, "score_mode": "softmax"},
		"model": {"input_width": 640, "input_height": 480}
	}`))
	require.NoError(t, err)

	assert.Equal(t, "resnet50", cfg.Network)
	assert.Equal(t, "weights/retinaface_r50.onnx", cfg.Model.Path)
	assert.Equal(t, 640, cfg.Model.InputWidth)
	assert.Equal(t, "loc", cfg.Model.LocName)
	assert.Equal(t, float32(0.4), cfg.Decode.ConfThreshold)
	assert.Equal(t, float32(0.4), cfg.Decode.NMSThreshold)
	assert.Len(t, cfg.Anchors.Stages, 3)
}

func TestParse_ReplacesStages(t *testing.T) {
	cfg, err := Parse([]byte(`{"anchors": {"stages": [{"stride": 16, "templates": [[32, 32]]}]}}`))
	require.NoError(t, err)

	assert.Equal(t, 1600, anchor.Count(640, 640, cfg.AnchorConfig()))
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"syntax", `{"network": `},
		{"zero stride", `{"anchors": {"stages": [{"stride": 0, "templates": [[16, 16]]}]}}`},
		{"no templates", `{"anchors": {"stages": [{"stride": 8, "templates": []}]}}`},
		{"negative template", `{"anchors": {"stages": [{"stride": 8, "templates": [[16, -1]]}]}}`},
		{"descending strides", `{"anchors": {"stages": [{"stride": 16, "templates": [[16, 16]]}, {"stride": 8, "templates": [[16, 16]]}]}}`},
		{"zero variance", `{"variance": [0.1, 0]}`},
		{"band above positive", `{"assign": {"positive_threshold": 0.35, "negative_threshold": 0.5}}`},
		{"band equal to positive", `{"assign": {"positive_threshold": 0.35, "negative_threshold": 0.35}}`},
		{"score mode", `{"decode": {"score_mode": "argmax"}}`},
		{"nms threshold", `{"decode": {"nms_threshold": 2}}`},
		{"negative ratio", `{"loss": {"neg_pos_ratio": -1}}`},
		{"vis threshold", `{"vis_threshold": 1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestLoad_RoundTripsWrite(t *testing.T) {
	cfg := Default()
	cfg.Assign.NegativeThreshold = 0.2
	cfg.Loss.MinNegatives = 16

	var buf bytes.Buffer
	require.NoError(t, cfg.Write(&buf))

	path := filepath.Join(t.TempDir(), "retinaface.json")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)

	_, err = Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
