// Package autoencoder loads a frozen model bundle and scores encoded rows by
// reconstruction error. Training happens offline; this package is inference
// only and a missing bundle is a first-class failure, never a trigger for
// training on the request path.
package autoencoder

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"time"

	"anomaly-backend/internal/apperr"
	"anomaly-backend/internal/feature"
)

// Activation function names accepted in a bundle.
const (
	ActivationReLU    = "relu"
	ActivationTanh    = "tanh"
	ActivationSigmoid = "sigmoid"
	ActivationLinear  = "linear"
)

// Layer is one dense layer of the frozen network. Weights are stored
// [output][input].
type Layer struct {
	Weights    [][]float64 `json:"weights"`
	Biases     []float64   `json:"biases"`
	Activation string      `json:"activation"`
}

func (l *Layer) apply(in []float64) []float64 {
	out := make([]float64, len(l.Weights))
	for i, row := range l.Weights {
		sum := l.Biases[i]
		for j, w := range row {
			sum += w * in[j]
		}
		out[i] = activate(l.Activation, sum)
	}
	return out
}

func activate(name string, x float64) float64 {
	switch name {
	case ActivationReLU:
		if x < 0 {
			return 0
		}
		return x
	case ActivationTanh:
		return math.Tanh(x)
	case ActivationSigmoid:
		return 1 / (1 + math.Exp(-x))
	default: // linear
		return x
	}
}

// Bundle is the frozen artifact produced by offline training: the feature
// codec, the network weights, and the anomaly threshold derived as a fixed
// percentile of training-set reconstruction errors.
type Bundle struct {
	ModelName           string        `json:"model_name"`
	TrainedAt           time.Time     `json:"trained_at"`
	Threshold           float64       `json:"threshold"`
	ThresholdPercentile float64       `json:"threshold_percentile"`
	Codec               feature.Codec `json:"codec"`
	Encoder             []Layer       `json:"encoder"`
	Decoder             []Layer       `json:"decoder"`
}

// LoadBundle reads and validates a frozen bundle from disk. A missing file
// maps to ErrModelUnavailable so callers can fail fast.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: bundle file %s not found", apperr.ErrModelUnavailable, path)
		}
		return nil, fmt.Errorf("failed to read bundle: %w", err)
	}

	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("failed to decode bundle: %w", err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("invalid bundle: %w", err)
	}
	return &b, nil
}

// Validate checks the codec and that layer dimensions chain from the encoded
// width through the network and back.
func (b *Bundle) Validate() error {
	if err := b.Codec.Validate(); err != nil {
		return err
	}
	if b.Threshold < 0 {
		return fmt.Errorf("threshold must be non-negative, got %v", b.Threshold)
	}
	if len(b.Encoder) == 0 || len(b.Decoder) == 0 {
		return fmt.Errorf("bundle must contain encoder and decoder layers")
	}

	width := b.Codec.Width()
	in := width
	for i, layers := range [][]Layer{b.Encoder, b.Decoder} {
		name := [2]string{"encoder", "decoder"}[i]
		for j := range layers {
			l := &layers[j]
			if len(l.Weights) == 0 || len(l.Weights) != len(l.Biases) {
				return fmt.Errorf("%s layer %d: weights/biases size mismatch", name, j)
			}
			for _, row := range l.Weights {
				if len(row) != in {
					return fmt.Errorf("%s layer %d: expected input width %d, got %d", name, j, in, len(row))
				}
			}
			in = len(l.Weights)
		}
	}
	if in != width {
		return fmt.Errorf("decoder output width %d does not match encoded width %d", in, width)
	}
	return nil
}

// Reconstruct runs a full forward pass through encoder and decoder.
func (b *Bundle) Reconstruct(vec []float64) []float64 {
	h := vec
	for i := range b.Encoder {
		h = b.Encoder[i].apply(h)
	}
	for i := range b.Decoder {
		h = b.Decoder[i].apply(h)
	}
	return h
}
