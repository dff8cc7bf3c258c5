package classifier

import (
	"encoding/json"
	"fmt"
)

// Metadata is the sidecar published next to the model artifact. Only
// ClassNames is required; the remaining fields describe how the artifact was
// exported.
type Metadata struct {
	ClassNames        []string       `json:"class_names"`
	NumClasses        int            `json:"num_classes,omitempty"`
	ModelArchitecture string         `json:"model_architecture,omitempty"`
	InputSize         []int          `json:"input_size,omitempty"`
	Normalization     *Normalization `json:"normalization,omitempty"`
	InputName         string         `json:"input_name,omitempty"`
	OutputName        string         `json:"output_name,omitempty"`
}

type Normalization struct {
	Mean []float32 `json:"mean"`
	Std  []float32 `json:"std"`
}

func ParseMetadata(data []byte) (*Metadata, error) {
	var meta Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("parse model metadata: %w", err)
	}
	if len(meta.ClassNames) == 0 {
		return nil, fmt.Errorf("model metadata has no class_names")
	}
	if meta.NumClasses < 0 {
		return nil, fmt.Errorf("model metadata num_classes must be positive, got %d", meta.NumClasses)
	}
	return &meta, nil
}

// OutputSize is the width of the network's logit vector. It trusts
// num_classes when present and does not check it against ClassNames.
func (m *Metadata) OutputSize() int {
	if m.NumClasses > 0 {
		return m.NumClasses
	}
	return len(m.ClassNames)
}

func (m *Metadata) inputName() string {
	if m.InputName == "" {
		return "input"
	}
	return m.InputName
}

func (m *Metadata) outputName() string {
	if m.OutputName == "" {
		return "output"
	}
	return m.OutputName
}

// CheckPreprocessing reports an error when the sidecar declares an input size
// or normalization that differs from the fixed preprocessing applied at
// inference time.
func (m *Metadata) CheckPreprocessing() error {
	if len(m.InputSize) > 0 {
		if len(m.InputSize) != 2 || m.InputSize[0] != InputSize || m.InputSize[1] != InputSize {
			return fmt.Errorf("model input_size %v does not match %dx%d", m.InputSize, InputSize, InputSize)
		}
	}
	if m.Normalization == nil {
		return nil
	}
	if !sameStats(m.Normalization.Mean, ChannelMean[:]) || !sameStats(m.Normalization.Std, ChannelStd[:]) {
		return fmt.Errorf("model normalization mean=%v std=%v does not match mean=%v std=%v",
			m.Normalization.Mean, m.Normalization.Std, ChannelMean, ChannelStd)
	}
	return nil
}

func sameStats(got, want []float32) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		d := got[i] - want[i]
		if d > 1e-6 || d < -1e-6 {
			return false
		}
	}
	return true
}
