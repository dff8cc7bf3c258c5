package classifier

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime(libraryPath string) error {
	ortInitOnce.Do(func() {
		if ort.IsInitialized() {
			return
		}
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			ortInitErr = fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	})
	return ortInitErr
}

type onnxNetwork struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

// NewONNXLoader returns a NetworkLoader backed by onnxruntime. libraryPath
// points at the onnxruntime shared library; empty uses the platform default.
func NewONNXLoader(libraryPath string) NetworkLoader {
	return func(modelPath string, meta *Metadata) (Network, error) {
		if err := initRuntime(libraryPath); err != nil {
			return nil, err
		}
		inputShape := ort.NewShape(1, 3, InputSize, InputSize)
		outputShape := ort.NewShape(1, int64(meta.OutputSize()))

		inputTensor, err := ort.NewEmptyTensor[float32](inputShape)
		if err != nil {
			return nil, fmt.Errorf("failed to create input tensor: %w", err)
		}
		outputTensor, err := ort.NewEmptyTensor[float32](outputShape)
		if err != nil {
			inputTensor.Destroy()
			return nil, fmt.Errorf("failed to create output tensor: %w", err)
		}
		session, err := ort.NewAdvancedSession(modelPath,
			[]string{meta.inputName()}, []string{meta.outputName()},
			[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
			nil)
		if err != nil {
			inputTensor.Destroy()
			outputTensor.Destroy()
			return nil, fmt.Errorf("failed to create ONNX session: %w", err)
		}
		return &onnxNetwork{
			session:      session,
			inputTensor:  inputTensor,
			outputTensor: outputTensor,
		}, nil
	}
}

// Forward is serialized: the session reads and writes fixed tensors.
func (n *onnxNetwork) Forward(input []float32) ([]float32, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.session == nil || n.inputTensor == nil || n.outputTensor == nil {
		return nil, fmt.Errorf("inference failed: network is closed")
	}
	dst := n.inputTensor.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(dst), len(input))
	}
	copy(dst, input)
	if err := n.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	src := n.outputTensor.GetData()
	out := make([]float32, len(src))
	copy(out, src)
	return out, nil
}

func (n *onnxNetwork) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.inputTensor != nil {
		n.inputTensor.Destroy()
		n.inputTensor = nil
	}
	if n.outputTensor != nil {
		n.outputTensor.Destroy()
		n.outputTensor = nil
	}
	if n.session != nil {
		n.session.Destroy()
		n.session = nil
	}
	return nil
}
