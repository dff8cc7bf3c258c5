package classifier

// Network runs one forward pass over a normalized CHW tensor and returns the
// raw logits.
type Network interface {
	Forward(input []float32) ([]float32, error)
	Close() error
}

// NetworkLoader builds a Network from a model artifact on local disk.
type NetworkLoader func(modelPath string, meta *Metadata) (Network, error)
