package classifier

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestONNXNetworkForwardAfterClose(t *testing.T) {
	n := &onnxNetwork{}
	require.NoError(t, n.Close())
	_, err := n.Forward(make([]float32, 3*InputSize*InputSize))
	require.Error(t, err)
	require.Contains(t, err.Error(), "closed")
}
