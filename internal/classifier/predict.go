package classifier

import (
	"fmt"
	"math"
)

type Prediction struct {
	Class      string
	Index      int
	Confidence float64
}

// Softmax converts logits into a probability distribution.
func Softmax(logits []float32) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}
	probs := make([]float64, len(logits))
	var sum float64
	for i, v := range logits {
		probs[i] = math.Exp(float64(v) - maxLogit)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}
	return probs
}

// Argmax returns the first index holding the largest value.
func Argmax(values []float64) int {
	best := 0
	for i, v := range values {
		if v > values[best] {
			best = i
		}
	}
	return best
}

func predict(logits []float32, classNames []string) (Prediction, error) {
	if len(logits) == 0 {
		return Prediction{}, fmt.Errorf("model produced no output")
	}
	probs := Softmax(logits)
	idx := Argmax(probs)
	conf := probs[idx]
	if math.IsNaN(conf) || math.IsInf(conf, 0) {
		return Prediction{}, fmt.Errorf("model produced non-finite output")
	}
	if idx >= len(classNames) {
		return Prediction{}, fmt.Errorf("class index %d out of range for %d class names", idx, len(classNames))
	}
	return Prediction{Class: classNames[idx], Index: idx, Confidence: conf}, nil
}
