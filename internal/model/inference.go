package model

const UnknownImageID = "unknown"

type InferenceResult struct {
	PredictedClass string  `json:"predicted_class"`
	Confidence     float64 `json:"confidence"`
	ImageID        string  `json:"image_id"`
}
