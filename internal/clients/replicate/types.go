package replicate

import (
	"encoding/json"

	"variations/internal/clients/transport"
)

type PredictionRequest struct {
	Version string `json:"version"`
	Input   Input  `json:"input"`
}

type Input struct {
	Image              string  `json:"image"`
	Prompt             string  `json:"prompt"`
	NegativePrompt     string  `json:"negative_prompt,omitempty"`
	NumInferenceSteps  int     `json:"num_inference_steps"`
	ImageGuidanceScale float64 `json:"image_guidance_scale"`
	GuidanceScale      float64 `json:"guidance_scale"`
	Seed               int64   `json:"seed,omitempty"`
}

type Prediction struct {
	ID          string                 `json:"id"`
	Status      string                 `json:"status"`
	Output      json.RawMessage        `json:"output"`
	Error       any                    `json:"error"`
	URLs        URLs                   `json:"urls"`
	CreatedAt   transport.FlexibleTime `json:"created_at"`
	CompletedAt transport.FlexibleTime `json:"completed_at"`
	Metrics     struct {
		PredictTime float64 `json:"predict_time"`
	} `json:"metrics"`
}

type URLs struct {
	Get    string `json:"get"`
	Cancel string `json:"cancel"`
}

const (
	StatusStarting   = "starting"
	StatusProcessing = "processing"
	StatusSucceeded  = "succeeded"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Terminal reports whether the prediction will not change any more.
func (p Prediction) Terminal() bool {
	switch p.Status {
	case StatusSucceeded, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// FirstOutput returns the first URL of the output, which is either a single
// string or a list of strings depending on the model.
func (p Prediction) FirstOutput() string {
	var one string
	if err := json.Unmarshal(p.Output, &one); err == nil {
		return one
	}
	var many []string
	if err := json.Unmarshal(p.Output, &many); err == nil && len(many) > 0 {
		return many[0]
	}
	return ""
}
