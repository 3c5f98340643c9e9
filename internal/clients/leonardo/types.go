package leonardo

import "variations/internal/clients/transport"

type InitImageRequest struct {
	Extension    string `json:"extension"`
	Name         string `json:"name"`
	ImageDataURL string `json:"imageDataUrl"`
}

type InitImageResponse struct {
	UploadInitImage struct {
		ID  string `json:"id"`
		URL string `json:"url,omitempty"`
	} `json:"uploadInitImage"`
}

type GenerationRequest struct {
	ModelID           string  `json:"modelId"`
	Prompt            string  `json:"prompt"`
	NegativePrompt    string  `json:"negative_prompt,omitempty"`
	InitStrength      float64 `json:"init_strength"`
	InitImageID       string  `json:"init_image_id"`
	Width             int     `json:"width"`
	Height            int     `json:"height"`
	NumImages         int     `json:"num_images"`
	GuidanceScale     float64 `json:"guidance_scale"`
	NumInferenceSteps int     `json:"num_inference_steps"`
	Seed              int64   `json:"seed,omitempty"`
}

type GenerationResponse struct {
	SDGenerationJob struct {
		GenerationID  string `json:"generationId"`
		APICreditCost int    `json:"apiCreditCost,omitempty"`
	} `json:"sdGenerationJob"`
}

type StatusResponse struct {
	Generation Generation `json:"generations_by_pk"`
}

type Generation struct {
	ID              string                 `json:"id"`
	Status          string                 `json:"status"`
	Seed            int64                  `json:"seed"`
	CreatedAt       transport.FlexibleTime `json:"createdAt"`
	GeneratedImages []GeneratedImage       `json:"generated_images"`
}

type GeneratedImage struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

const (
	StatusPending  = "PENDING"
	StatusComplete = "COMPLETE"
	StatusFailed   = "FAILED"
)
