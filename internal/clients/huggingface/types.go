package huggingface

// Request is the hf-inference image-to-image body.
type Request struct {
	Inputs     string     `json:"inputs"`
	Parameters Parameters `json:"parameters"`
}

type Parameters struct {
	Prompt         string  `json:"prompt"`
	NegativePrompt string  `json:"negative_prompt,omitempty"`
	Strength       float64 `json:"strength"`
	GuidanceScale  float64 `json:"guidance_scale"`
	Seed           int64   `json:"seed,omitempty"`
}

// nestedRequest is the shape some pipelines expect, with the prompt next
// to the image instead of under parameters.
type nestedRequest struct {
	Inputs struct {
		Image  string `json:"image"`
		Prompt string `json:"prompt"`
	} `json:"inputs"`
	Parameters Parameters `json:"parameters"`
}

