package local

import "context"

// Request is one img2img run on the diffusion sidecar.
type Request struct {
	Model          string
	ModelPath      string
	Image          []byte // PNG
	Width          int
	Height         int
	Prompt         string
	NegativePrompt string
	Strength       float64
	Seed           int64
	Steps          int
	GuidanceScale  float64
}

type Response struct {
	Image   []byte
	Seed    int64
	Device  string
	Elapsed float64
}

type Status struct {
	Loaded bool
	Model  string
	Device string
}

type Pipeline interface {
	Img2Img(ctx context.Context, req Request) (*Response, error)
}

// Manager is implemented by pipelines that keep a model resident.
type Manager interface {
	Status(ctx context.Context) (*Status, error)
	Unload(ctx context.Context) error
}
