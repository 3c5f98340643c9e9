package deepai

type Response struct {
	ID        string `json:"id"`
	OutputURL string `json:"output_url"`
	Err       string `json:"err,omitempty"`
}
