package stability

type Response struct {
	Artifacts []Artifact `json:"artifacts"`
}

type Artifact struct {
	Base64       string `json:"base64"`
	Seed         int64  `json:"seed"`
	FinishReason string `json:"finishReason"`
}

const (
	FinishSuccess         = "SUCCESS"
	FinishContentFiltered = "CONTENT_FILTERED"
	FinishError           = "ERROR"
)
