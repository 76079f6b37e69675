package api

// ModelInfo describes the served model.
type ModelInfo struct {
	ID         string `json:"id"`
	InputDims  int    `json:"input_dims"`
	OutputDims int    `json:"output_dims"`
	Step       uint64 `json:"step"`
}

// InferRequest carries a batch of input coordinates, one sample per row.
type InferRequest struct {
	Inputs [][]float32 `json:"inputs"`
}

// InferResponse returns one output vector per input sample, in order.
type InferResponse struct {
	ID      string      `json:"id"`
	Outputs [][]float32 `json:"outputs"`
}

// APIError is the wire shape of an error payload.
type APIError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
