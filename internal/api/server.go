// Package api serves a trained model over HTTP: model metadata plus batched
// inference. Training stays a local concern; the server only reads.
package api

import (
	"io"
	"net/http"
	"sync"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/neoharju/tiny-cuda-nn/internal/logger"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// Model is the read-only surface the server needs from a trained handle.
type Model interface {
	ID() uuid.UUID
	InputDims() int
	OutputDims() int
	Step() uint64
	Inference(*tensor.Mat) (*tensor.Mat, error)
}

// Server registers the inference endpoints for one model. The model handle
// assumes a single driving goroutine, so concurrent requests are serialized
// around the Inference call.
type Server struct {
	model Model
	log   logger.Logger
	mu    sync.Mutex
}

// NewServer wraps a model for serving.
func NewServer(model Model, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{model: model, log: log}
}

// Register installs the routes on an echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/model", s.handleModel)
	e.POST("/v1/infer", s.handleInfer)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleModel(c *echo.Context) error {
	return c.JSON(http.StatusOK, ModelInfo{
		ID:         s.model.ID().String(),
		InputDims:  s.model.InputDims(),
		OutputDims: s.model.OutputDims(),
		Step:       s.model.Step(),
	})
}

func (s *Server) handleInfer(c *echo.Context) error {
	req, err := decodeJSON[InferRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, "invalid JSON body: "+err.Error())
	}
	batch := len(req.Inputs)
	if batch == 0 {
		return writeBadRequest(c, "inputs must not be empty")
	}
	dims := s.model.InputDims()
	coords := tensor.NewMat(dims, batch)
	for j, sample := range req.Inputs {
		if len(sample) != dims {
			return writeBadRequest(c, "every input sample must have length equal to the model's input dimensionality")
		}
		coords.SetCol(j, sample)
	}

	s.mu.Lock()
	out, err := s.model.Inference(coords)
	s.mu.Unlock()
	if err != nil {
		s.log.Error("inference failed", "error", err)
		return writeServerError(c, err.Error())
	}

	resp := InferResponse{
		ID:      "inf_" + uuid.NewString(),
		Outputs: make([][]float32, batch),
	}
	col := make([]float32, out.R)
	for j := 0; j < batch; j++ {
		out.Col(col, j)
		resp.Outputs[j] = append([]float32(nil), col...)
	}
	return c.JSON(http.StatusOK, resp)
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var v T
	dec := json.NewDecoder(r)
	err := dec.Decode(&v)
	return v, err
}

func writeBadRequest(c *echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]any{
		"error": APIError{Type: "invalid_request_error", Message: msg},
	})
}

func writeServerError(c *echo.Context, msg string) error {
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": APIError{Type: "server_error", Message: msg},
	})
}
