package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/neoharju/tiny-cuda-nn/internal/logger"
	"github.com/neoharju/tiny-cuda-nn/internal/tensor"
)

// stubModel doubles every input coordinate and pads with zeros up to the
// output width, which is enough to check batching and column ordering.
type stubModel struct {
	id      uuid.UUID
	in, out int
	err     error
}

func (m stubModel) ID() uuid.UUID   { return m.id }
func (m stubModel) InputDims() int  { return m.in }
func (m stubModel) OutputDims() int { return m.out }
func (m stubModel) Step() uint64    { return 42 }

func (m stubModel) Inference(coords *tensor.Mat) (*tensor.Mat, error) {
	if m.err != nil {
		return nil, m.err
	}
	out := tensor.NewMat(m.out, coords.C)
	for j := 0; j < coords.C; j++ {
		for i := 0; i < m.in && i < m.out; i++ {
			out.Set(i, j, 2*coords.At(i, j))
		}
	}
	return out, nil
}

func newTestEcho(m Model) *echo.Echo {
	server := NewServer(m, logger.Discard())
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	e := newTestEcho(stubModel{id: uuid.New(), in: 2, out: 3})
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health body: %s", rec.Body.String())
	}
}

func TestModelInfo(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	e := newTestEcho(stubModel{id: id, in: 2, out: 3})
	rec := doJSON(t, e, http.MethodGet, "/v1/model", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("model status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var info ModelInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("decode model info: %v", err)
	}
	if info.ID != id.String() {
		t.Fatalf("unexpected model id: %q", info.ID)
	}
	if info.InputDims != 2 || info.OutputDims != 3 {
		t.Fatalf("unexpected dims: in=%d out=%d", info.InputDims, info.OutputDims)
	}
	if info.Step != 42 {
		t.Fatalf("unexpected step: %d", info.Step)
	}
}

func TestInferBatch(t *testing.T) {
	t.Parallel()

	e := newTestEcho(stubModel{id: uuid.New(), in: 2, out: 3})
	rec := doJSON(t, e, http.MethodPost, "/v1/infer", `{"inputs":[[0.5,0.25],[1,0]]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("infer status: got %d body=%s", rec.Code, rec.Body.String())
	}

	var resp InferResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode infer response: %v", err)
	}
	if resp.ID == "" {
		t.Fatalf("expected inference id")
	}
	if len(resp.Outputs) != 2 {
		t.Fatalf("expected 2 outputs, got %d", len(resp.Outputs))
	}
	want := [][]float32{{1, 0.5, 0}, {2, 0, 0}}
	for j, out := range resp.Outputs {
		if len(out) != 3 {
			t.Fatalf("output %d: expected width 3, got %d", j, len(out))
		}
		for i, v := range out {
			if v != want[j][i] {
				t.Fatalf("output[%d][%d]: got %v want %v", j, i, v, want[j][i])
			}
		}
	}
}

func TestInferValidationErrors(t *testing.T) {
	t.Parallel()

	e := newTestEcho(stubModel{id: uuid.New(), in: 2, out: 3})

	rec := doJSON(t, e, http.MethodPost, "/v1/infer", `{"inputs":[]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty batch: expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/infer", `{"inputs":[[1,2,3]]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("dim mismatch: expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "input dimensionality") {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/infer", `{not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}
}

func TestInferModelError(t *testing.T) {
	t.Parallel()

	e := newTestEcho(stubModel{id: uuid.New(), in: 2, out: 3, err: errors.New("arena exhausted")})
	rec := doJSON(t, e, http.MethodPost, "/v1/infer", `{"inputs":[[0,0]]}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d body=%s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "arena exhausted") {
		t.Fatalf("unexpected error body: %s", rec.Body.String())
	}
}
