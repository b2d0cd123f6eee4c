package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/terra-clan/pricing-arena/internal/models"
)

// workerRequest is read by a predictor worker from its stdin
type workerRequest struct {
	Name           string               `msgpack:"name"`
	Source         string               `msgpack:"source"`
	Items          []models.CatalogItem `msgpack:"items"`
	Rows           []models.PriceRow    `msgpack:"rows"`
	CallTimeout    time.Duration        `msgpack:"call_timeout"`
	CompileTimeout time.Duration        `msgpack:"compile_timeout"`
	MaxSourceBytes int                  `msgpack:"max_source_bytes"`
	MemoryLimit    int64                `msgpack:"memory_limit"`
	CPUSeconds     uint64               `msgpack:"cpu_seconds"`
}

// workerResponse is written by a predictor worker to its stdout
type workerResponse struct {
	Demands []float64 `msgpack:"demands"`
	Kind    string    `msgpack:"kind,omitempty"`
	Message string    `msgpack:"message,omitempty"`
}

// errorKinds names the errors that survive the process boundary
var errorKinds = map[string]error{
	"source_too_large": ErrSourceTooLarge,
	"forbidden_import": ErrForbiddenImport,
	"forbidden_syntax": ErrForbiddenSyntax,
	"compile":          ErrCompile,
	"signature":        ErrSignature,
	"timeout":          ErrTimeout,
	"panic":            ErrPanic,
	"non_numeric":      ErrNonNumeric,
	"resource_limit":   ErrResourceLimit,
}

func kindOf(err error) string {
	for kind, target := range errorKinds {
		if errors.Is(err, target) {
			return kind
		}
	}
	return "internal"
}

// workerError carries a worker failure back into the parent with its
// sentinel still matchable by errors.Is.
type workerError struct {
	kind    error
	message string
}

func (e *workerError) Error() string { return e.message }

func (e *workerError) Unwrap() error { return e.kind }

func (r *workerResponse) err() error {
	if r.Kind == "" {
		return nil
	}
	kind, ok := errorKinds[r.Kind]
	if !ok {
		return errors.New(r.Message)
	}
	return &workerError{kind: kind, message: r.Message}
}

// RunWorker serves a single evaluation request. It reads the request from r,
// applies the requested resource limits to the current process, compiles and
// evaluates the predictor and writes the outcome to w.
//
// It is meant to run in a dedicated child process: a predictor that exhausts
// its limits takes only the worker down.
func RunWorker(ctx context.Context, r io.Reader, w io.Writer) error {
	var req workerRequest
	if err := msgpack.NewDecoder(r).Decode(&req); err != nil {
		return fmt.Errorf("failed to read request: %w", err)
	}

	if req.MemoryLimit > 0 {
		debug.SetMemoryLimit(req.MemoryLimit)
	}
	if err := applyLimits(req.MemoryLimit, req.CPUSeconds); err != nil {
		return fmt.Errorf("failed to apply limits: %w", err)
	}

	resp := workerResponse{}
	demands, err := evaluateRequest(ctx, &req)
	if err != nil {
		resp.Kind = kindOf(err)
		resp.Message = err.Error()
	} else {
		resp.Demands = demands
	}

	if err := msgpack.NewEncoder(w).Encode(&resp); err != nil {
		return fmt.Errorf("failed to write response: %w", err)
	}
	return nil
}

func evaluateRequest(ctx context.Context, req *workerRequest) ([]float64, error) {
	ev := NewEvaluator(Config{
		CallTimeout:    req.CallTimeout,
		CompileTimeout: req.CompileTimeout,
		MaxSourceBytes: req.MaxSourceBytes,
	})

	prog, err := ev.Compile(ctx, req.Name, req.Source)
	if err != nil {
		return nil, err
	}
	return prog.Evaluate(ctx, req.Items, req.Rows)
}
