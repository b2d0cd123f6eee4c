package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/terra-clan/pricing-arena/internal/models"
)

const (
	// workerStartup is the slack given to a worker for process start and symbol loading
	workerStartup = 2 * time.Second

	// stderrLimit bounds how much worker diagnostics are kept
	stderrLimit = 4 << 10
)

// IsolatedConfig configures predictor worker processes
type IsolatedConfig struct {
	Config

	// Command and Args start a process that calls RunWorker on its stdin and stdout
	Command string
	Args    []string

	// Env is the complete worker environment; the parent environment is not inherited
	Env []string

	// MemoryLimit is the address space a worker may map beyond its startup size
	MemoryLimit int64
}

// IsolatedEvaluator validates predictors in-process and evaluates them in
// short-lived worker processes.
type IsolatedEvaluator struct {
	cfg IsolatedConfig
}

// NewIsolatedEvaluator creates an evaluator, filling zero config values with defaults
func NewIsolatedEvaluator(cfg IsolatedConfig) *IsolatedEvaluator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 100 * time.Millisecond
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = 2 * time.Second
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = 64 << 10
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = 512 << 20
	}
	return &IsolatedEvaluator{cfg: cfg}
}

// IsolatedProgram is a statically checked predictor awaiting evaluation
type IsolatedProgram struct {
	name   string
	source string
	cfg    IsolatedConfig
}

// Name identifies the program in errors and logs
func (p *IsolatedProgram) Name() string {
	return p.name
}

// Compile checks size, imports, syntax and entry point without running any
// predictor code. Interpretation happens inside the worker.
func (e *IsolatedEvaluator) Compile(ctx context.Context, name, source string) (*IsolatedProgram, error) {
	if len(source) > e.cfg.MaxSourceBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrSourceTooLarge, len(source), e.cfg.MaxSourceBytes)
	}
	if _, err := prepareSource(source); err != nil {
		return nil, err
	}
	return &IsolatedProgram{name: name, source: source, cfg: e.cfg}, nil
}

// Evaluate runs the predictor over items and rows in a fresh worker process.
// The worker is killed when its deadline passes; a worker that dies before
// answering is reported as ErrResourceLimit.
func (p *IsolatedProgram) Evaluate(ctx context.Context, items []models.CatalogItem, rows []models.PriceRow) ([]float64, error) {
	if len(items) != len(rows) {
		return nil, fmt.Errorf("%d catalog items but %d submitted rows", len(items), len(rows))
	}

	deadline := workerStartup + p.cfg.CompileTimeout + time.Duration(len(rows))*p.cfg.CallTimeout
	payload, err := msgpack.Marshal(&workerRequest{
		Name:           p.name,
		Source:         p.source,
		Items:          items,
		Rows:           rows,
		CallTimeout:    p.cfg.CallTimeout,
		CompileTimeout: p.cfg.CompileTimeout,
		MaxSourceBytes: p.cfg.MaxSourceBytes,
		MemoryLimit:    p.cfg.MemoryLimit,
		CPUSeconds:     uint64(deadline/time.Second) + 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode worker request: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var stdout bytes.Buffer
	stderr := &cappedBuffer{limit: stderrLimit}

	cmd := exec.CommandContext(runCtx, p.cfg.Command, p.cfg.Args...)
	cmd.Env = append([]string{}, p.cfg.Env...)
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = time.Second

	runErr := cmd.Run()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %s killed after %s", ErrTimeout, p.name, deadline)
	}

	var resp workerResponse
	if err := msgpack.Unmarshal(stdout.Bytes(), &resp); err != nil {
		var exitErr *exec.ExitError
		if runErr != nil && !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("failed to start predictor worker: %w", runErr)
		}
		return nil, fmt.Errorf("%w: %s worker exited (%v): %s", ErrResourceLimit, p.name, runErr, stderr.firstLine())
	}
	if err := resp.err(); err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, fmt.Errorf("predictor worker failed: %w", runErr)
	}
	return resp.Demands, nil
}

// cappedBuffer keeps the first limit bytes written to it and drops the rest
type cappedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *cappedBuffer) firstLine() string {
	line, _, _ := strings.Cut(strings.TrimSpace(b.buf.String()), "\n")
	return line
}
