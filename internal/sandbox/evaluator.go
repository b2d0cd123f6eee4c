// Package sandbox compiles and runs user-supplied demand predictors.
//
// A predictor is a Go source file interpreted by yaegi. It must define
//
//	func Predict(item pricing.Item) func(productID string, price int) int
//
// Only a small allowlist of packages can be imported, goroutines are rejected,
// and every call into interpreted code is bounded by a timeout. Evaluator runs
// predictors in-process; IsolatedEvaluator runs each evaluation in a worker
// process under memory and CPU rlimits.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"github.com/terra-clan/pricing-arena/internal/models"
)

// EntryPoint is the factory every predictor must define
const EntryPoint = "Predict"

// Common errors
var (
	ErrSourceTooLarge  = errors.New("predictor source too large")
	ErrForbiddenImport = errors.New("forbidden import")
	ErrForbiddenSyntax = errors.New("forbidden statement")
	ErrCompile         = errors.New("predictor does not compile")
	ErrSignature       = errors.New("predictor has wrong signature")
	ErrTimeout         = errors.New("predictor call timed out")
	ErrPanic           = errors.New("predictor panicked")
	ErrNonNumeric      = errors.New("predictor returned a non-numeric value")
	ErrResourceLimit   = errors.New("predictor exceeded its resource limits")
)

// allowedPackages are the stdlib packages predictors may import
var allowedPackages = map[string]bool{
	"math":         true,
	"math/bits":    true,
	"sort":         true,
	"strconv":      true,
	"strings":      true,
	"unicode/utf8": true,
}

// pricingPackage is the host package exposing catalog rows to predictors
const pricingPackage = "pricing"

// Config bounds predictor compilation and execution
type Config struct {
	CallTimeout    time.Duration
	CompileTimeout time.Duration
	MaxSourceBytes int
}

// Evaluator compiles predictor sources into runnable programs
type Evaluator struct {
	cfg     Config
	symbols interp.Exports
}

// NewEvaluator creates an evaluator, filling zero config values with defaults
func NewEvaluator(cfg Config) *Evaluator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 100 * time.Millisecond
	}
	if cfg.CompileTimeout <= 0 {
		cfg.CompileTimeout = 2 * time.Second
	}
	if cfg.MaxSourceBytes <= 0 {
		cfg.MaxSourceBytes = 64 << 10
	}

	symbols := interp.Exports{}
	for key, syms := range stdlib.Symbols {
		// keys have the form "import/path/name"; "." holds helper types
		idx := strings.LastIndex(key, "/")
		if idx < 0 {
			continue
		}
		if allowedPackages[key[:idx]] {
			symbols[key] = syms
		}
	}
	symbols[pricingPackage+"/"+pricingPackage] = map[string]reflect.Value{
		"Item": reflect.ValueOf((*models.CatalogItem)(nil)),
	}

	return &Evaluator{cfg: cfg, symbols: symbols}
}

// AllowedImports lists the packages a predictor may import
func AllowedImports() []string {
	pkgs := []string{pricingPackage}
	for pkg := range allowedPackages {
		pkgs = append(pkgs, pkg)
	}
	sort.Strings(pkgs)
	return pkgs
}

// Program is a compiled predictor
type Program struct {
	name        string
	predict     reflect.Value
	callTimeout time.Duration
}

// Name identifies the program in errors and logs
func (p *Program) Name() string {
	return p.name
}

// Compile validates and interprets source, returning its Predict factory
func (e *Evaluator) Compile(ctx context.Context, name, source string) (*Program, error) {
	if len(source) > e.cfg.MaxSourceBytes {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrSourceTooLarge, len(source), e.cfg.MaxSourceBytes)
	}

	src, err := prepareSource(source)
	if err != nil {
		return nil, err
	}

	i := interp.New(interp.Options{
		Stdin:  strings.NewReader(""),
		Stdout: io.Discard,
		Stderr: io.Discard,
	})
	if err := i.Use(e.symbols); err != nil {
		return nil, fmt.Errorf("failed to load symbols: %w", err)
	}

	compileCtx, cancel := context.WithTimeout(ctx, e.cfg.CompileTimeout)
	defer cancel()

	if _, err := i.EvalWithContext(compileCtx, src); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompile, err)
	}

	predict, err := i.EvalWithContext(compileCtx, "main."+EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", ErrSignature, EntryPoint, err)
	}
	if err := checkSignature(predict); err != nil {
		return nil, err
	}

	return &Program{
		name:        name,
		predict:     predict,
		callTimeout: e.cfg.CallTimeout,
	}, nil
}

// prepareSource parses the predictor, enforces the import allowlist and
// rewrites its package clause to main.
func prepareSource(source string) (string, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "predictor.go", source, 0)
	if err != nil {
		wrapped := "package main\n\n" + source
		var werr error
		file, werr = parser.ParseFile(fset, "predictor.go", wrapped, 0)
		if werr != nil {
			return "", fmt.Errorf("%w: %v", ErrCompile, err)
		}
		source = wrapped
	}

	var forbidden []string
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil || (path != pricingPackage && !allowedPackages[path]) {
			forbidden = append(forbidden, imp.Path.Value)
		}
	}
	if len(forbidden) > 0 {
		return "", fmt.Errorf("%w: %s (allowed: %s)", ErrForbiddenImport,
			strings.Join(forbidden, ", "), strings.Join(AllowedImports(), ", "))
	}

	var syntaxErr error
	ast.Inspect(file, func(n ast.Node) bool {
		if syntaxErr != nil {
			return false
		}
		if g, ok := n.(*ast.GoStmt); ok {
			syntaxErr = fmt.Errorf("%w: go statement at %s", ErrForbiddenSyntax, fset.Position(g.Pos()))
		}
		return true
	})
	if syntaxErr != nil {
		return "", syntaxErr
	}

	if !hasEntryPoint(file) {
		return "", fmt.Errorf("%w: func %s(item pricing.Item) func(string, int) int is not defined", ErrSignature, EntryPoint)
	}

	if name := file.Name.Name; name != "main" {
		offset := fset.Position(file.Name.Pos()).Offset
		source = source[:offset] + "main" + source[offset+len(name):]
	}
	return source, nil
}

func hasEntryPoint(file *ast.File) bool {
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if ok && fn.Recv == nil && fn.Name.Name == EntryPoint {
			return true
		}
	}
	return false
}

func checkSignature(predict reflect.Value) error {
	if predict.Kind() != reflect.Func {
		return fmt.Errorf("%w: %s is a %s, not a function", ErrSignature, EntryPoint, predict.Kind())
	}

	t := predict.Type()
	if t.NumIn() != 1 || t.NumOut() != 1 {
		return fmt.Errorf("%w: %s must take one pricing.Item and return one function", ErrSignature, EntryPoint)
	}

	inner := t.Out(0)
	if inner.Kind() != reflect.Func || inner.NumIn() != 2 || inner.NumOut() != 1 {
		return fmt.Errorf("%w: %s must return func(productID string, price int) int", ErrSignature, EntryPoint)
	}
	return nil
}

type callResult struct {
	value float64
	err   error
}

// Evaluate binds the factory to every item and applies each closure to the
// matching submitted row. items and rows must have equal length.
func (p *Program) Evaluate(ctx context.Context, items []models.CatalogItem, rows []models.PriceRow) ([]float64, error) {
	if len(items) != len(rows) {
		return nil, fmt.Errorf("%d catalog items but %d submitted rows", len(items), len(rows))
	}

	out := make(chan callResult)
	done := make(chan struct{})
	defer close(done)

	// A call that never returns keeps this goroutine alive; the caller
	// stops waiting after callTimeout.
	go func() {
		for i := range items {
			value, err := p.invoke(items[i], rows[i])
			select {
			case out <- callResult{value: value, err: err}:
			case <-done:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	timer := time.NewTimer(p.callTimeout)
	defer timer.Stop()

	demands := make([]float64, len(items))
	for i := range items {
		if i > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.callTimeout)
		}

		select {
		case r := <-out:
			if r.err != nil {
				return nil, fmt.Errorf("row %d (%s): %w", i+1, rows[i].ProductID, r.err)
			}
			demands[i] = r.value
		case <-timer.C:
			return nil, fmt.Errorf("%w: row %d (%s) exceeded %s", ErrTimeout, i+1, rows[i].ProductID, p.callTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return demands, nil
}

func (p *Program) invoke(item models.CatalogItem, row models.PriceRow) (value float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()

	arg, err := convertArg(reflect.ValueOf(item), p.predict.Type().In(0))
	if err != nil {
		return 0, err
	}

	closure := p.predict.Call([]reflect.Value{arg})[0]
	if closure.Kind() != reflect.Func || closure.IsNil() {
		return 0, fmt.Errorf("%w: %s returned no function", ErrSignature, EntryPoint)
	}

	ct := closure.Type()
	id, err := convertArg(reflect.ValueOf(row.ProductID), ct.In(0))
	if err != nil {
		return 0, err
	}
	price, err := convertArg(reflect.ValueOf(row.Price), ct.In(1))
	if err != nil {
		return 0, err
	}

	return numeric(closure.Call([]reflect.Value{id, price})[0])
}

func convertArg(v reflect.Value, want reflect.Type) (reflect.Value, error) {
	if v.Type() == want {
		return v, nil
	}
	if want.Kind() == reflect.Interface && v.Type().Implements(want) {
		return v, nil
	}
	if v.Type().ConvertibleTo(want) {
		return v.Convert(want), nil
	}
	return reflect.Value{}, fmt.Errorf("%w: cannot pass %s as %s", ErrSignature, v.Type(), want)
}

func numeric(v reflect.Value) (float64, error) {
	if v.Kind() == reflect.Interface {
		if v.IsNil() {
			return 0, fmt.Errorf("%w: nil", ErrNonNumeric)
		}
		v = v.Elem()
	}

	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), nil
	case reflect.Float32, reflect.Float64:
		f := v.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("%w: %v", ErrNonNumeric, f)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrNonNumeric, v.Kind())
	}
}
