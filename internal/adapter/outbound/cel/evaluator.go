// Package cel evaluates routing constraint expressions against candidate
// tools. Constraints arrive per-request in the normalized context; a
// candidate must satisfy all of them to stay in the running.
package cel

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"

	"github.com/Tool-Gate/Toolgate/internal/domain/intent"
	"github.com/Tool-Gate/Toolgate/internal/domain/tool"
)

// maxExpressionLength caps constraint size; anything longer is rejected
// before parsing.
const maxExpressionLength = 1024

// maxCostBudget is the CEL runtime cost limit against cost-exhaustion.
const maxCostBudget = 100_000

// maxNestingDepth caps parenthesis/bracket nesting.
const maxNestingDepth = 50

// evalTimeout bounds a single evaluation.
const evalTimeout = 5 * time.Second

// interruptCheckFreq is how often (in comprehension iterations) context
// cancellation is checked.
const interruptCheckFreq = 100

// defaultResultCacheSize bounds the evaluation result cache.
const defaultResultCacheSize = 4096

// Evaluator compiles and evaluates constraint expressions. Compiled
// programs are cached per expression; evaluation results are cached per
// (expression, tool, intent) hash. Safe for concurrent use.
type Evaluator struct {
	env    *cel.Env
	logger *slog.Logger

	mu       sync.Mutex
	programs map[string]cel.Program
	results  *resultCache
}

// NewEvaluator creates an evaluator over the constraint environment.
func NewEvaluator(logger *slog.Logger) (*Evaluator, error) {
	env, err := newConstraintEnvironment()
	if err != nil {
		return nil, fmt.Errorf("constraint environment: %w", err)
	}
	return &Evaluator{
		env:      env,
		logger:   logger,
		programs: make(map[string]cel.Program),
		results:  newResultCache(defaultResultCacheSize),
	}, nil
}

// Satisfies reports whether the candidate tool passes every constraint.
// Invalid expressions and evaluation errors fail closed: the candidate is
// rejected and a warning is logged, but routing continues.
func (e *Evaluator) Satisfies(ctx context.Context, constraints []string, def *tool.Definition, in *intent.NormalizedIntent) bool {
	for _, expr := range constraints {
		ok, err := e.evaluate(ctx, expr, def, in)
		if err != nil {
			e.logger.Warn("constraint rejected candidate",
				"tool_id", def.ID,
				"constraint", expr,
				"error", err)
			return false
		}
		if !ok {
			return false
		}
	}
	return true
}

// Validate checks an expression without evaluating it. Used when catalog
// entries or client payloads declare constraints up front.
func (e *Evaluator) Validate(expr string) error {
	if expr == "" {
		return errors.New("expression is empty")
	}
	if len(expr) > maxExpressionLength {
		return fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if err := validateNesting(expr); err != nil {
		return err
	}
	_, err := e.program(expr)
	return err
}

func (e *Evaluator) evaluate(ctx context.Context, expr string, def *tool.Definition, in *intent.NormalizedIntent) (bool, error) {
	if err := e.Validate(expr); err != nil {
		return false, err
	}

	key := resultKey(expr, def, in)
	if v, hit := e.results.get(key); hit {
		return v, nil
	}

	prg, err := e.program(expr)
	if err != nil {
		return false, err
	}

	evalCtx, cancel := context.WithTimeout(ctx, evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(evalCtx, buildActivation(def, in))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	b, ok := result.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}

	e.results.put(key, b)
	return b, nil
}

// program returns the cached compiled program for expr, compiling on first
// use.
func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.Lock()
	prg, ok := e.programs[expr]
	e.mu.Unlock()
	if ok {
		return prg, nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}

	e.mu.Lock()
	e.programs[expr] = prg
	e.mu.Unlock()
	return prg, nil
}

// validateNesting caps the nesting depth of parentheses, brackets, and
// braces.
func validateNesting(expr string) error {
	var depth, maxDepth int
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			if depth > maxDepth {
				maxDepth = depth
			}
		case ')', ']', '}':
			depth--
		}
	}
	if maxDepth > maxNestingDepth {
		return fmt.Errorf("expression nesting too deep: %d levels (max %d)", maxDepth, maxNestingDepth)
	}
	return nil
}

// resultKey hashes the full evaluation input. Parameters enter through
// their canonical JSON so map iteration order cannot split the cache.
func resultKey(expr string, def *tool.Definition, in *intent.NormalizedIntent) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(expr)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(def.ID)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(in.Category.String())
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(in.Action)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(in.Target)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(intent.CanonicalJSON(in.Parameters))
	return h.Sum64()
}

// resultCache is a small LRU over evaluation outcomes.
type resultCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[uint64]*list.Element
}

type resultEntry struct {
	key   uint64
	value bool
}

func newResultCache(max int) *resultCache {
	return &resultCache{
		max:     max,
		order:   list.New(),
		entries: make(map[uint64]*list.Element),
	}
}

func (c *resultCache) get(key uint64) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return false, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*resultEntry).value, true
}

func (c *resultCache) put(key uint64, value bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*resultEntry).value = value
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&resultEntry{key: key, value: value})
	if c.order.Len() > c.max {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*resultEntry).key)
	}
}
