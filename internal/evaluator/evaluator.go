package evaluator

import (
	"sync"

	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/clock"
	"github.com/aws/aws-iot-fleetwise-edge-sub004/internal/values"
)

// SignalSource is the inspection engine's view onto ring-buffered signal
// history, as consumed by the evaluator. Implementations must be safe for
// the evaluator's single caller goroutine (no internal synchronization is
// required beyond what the implementation itself needs for other callers).
type SignalSource interface {
	// LatestSample returns the most recent unconsumed sample for signalID.
	// ok is false when nothing is available for this tick.
	LatestSample(signalID uint32) (val values.Value, ts clock.TimePoint, ok bool)
	// HasUnconsumedSample reports whether a sample has arrived for signalID
	// since the last successful evaluation — the IS_NULL predicate.
	HasUnconsumedSample(signalID uint32) bool
	// Window returns the requested fixed-window aggregate for signalID. ok
	// is false if neither the current nor the previous window has ever
	// completed.
	Window(signalID uint32, fn WindowFunc) (val values.Value, ok bool)
}

// HandleStore is the subset of the raw-data buffer manager the evaluator
// needs to materialize computed string values (GEOHASH_FUNCTION).
type HandleStore interface {
	Push(signalID uint32, data []byte, ts clock.TimePoint) (uint32, error)
}

// geohashInternalSignalID is the reserved signal ID under which computed
// geohash strings are pushed into the raw-data buffer manager.
const geohashInternalSignalID uint32 = 0xFFFFFFFF

// CustomFunction is the set of callbacks an implementer registers for one
// CUSTOM_FUNCTION name.
type CustomFunction struct {
	// Invoke computes the function's value for one evaluation. invocationID
	// is the evaluating Context's InvocationID, passed unchanged to every
	// CUSTOM_FUNCTION node of the tree; the inspection engine leaves it at
	// zero for every condition, so it does not tell nodes or conditions apart.
	Invoke func(invocationID uint64, args []values.Value) (values.Value, bool)
	// ConditionEnd takes the collected signal IDs of a completed condition.
	// The inspection engine does not invoke it, and it has no way to attach
	// outputs to an emitted snapshot.
	ConditionEnd func(collectedSignalIDs []uint32, now clock.TimePoint)
	// Cleanup takes an invocation ID to release. The inspection engine does
	// not invoke it, including when a campaign is removed.
	Cleanup func(invocationID uint64)
}

// FunctionRegistry holds the named CUSTOM_FUNCTION implementations known to
// one evaluator instance. Safe for concurrent registration and lookup.
type FunctionRegistry struct {
	mu  sync.RWMutex
	fns map[string]CustomFunction
}

// NewFunctionRegistry returns an empty registry.
func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{fns: make(map[string]CustomFunction)}
}

// Register installs fn under name, replacing any previous registration.
func (r *FunctionRegistry) Register(name string, fn CustomFunction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fns[name] = fn
}

// Lookup returns the function registered under name, if any.
func (r *FunctionRegistry) Lookup(name string) (CustomFunction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.fns[name]
	return fn, ok
}

// Context carries everything one Evaluate call needs beyond the tree
// itself.
type Context struct {
	Signals   SignalSource
	Functions *FunctionRegistry
	Handles   HandleStore
	Now       clock.TimePoint

	// AlwaysEvaluate disables the "skip this tick" behavior for SIGNAL nodes
	// with no available sample — the campaign-level "always evaluate" flag.
	AlwaysEvaluate bool

	// InvocationID is passed through to CustomFunction.Invoke, stable for
	// the lifetime of the condition this tree belongs to.
	InvocationID uint64
}

// result is the per-node outcome threaded through the stack-based walk.
type result struct {
	val  values.Value
	skip bool // this tick has nothing to evaluate yet (SIGNAL absent, window never completed)
	ok   bool // false is the "error-false" sentinel (type mismatch, div-by-zero, unknown function)
}

// frame is one entry in the explicit evaluation stack: the node being
// visited and how many of its children have already been pushed.
type frame struct {
	idx      int
	nextKid  int
	children []int
}

// Evaluate walks tree from its root using an explicit stack (bounding
// recursion depth to the stack's capacity rather than the Go call stack,
// per the package's cycle/overflow guard) and returns the boolean result,
// whether evaluation succeeded (false is "error-false"), and whether the
// tick should be skipped entirely (no trigger-worthy data yet).
func Evaluate(tree *Tree, ctx Context) (boolValue bool, success bool, skip bool) {
	if tree.Root < 0 || len(tree.Nodes) == 0 {
		return false, false, true
	}

	stack := []frame{{idx: tree.Root}}
	results := make([]result, len(tree.Nodes))
	computed := make([]bool, len(tree.Nodes))

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		if top.children == nil {
			top.children = children(tree.Nodes[top.idx])
		}
		if top.nextKid < len(top.children) {
			childIdx := top.children[top.nextKid]
			top.nextKid++
			if !computed[childIdx] {
				stack = append(stack, frame{idx: childIdx})
			}
			continue
		}

		n := tree.Nodes[top.idx]
		kidResults := make([]result, len(top.children))
		for i, c := range top.children {
			kidResults[i] = results[c]
		}
		res := evalNode(n, kidResults, ctx)
		results[top.idx] = res
		computed[top.idx] = true
		stack = stack[:len(stack)-1]
	}

	final := results[tree.Root]
	if final.skip {
		return false, false, true
	}
	if !final.ok {
		return false, false, false
	}
	b, ok := final.val.AsBool()
	if !ok {
		return false, false, false
	}
	return b, true, false
}

// evalNode computes one node's result given its already-evaluated children,
// in the order children() produced them.
func evalNode(n Node, kids []result, ctx Context) result {
	// Skip/error propagation for nodes with children: any skipped child
	// skips the whole subexpression; any failed child fails it.
	for _, k := range kids {
		if k.skip {
			return result{skip: true}
		}
	}
	for _, k := range kids {
		if !k.ok {
			return result{ok: false}
		}
	}

	switch n.Kind {
	case NodeSignal:
		val, _, ok := ctx.Signals.LatestSample(n.SignalID)
		if !ok {
			if ctx.AlwaysEvaluate {
				return result{val: values.FromFloat64(0), ok: true}
			}
			return result{skip: true}
		}
		return result{val: val, ok: true}

	case NodeFloat:
		return result{val: values.FromFloat64(n.FloatValue), ok: true}

	case NodeBool:
		return result{val: values.FromBool(n.BoolValue), ok: true}

	case NodeString:
		return result{val: values.FromStringHandle(n.StringHandle), ok: true}

	case NodeWindowFunction:
		val, ok := ctx.Signals.Window(n.SignalID, n.Window)
		if !ok {
			return result{skip: true}
		}
		return result{val: val, ok: true}

	case NodeIsNull:
		return result{val: values.FromBool(!ctx.Signals.HasUnconsumedSample(n.SignalID)), ok: true}

	case NodeCustomFunction:
		fn, found := ctx.Functions.Lookup(n.FuncName)
		if !found {
			return result{ok: false}
		}
		args := make([]values.Value, len(kids))
		for i, k := range kids {
			args[i] = k.val
		}
		val, ok := fn.Invoke(ctx.InvocationID, args)
		return result{val: val, ok: ok}

	case NodeGeohashFunction:
		return evalGeohash(kids, ctx)

	case NodeOpAnd:
		a, aok := kids[0].val.AsBool()
		b, bok := kids[1].val.AsBool()
		if !aok || !bok {
			return result{ok: false}
		}
		return result{val: values.FromBool(a && b), ok: true}

	case NodeOpOr:
		a, aok := kids[0].val.AsBool()
		b, bok := kids[1].val.AsBool()
		if !aok || !bok {
			return result{ok: false}
		}
		return result{val: values.FromBool(a || b), ok: true}

	case NodeOpNot:
		a, ok := kids[0].val.AsBool()
		if !ok {
			return result{ok: false}
		}
		return result{val: values.FromBool(!a), ok: true}

	case NodeOpEqual:
		eq, ok := values.Equal(kids[0].val, kids[1].val)
		return result{val: values.FromBool(eq), ok: ok}

	case NodeOpNotEqual:
		eq, ok := values.Equal(kids[0].val, kids[1].val)
		return result{val: values.FromBool(!eq), ok: ok}

	case NodeOpSmaller:
		lt, _, _, _, ok := values.Compare(kids[0].val, kids[1].val)
		return result{val: values.FromBool(lt), ok: ok}

	case NodeOpSmallerEqual:
		_, le, _, _, ok := values.Compare(kids[0].val, kids[1].val)
		return result{val: values.FromBool(le), ok: ok}

	case NodeOpBigger:
		_, _, gt, _, ok := values.Compare(kids[0].val, kids[1].val)
		return result{val: values.FromBool(gt), ok: ok}

	case NodeOpBiggerEqual:
		_, _, _, ge, ok := values.Compare(kids[0].val, kids[1].val)
		return result{val: values.FromBool(ge), ok: ok}

	case NodeOpPlus:
		v, ok := values.Arith(values.ArithAdd, kids[0].val, kids[1].val)
		return result{val: v, ok: ok}

	case NodeOpMinus:
		v, ok := values.Arith(values.ArithSub, kids[0].val, kids[1].val)
		return result{val: v, ok: ok}

	case NodeOpMultiply:
		v, ok := values.Arith(values.ArithMul, kids[0].val, kids[1].val)
		return result{val: v, ok: ok}

	case NodeOpDivide:
		v, ok := values.Arith(values.ArithDiv, kids[0].val, kids[1].val)
		return result{val: v, ok: ok}

	default:
		return result{ok: false}
	}
}

// evalGeohash computes a geohash string from (lat, lon[, precision]) double
// arguments and materializes it as a string-handle value via ctx.Handles.
func evalGeohash(kids []result, ctx Context) result {
	if len(kids) < 2 || ctx.Handles == nil {
		return result{ok: false}
	}
	lat, latOK := kids[0].val.AsDouble()
	lon, lonOK := kids[1].val.AsDouble()
	if !latOK || !lonOK {
		return result{ok: false}
	}
	precision := 9
	if len(kids) >= 3 {
		if p, ok := kids[2].val.AsDouble(); ok {
			precision = int(p)
		}
	}
	code := geohashEncode(lat, lon, precision)
	handle, err := ctx.Handles.Push(geohashInternalSignalID, []byte(code), ctx.Now)
	if err != nil {
		return result{ok: false}
	}
	return result{val: values.FromStringHandle(handle), ok: true}
}

const geohashBase32 = "0123456789bcdefghjkmnpqrstuvwxyz"

// geohashEncode implements the standard base-32 geohash algorithm (bisecting
// latitude/longitude ranges, 5 bits per output character).
func geohashEncode(lat, lon float64, precision int) string {
	if precision <= 0 {
		precision = 1
	}
	latRange := [2]float64{-90, 90}
	lonRange := [2]float64{-180, 180}

	var buf []byte
	bit, ch, evenBit := 0, 0, true
	for len(buf) < precision {
		var mid float64
		if evenBit {
			mid = (lonRange[0] + lonRange[1]) / 2
			if lon >= mid {
				ch |= 1 << (4 - bit)
				lonRange[0] = mid
			} else {
				lonRange[1] = mid
			}
		} else {
			mid = (latRange[0] + latRange[1]) / 2
			if lat >= mid {
				ch |= 1 << (4 - bit)
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}
		evenBit = !evenBit
		if bit < 4 {
			bit++
		} else {
			buf = append(buf, geohashBase32[ch])
			bit, ch = 0, 0
		}
	}
	return string(buf)
}
