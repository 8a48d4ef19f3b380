// Package evaluator implements the inspection condition evaluator: an
// arena-indexed expression tree and an explicit stack-based walk over it.
// Nodes reference only earlier-built nodes by index, so cycles are rejected
// structurally at build time rather than detected at evaluation time, and
// evaluation never recurses on the Go call stack regardless of tree depth.
package evaluator

import "fmt"

// NodeKind tags the variant stored in a Node.
type NodeKind uint8

const (
	NodeSignal NodeKind = iota
	NodeFloat
	NodeBool
	NodeString
	NodeWindowFunction
	NodeCustomFunction
	NodeIsNull
	NodeGeohashFunction
	NodeOpAnd
	NodeOpOr
	NodeOpNot
	NodeOpEqual
	NodeOpNotEqual
	NodeOpSmaller
	NodeOpSmallerEqual
	NodeOpBigger
	NodeOpBiggerEqual
	NodeOpPlus
	NodeOpMinus
	NodeOpMultiply
	NodeOpDivide
)

// WindowFunc selects which fixed-window aggregate a WINDOW_FUNCTION node
// reads.
type WindowFunc uint8

const (
	WindowLastMin WindowFunc = iota
	WindowLastMax
	WindowLastAvg
	WindowPrevMin
	WindowPrevMax
	WindowPrevAvg
)

// Node is one arena slot. Only the fields relevant to Kind are meaningful;
// Left/Right/Args hold indices into the same Tree's node slice and must
// always be less than the index of the node that references them.
type Node struct {
	Kind NodeKind

	SignalID     uint32     // NodeSignal, NodeWindowFunction, NodeIsNull
	FloatValue   float64    // NodeFloat
	BoolValue    bool       // NodeBool
	StringHandle uint32     // NodeString (raw-data buffer handle of a literal)
	Window       WindowFunc // NodeWindowFunction
	FuncName     string     // NodeCustomFunction

	Left, Right int   // operator child indices; -1 when unused (NOT has no Right)
	Args        []int // NodeCustomFunction / NodeGeohashFunction child indices
}

// Tree is an arena of Nodes plus a designated root. The zero value is not
// usable; build one with NewTree and the Add* methods.
type Tree struct {
	Nodes []Node
	Root  int
}

// NewTree returns an empty, buildable Tree.
func NewTree() *Tree {
	return &Tree{Root: -1}
}

func (t *Tree) add(n Node) int {
	t.Nodes = append(t.Nodes, n)
	return len(t.Nodes) - 1
}

// checkChild panics with a descriptive message if idx does not reference an
// already-built node — the structural cycle guard described in the package
// doc comment.
func (t *Tree) checkChild(idx int) {
	if idx < 0 || idx >= len(t.Nodes) {
		panic(fmt.Sprintf("evaluator: child index %d does not reference a previously built node (tree has %d nodes) — cyclic or forward reference rejected at build time", idx, len(t.Nodes)))
	}
}

func (t *Tree) AddSignal(signalID uint32) int {
	return t.add(Node{Kind: NodeSignal, SignalID: signalID, Left: -1, Right: -1})
}

func (t *Tree) AddFloat(v float64) int {
	return t.add(Node{Kind: NodeFloat, FloatValue: v, Left: -1, Right: -1})
}

func (t *Tree) AddBool(v bool) int {
	return t.add(Node{Kind: NodeBool, BoolValue: v, Left: -1, Right: -1})
}

// AddString records a literal whose bytes were already pushed into the
// raw-data buffer manager under handle h.
func (t *Tree) AddString(handle uint32) int {
	return t.add(Node{Kind: NodeString, StringHandle: handle, Left: -1, Right: -1})
}

func (t *Tree) AddWindow(signalID uint32, fn WindowFunc) int {
	return t.add(Node{Kind: NodeWindowFunction, SignalID: signalID, Window: fn, Left: -1, Right: -1})
}

// AddIsNull builds an IS_NULL(SIGNAL) node directly over a signal ID, per
// spec: IS_NULL always wraps a signal reference, never an arbitrary
// subexpression.
func (t *Tree) AddIsNull(signalID uint32) int {
	return t.add(Node{Kind: NodeIsNull, SignalID: signalID, Left: -1, Right: -1})
}

// AddCustom builds a CUSTOM_FUNCTION node. args must already be built.
func (t *Tree) AddCustom(name string, args ...int) int {
	for _, a := range args {
		t.checkChild(a)
	}
	cp := append([]int(nil), args...)
	return t.add(Node{Kind: NodeCustomFunction, FuncName: name, Args: cp, Left: -1, Right: -1})
}

// AddGeohash builds a GEOHASH_FUNCTION node over (lat, lon[, precision]).
func (t *Tree) AddGeohash(args ...int) int {
	for _, a := range args {
		t.checkChild(a)
	}
	cp := append([]int(nil), args...)
	return t.add(Node{Kind: NodeGeohashFunction, Args: cp, Left: -1, Right: -1})
}

// AddUnary builds a unary operator node (only OPERATOR_LOGICAL_NOT today).
func (t *Tree) AddUnary(kind NodeKind, child int) int {
	t.checkChild(child)
	return t.add(Node{Kind: kind, Left: child, Right: -1})
}

// AddBinary builds a binary operator node.
func (t *Tree) AddBinary(kind NodeKind, left, right int) int {
	t.checkChild(left)
	t.checkChild(right)
	return t.add(Node{Kind: kind, Left: left, Right: right})
}

// SetRoot designates idx as the tree's evaluation entry point.
func (t *Tree) SetRoot(idx int) {
	t.checkChild(idx)
	t.Root = idx
}

// children returns the child indices of n in evaluation order.
func children(n Node) []int {
	switch n.Kind {
	case NodeOpNot:
		return []int{n.Left}
	case NodeOpAnd, NodeOpOr, NodeOpEqual, NodeOpNotEqual,
		NodeOpSmaller, NodeOpSmallerEqual, NodeOpBigger, NodeOpBiggerEqual,
		NodeOpPlus, NodeOpMinus, NodeOpMultiply, NodeOpDivide:
		return []int{n.Left, n.Right}
	case NodeCustomFunction, NodeGeohashFunction:
		return n.Args
	default:
		return nil
	}
}
