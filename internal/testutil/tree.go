package testutil

import (
	"math/rand/v2"
	"slices"
	"strconv"
	"sync"

	"github.com/roach88/stepsplit/internal/ir"
	"github.com/roach88/stepsplit/internal/tracepath"
)

// TreeShape bounds the calls generated per block.
type TreeShape struct {
	Transactions int // top-level calls per block
	MaxDepth     int // nesting below a top-level call
	MaxFanout    int // children per call
	MaxSteps     int64

	// FeeCalls adds a validation call and a fee-payment call, each with one
	// child, to every block.
	FeeCalls bool
}

// DefaultShape is a small but branchy block.
var DefaultShape = TreeShape{
	Transactions: 3,
	MaxDepth:     3,
	MaxFanout:    3,
	MaxSteps:     1000,
	FeeCalls:     true,
}

// Generator produces synthetic call trees with known exclusive steps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Generator struct {
	mu   sync.Mutex
	seed uint64
	rng  *rand.Rand
}

// NewGenerator creates a generator for seed.
func NewGenerator(seed uint64) *Generator {
	g := &Generator{seed: seed}
	g.Reset()
	return g
}

// Reset rewinds the generator so the next Block repeats the first one.
func (g *Generator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.rng = rand.New(rand.NewPCG(g.seed, g.seed^0x9e3779b97f4a7c15))
}

// Block generates the rows of one block in path order, together with the
// exclusive steps each call should come out with.
func (g *Generator) Block(block int64, shape TreeShape) ([]ir.TraceRow, map[string]int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	b := &blockBuilder{
		rng:       g.rng,
		shape:     shape,
		block:     block,
		exclusive: make(map[string]int64),
	}
	prefix := tracepath.Path{strconv.FormatInt(block, 10)}
	for tx := 0; tx < shape.Transactions; tx++ {
		b.call(append(slices.Clone(prefix), strconv.Itoa(tx)), shape.MaxDepth)
	}
	if shape.FeeCalls {
		for _, tok := range []string{tracepath.TokenValidate, tracepath.TokenFee} {
			b.call(append(slices.Clone(prefix), tok), min(shape.MaxDepth, 1))
		}
	}

	slices.SortFunc(b.rows, func(a, c rowWithPath) int {
		return tracepath.Compare(a.path, c.path)
	})
	rows := make([]ir.TraceRow, len(b.rows))
	for i, r := range b.rows {
		rows[i] = r.row
	}
	return rows, b.exclusive
}

// Blocks generates consecutive blocks starting at first.
func (g *Generator) Blocks(first int64, n int, shape TreeShape) ([]ir.TraceRow, map[string]int64) {
	var rows []ir.TraceRow
	exclusive := make(map[string]int64)
	for i := range int64(n) {
		blockRows, blockExclusive := g.Block(first+i, shape)
		rows = append(rows, blockRows...)
		for k, v := range blockExclusive {
			exclusive[k] = v
		}
	}
	return rows, exclusive
}

type rowWithPath struct {
	path tracepath.Path
	row  ir.TraceRow
}

type blockBuilder struct {
	rng       *rand.Rand
	shape     TreeShape
	block     int64
	rows      []rowWithPath
	exclusive map[string]int64
}

// call adds the call at p and its descendants and returns its cumulative
// steps.
func (b *blockBuilder) call(p tracepath.Path, depth int) int64 {
	own := b.rng.Int64N(b.shape.MaxSteps + 1)
	b.exclusive[p.Key()] = own

	idx := len(b.rows)
	b.rows = append(b.rows, rowWithPath{path: p})

	cumulative := own
	if depth > 0 && b.shape.MaxFanout > 0 {
		fanout := b.rng.IntN(b.shape.MaxFanout + 1)
		if p.Reserved() {
			fanout = 1
		}
		for i := 0; i < fanout; i++ {
			cumulative += b.call(append(slices.Clone(p), strconv.Itoa(i)), depth-1)
		}
	}

	b.rows[idx].row = ir.TraceRow{
		BlockNumber: b.block,
		TraceID:     p.Key(),
		TxHash:      "0x" + strconv.FormatInt(b.block, 16),
		TraceType:   "CALL",
		Caller:      "0x1",
		Contract:    "0x" + strconv.FormatUint(b.rng.Uint64N(8)+1, 16),
		Function:    "__execute__",
		Steps:       ir.Int64(cumulative),
	}
	return cumulative
}
