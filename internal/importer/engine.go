package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/JonMunkholm/catalogimport/internal/catalog"
)

// BlockState is the reconciliation state of a block.
type BlockState string

const (
	BlockPending    BlockState = "pending"
	BlockResolving  BlockState = "resolving"
	BlockCommitted  BlockState = "committed"
	BlockRolledBack BlockState = "rolled_back"
)

// unexpectedFailure replaces the message of a recovered panic.
const unexpectedFailure = "unexpected failure while importing this product"

// BlockResult is the outcome of one block.
type BlockResult struct {
	Block  *Block
	State  BlockState
	Issues []Issue
}

// Result summarizes an import run. Failed is the ledger of rolled-back
// blocks in file order; Warned holds committed blocks that produced warnings.
type Result struct {
	Header    []string // raw header cells
	Blocks    int
	Committed int
	Failed    []BlockResult
	Warned    []BlockResult
	Duration  time.Duration
}

// Succeeded reports whether every block committed.
func (r *Result) Succeeded() bool {
	return len(r.Failed) == 0
}

// WarningCount is the number of warnings across committed blocks.
func (r *Result) WarningCount() int {
	n := 0
	for _, br := range r.Warned {
		n += len(br.Issues)
	}
	return n
}

// Progress is reported after every block.
type Progress struct {
	Block     int
	Line      int
	Label     string
	State     BlockState
	Committed int
	Failed    int
}

// ProgressFunc receives progress updates; it runs on the import goroutine.
type ProgressFunc func(Progress)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger block outcomes are written to.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithImageRoot resolves relative image directories against root.
func WithImageRoot(root string) Option {
	return func(e *Engine) { e.images = ImageLoader{Root: root} }
}

// WithVariantsOnly treats the file as standalone variant rows of existing
// products.
func WithVariantsOnly(on bool) Option {
	return func(e *Engine) { e.variantsOnly = on }
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(e *Engine) { e.progress = fn }
}

// Engine reconciles catalog files against a store, one block per
// transaction. Runs are sequential; an Engine must not run two files at once
// against the same store.
type Engine struct {
	store        catalog.Store
	images       ImageLoader
	logger       *slog.Logger
	variantsOnly bool
	progress     ProgressFunc
}

// NewEngine returns an engine writing to store.
func NewEngine(store catalog.Store, opts ...Option) *Engine {
	e := &Engine{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run imports every block of rows. Failed blocks are rolled back and
// recorded; the run continues with the next block. A read error or context
// cancellation stops the run and is returned with the partial result.
func (e *Engine) Run(ctx context.Context, rows *RowReader) (*Result, error) {
	start := time.Now()
	result := &Result{Header: rows.RawHeader()}
	grouper := NewGrouper(rows, GroupOptions{VariantsOnly: e.variantsOnly})

	defer func() { result.Duration = time.Since(start) }()

	for {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("import cancelled after %d blocks: %w", result.Blocks, err)
		}

		block, err := grouper.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return result, fmt.Errorf("read block %d: %w", result.Blocks+1, err)
		}

		br := e.runBlock(ctx, block)
		result.Blocks++
		switch br.State {
		case BlockCommitted:
			result.Committed++
			if len(br.Issues) > 0 {
				result.Warned = append(result.Warned, br)
			}
		default:
			result.Failed = append(result.Failed, br)
		}

		if e.progress != nil {
			e.progress(Progress{
				Block:     block.Index,
				Line:      block.FirstLine(),
				Label:     block.Label(),
				State:     br.State,
				Committed: result.Committed,
				Failed:    len(result.Failed),
			})
		}
	}

	e.logger.Info("catalog import finished",
		"blocks", result.Blocks,
		"committed", result.Committed,
		"failed", len(result.Failed),
		"warnings", result.WarningCount(),
		"duration", time.Since(start))
	return result, nil
}

// runBlock reconciles one block in its own transaction.
func (e *Engine) runBlock(ctx context.Context, block *Block) (br BlockResult) {
	br = BlockResult{Block: block, State: BlockPending}
	log := &issueLog{}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("panic while importing block",
				"block", block.Index,
				"line", block.FirstLine(),
				"panic", r,
				"stack", string(debug.Stack()))
			log.fail(errors.New(unexpectedFailure))
			br.State = BlockRolledBack
			br.Issues = log.issues
		}
	}()

	br.State = BlockResolving
	err := e.store.RunInTx(ctx, func(tx catalog.Tx) error {
		return e.reconcileBlock(ctx, tx, block, log)
	})
	if err != nil {
		log.fail(err)
		br.State = BlockRolledBack
		br.Issues = log.issues
		e.logger.Debug("block rolled back",
			"block", block.Index,
			"line", block.FirstLine(),
			"label", block.Label(),
			"error", err)
		return br
	}

	br.State = BlockCommitted
	br.Issues = log.issues
	if log.hasWarnings() {
		e.logger.Debug("block committed with warnings",
			"block", block.Index,
			"label", block.Label(),
			"warnings", len(log.issues))
	}
	return br
}

// reconcileBlock runs the product phase then each variant row in order,
// stopping at the first error.
func (e *Engine) reconcileBlock(ctx context.Context, tx catalog.Tx, block *Block, log *issueLog) error {
	if block.Orphan {
		return ErrOrphanVariants
	}

	if e.variantsOnly {
		for _, row := range block.VariantRows {
			f, err := ParseVariantRow(row)
			if err != nil {
				return err
			}
			ps, err := existingProductState(ctx, tx, f.Slug)
			if err != nil {
				return err
			}
			if err := e.reconcileVariant(ctx, tx, ps, f, log); err != nil {
				return err
			}
		}
		return nil
	}

	hasVariants := len(block.VariantRows) > 0
	ps, err := e.reconcileProduct(ctx, tx, *block.ProductRow, hasVariants, log)
	if err != nil {
		return err
	}

	for _, row := range block.VariantRows {
		f, err := ParseVariantRow(row)
		if err != nil {
			return err
		}
		if err := e.reconcileVariant(ctx, tx, ps, f, log); err != nil {
			return err
		}
	}

	if hasVariants {
		if err := (resolver{tx: tx}).applyStock(ctx, ps.master.ID, ps.deferredStocks); err != nil {
			return err
		}
	}
	return nil
}
