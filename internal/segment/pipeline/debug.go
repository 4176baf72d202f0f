package pipeline

import (
	"io"
	"log"
	"sync"

	"github.com/banshee-data/pointseg/internal/segment/l2graph"
	"github.com/banshee-data/pointseg/internal/segment/l3features"
	"github.com/banshee-data/pointseg/internal/segment/l4weights"
	"github.com/banshee-data/pointseg/internal/segment/l5walker"
)

var (
	mu          sync.RWMutex
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the three logging streams for the pipeline package
// and every layer package it drives. Pass nil for any writer to disable that
// stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	mu.Lock()
	opsLogger = newLogger("[pipeline] ", ops)
	diagLogger = newLogger("[pipeline] ", diag)
	traceLogger = newLogger("[pipeline] ", trace)
	mu.Unlock()

	l2graph.SetLogWriters(ops, diag, trace)
	l3features.SetLogWriters(ops, diag, trace)
	l4weights.SetLogWriters(ops, diag, trace)
	l5walker.SetLogWriters(ops, diag, trace)
}

// SetLegacyLogger routes all three streams to a single writer.
// Pass nil to disable all logging.
func SetLegacyLogger(w io.Writer) {
	SetLogWriters(w, w, w)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// opsf logs to the ops stream (actionable warnings, unlabelled points).
func opsf(format string, args ...interface{}) {
	mu.RLock()
	l := opsLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// diagf logs to the diag stream (stage timings, graph sizes).
func diagf(format string, args ...interface{}) {
	mu.RLock()
	l := diagLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}

// tracef logs to the trace stream (per-cluster output).
func tracef(format string, args ...interface{}) {
	mu.RLock()
	l := traceLogger
	mu.RUnlock()
	if l != nil {
		l.Printf(format, args...)
	}
}
