// Package driver lowers every function of a module, several at a time.
package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"addrlower/internal/ir"
	"addrlower/internal/lower"
	"addrlower/internal/observ"
	"addrlower/internal/trace"
	"addrlower/internal/types"
)

// PhaseStatus tells whether a driver phase starts or ends.
type PhaseStatus int

const (
	PhaseStart PhaseStatus = iota
	PhaseEnd
)

// PhaseEvent marks a phase boundary. Elapsed is set on PhaseEnd.
type PhaseEvent struct {
	Name    string
	Status  PhaseStatus
	Elapsed time.Duration
}

// PhaseObserver is called on the goroutine that called LowerModule.
type PhaseObserver func(PhaseEvent)

// Options configures LowerModule.
type Options struct {
	// Jobs bounds concurrent functions; zero means GOMAXPROCS.
	Jobs int
	// Verify validates the module before and every function after lowering.
	Verify bool
	// DumpBefore and DumpAfter receive the textual form of every function,
	// in module order, around the pass.
	DumpBefore io.Writer
	DumpAfter  io.Writer
	Observer   PhaseObserver
}

// FuncResult reports the outcome for one function.
type FuncResult struct {
	Name        string
	Stats       lower.Stats
	Duration    time.Duration
	Fingerprint uint64 // xxhash of the lowered function's text
	Err         error
	// Dump is the function text at the point of failure, set with Err.
	Dump string

	before string
	after  string
}

// Result aggregates a module run.
type Result struct {
	Funcs       []FuncResult
	Total       lower.Stats
	Fingerprint uint64
	Timing      observ.Report
}

// Failed lists the functions whose lowering did not complete.
func (r *Result) Failed() []FuncResult {
	var out []FuncResult
	for _, fr := range r.Funcs {
		if fr.Err != nil {
			out = append(out, fr)
		}
	}
	return out
}

// LowerModule runs the lowering pass over every function of m. The first
// failing function cancels the ones not yet started; its error is returned
// together with the partial result.
func LowerModule(ctx context.Context, m *ir.Module, ti *types.Interner, opts Options) (*Result, error) {
	tracer := trace.FromContext(ctx)
	span := trace.Begin(tracer, trace.ScopeDriver, "lower-module:"+m.Name, trace.CurrentSpan(ctx).SpanID)
	ctx = trace.WithSpanContext(ctx, trace.SpanContext{SpanID: span.ID()})

	timer := observ.NewTimer()
	res := &Result{Funcs: make([]FuncResult, len(m.Funcs))}
	phase := func(name string, fn func() error) error {
		if opts.Observer != nil {
			opts.Observer(PhaseEvent{Name: name, Status: PhaseStart})
		}
		stop := timer.Start(name)
		started := time.Now()
		err := fn()
		note := ""
		if err != nil {
			note = "failed"
		}
		stop(note)
		if opts.Observer != nil {
			opts.Observer(PhaseEvent{Name: name, Status: PhaseEnd, Elapsed: time.Since(started)})
		}
		return err
	}

	err := func() error {
		if opts.Verify {
			if err := phase("verify-input", func() error { return ir.Validate(m, ti) }); err != nil {
				return fmt.Errorf("input module %s: %w", m.Name, err)
			}
		}
		if err := phase("lower", func() error { return lowerAll(ctx, m, ti, opts, res) }); err != nil {
			return err
		}
		return phase("report", func() error { return writeDumps(res, opts) })
	}()

	h := xxhash.New()
	for i := range res.Funcs {
		fr := &res.Funcs[i]
		res.Total.Add(fr.Stats)
		fmt.Fprintf(h, "%s:%016x\n", fr.Name, fr.Fingerprint)
	}
	res.Fingerprint = h.Sum64()
	res.Timing = timer.Report()
	if err != nil {
		span.End("failed")
		return res, err
	}
	span.End(res.Total.String())
	return res, nil
}

func lowerAll(ctx context.Context, m *ir.Module, ti *types.Interner, opts Options, res *Result) error {
	jobs := opts.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, min(jobs, len(m.Funcs))))
	for i, f := range m.Funcs {
		if f == nil {
			continue
		}
		// slots are disjoint per goroutine
		fr := &res.Funcs[i]
		fr.Name = f.Name
		g.Go(func() error {
			select {
			case <-gctx.Done():
				fr.Err = gctx.Err()
				return nil
			default:
			}
			return lowerFunc(gctx, f, ti, opts, fr)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func lowerFunc(ctx context.Context, f *ir.Func, ti *types.Interner, opts Options, fr *FuncResult) error {
	if opts.DumpBefore != nil {
		fr.before = f.String(ti)
	}
	started := time.Now()
	stats, err := lower.Run(ctx, f, ti, nil)
	fr.Duration = time.Since(started)
	fr.Stats = stats
	if err == nil && opts.Verify {
		if verr := ir.ValidateFunc(f, ti); verr != nil {
			err = fmt.Errorf("lowered function %s is invalid: %w", f.Name, verr)
		}
	}
	text := f.String(ti)
	if err != nil {
		fr.Err = err
		fr.Dump = text
		return err
	}
	fr.Fingerprint = xxhash.Sum64String(text)
	if opts.DumpAfter != nil {
		fr.after = text
	}
	return nil
}

func writeDumps(res *Result, opts Options) error {
	var errs []error
	emit := func(w io.Writer, header string, pick func(*FuncResult) string) {
		if w == nil {
			return
		}
		var sb strings.Builder
		for i := range res.Funcs {
			text := pick(&res.Funcs[i])
			if text == "" {
				continue
			}
			fmt.Fprintf(&sb, "// %s %s\n%s\n", header, res.Funcs[i].Name, text)
		}
		if _, err := io.WriteString(w, sb.String()); err != nil {
			errs = append(errs, err)
		}
	}
	emit(opts.DumpBefore, "before", func(fr *FuncResult) string { return fr.before })
	emit(opts.DumpAfter, "after", func(fr *FuncResult) string { return fr.after })
	return errors.Join(errs...)
}
