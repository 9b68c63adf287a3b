package engine

import (
	"context"
	"sync"

	"github.com/ThiagoRGoveia/spend-analytics/internal/models"
)

type call struct {
	run func(QueryEngine)
}

// Isolated confines an engine to one goroutine. Calls are queued to it and run one at a time;
// a caller may stop waiting through its context, in which case the call still completes on the
// engine goroutine and its result is discarded.
type Isolated struct {
	calls     chan call
	quit      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

func NewIsolated(eng QueryEngine) *Isolated {
	iso := &Isolated{
		calls:  make(chan call),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	go iso.loop(eng)
	return iso
}

func (i *Isolated) loop(eng QueryEngine) {
	defer close(i.exited)
	for {
		select {
		case c := <-i.calls:
			c.run(eng)
		case <-i.quit:
			i.closeErr = eng.Close()
			return
		}
	}
}

func (i *Isolated) do(ctx context.Context, fn func(QueryEngine) error) error {
	done := make(chan error, 1)
	c := call{run: func(eng QueryEngine) { done <- fn(eng) }}

	select {
	case <-i.quit:
		return models.ErrEngineClosed
	default:
	}

	select {
	case i.calls <- c:
	case <-i.quit:
		return models.ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Isolated) Load(ctx context.Context, table string, batch Batch, overrides TypeOverrides) error {
	return i.do(ctx, func(eng QueryEngine) error {
		return eng.Load(ctx, table, batch, overrides)
	})
}

func (i *Isolated) Exec(ctx context.Context, query string, args ...any) error {
	return i.do(ctx, func(eng QueryEngine) error {
		return eng.Exec(ctx, query, args...)
	})
}

func (i *Isolated) Query(ctx context.Context, query string, args ...any) ([]map[string]any, error) {
	var rows []map[string]any
	err := i.do(ctx, func(eng QueryEngine) error {
		var err error
		rows, err = eng.Query(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Close stops the engine goroutine and releases the engine. It returns only once both are
// gone; later calls fail with models.ErrEngineClosed.
func (i *Isolated) Close() error {
	i.closeOnce.Do(func() { close(i.quit) })
	<-i.exited
	return i.closeErr
}
