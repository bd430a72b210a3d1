package detector

import (
	"context"
	"errors"
	"sync"
)

// ErrPoolClosed is returned by Detect after Close.
var ErrPoolClosed = errors.New("detector pool closed")

type detectJob struct {
	ctx       context.Context
	imageData []byte
	result    chan detectResult
}

type detectResult struct {
	faces []Face
	err   error
}

// Pool bounds the number of concurrent calls into a Detector. Callers block
// until a worker is free or their context is done.
type Pool struct {
	inner    Detector
	jobs     chan detectJob
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewPool starts workers goroutines in front of inner.
func NewPool(inner Detector, workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	p := &Pool{
		inner:    inner,
		jobs:     make(chan detectJob),
		stopChan: make(chan struct{}),
	}
	for range workers {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job := <-p.jobs:
			if err := job.ctx.Err(); err != nil {
				job.result <- detectResult{err: err}
				continue
			}
			faces, err := p.inner.Detect(job.ctx, job.imageData)
			job.result <- detectResult{faces: faces, err: err}
		case <-p.stopChan:
			return
		}
	}
}

// Detect runs inner.Detect on a pool worker.
func (p *Pool) Detect(ctx context.Context, imageData []byte) ([]Face, error) {
	job := detectJob{ctx: ctx, imageData: imageData, result: make(chan detectResult, 1)}

	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.stopChan:
		return nil, ErrPoolClosed
	}

	select {
	case r := <-job.result:
		return r.faces, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the workers after in-flight calls finish.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.stopChan)
	})
	p.wg.Wait()
}

func (p *Pool) EmbeddingSize() int            { return p.inner.EmbeddingSize() }
func (p *Pool) Compare(a, b []float32) float64 { return p.inner.Compare(a, b) }
func (p *Pool) Version() string                { return p.inner.Version() }
