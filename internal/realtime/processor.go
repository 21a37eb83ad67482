// Package realtime wraps the aggregation pipeline as a continuously running
// service: a bounded priority job queue drained by a worker pool, a
// batch-window accumulator, a shared cluster-state cache and callback
// dispatch.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"newsmesh/internal/aggregator"
	"newsmesh/internal/config"
	"newsmesh/internal/model"
)

// ErrNotRunning is returned when jobs are submitted to a stopped processor.
var ErrNotRunning = errors.New("processor is not running")

// dequeueWait bounds how long a worker sleeps before re-checking the queues
// and the stop flag.
const dequeueWait = time.Second

// Processor is the realtime front of the pipeline. Lifecycle is
// stopped -> running -> stopped; Start and Stop are not reentrant.
type Processor struct {
	agent *aggregator.Agent
	cfg   config.RealtimeConfig
	log   zerolog.Logger

	priorityQueue *jobQueue
	normalQueue   *jobQueue
	wake          chan struct{}

	batchMu      sync.Mutex
	batchPending []*model.ProcessingJob
	batchKick    chan struct{}

	stateMu        sync.RWMutex
	activeClusters map[string]*model.ContentCluster
	recentChunks   []*model.ContentChunk
	recentNext     int

	cbMu         sync.RWMutex
	jobDone      []func(jobID string, out *model.AggregatorOutput)
	batchDone    []func(jobIDs []string, out *model.AggregatorOutput)
	clusterEvent []func(cluster *model.ContentCluster)
	errorEvent   []func(err error)

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    sync.WaitGroup
}

// New constructs a Processor in the stopped state.
func New(agent *aggregator.Agent, cfg config.RealtimeConfig, logger zerolog.Logger) *Processor {
	return &Processor{
		agent:          agent,
		cfg:            cfg,
		log:            logger.With().Str("component", "realtime").Logger(),
		priorityQueue:  newJobQueue(cfg.PriorityQueueSize),
		normalQueue:    newJobQueue(cfg.QueueSize),
		wake:           make(chan struct{}, 1),
		batchKick:      make(chan struct{}, 1),
		activeClusters: make(map[string]*model.ContentCluster),
		recentChunks:   make([]*model.ContentChunk, cfg.RecentChunkBuffer),
	}
}

// Start launches the worker pool and the batch accumulator.
func (p *Processor) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return errors.New("processor already running")
	}
	p.running = true
	p.stop = make(chan struct{})

	for i := 0; i < p.cfg.Workers; i++ {
		p.done.Add(1)
		go p.workerLoop(ctx, i)
	}
	p.done.Add(1)
	go p.batchLoop(ctx)

	p.log.Info().Int("workers", p.cfg.Workers).Msg("processor started")
	return nil
}

// Stop flips the running flag and joins all goroutines, waiting at most the
// configured stop timeout. In-flight aggregator calls finish on their own
// timeouts; they are not force-cancelled.
func (p *Processor) Stop() error {
	p.runMu.Lock()
	if !p.running {
		p.runMu.Unlock()
		return ErrNotRunning
	}
	p.running = false
	close(p.stop)
	p.runMu.Unlock()

	joined := make(chan struct{})
	go func() {
		p.done.Wait()
		close(joined)
	}()

	select {
	case <-joined:
		p.log.Info().Msg("processor stopped")
		return nil
	case <-time.After(p.cfg.StopTimeout):
		return fmt.Errorf("stop timed out after %s", p.cfg.StopTimeout)
	}
}

// Submit enqueues a job for per-job processing. Jobs at or above the priority
// threshold go to the high-priority queue. A full queue fails immediately.
func (p *Processor) Submit(job *model.ProcessingJob) error {
	if !p.isRunning() {
		return ErrNotRunning
	}
	fillJobDefaults(job)

	queue := p.normalQueue
	if job.Priority >= p.cfg.PriorityThreshold {
		queue = p.priorityQueue
	}
	if err := queue.push(job); err != nil {
		return err
	}

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// SubmitBatched adds a job to the batch accumulator. Its payload is folded
// into one aggregator call at the next flush, and its callback receives the
// shared result.
func (p *Processor) SubmitBatched(job *model.ProcessingJob) error {
	if !p.isRunning() {
		return ErrNotRunning
	}
	fillJobDefaults(job)

	p.batchMu.Lock()
	p.batchPending = append(p.batchPending, job)
	ready := len(p.batchPending) >= p.cfg.BatchSize
	p.batchMu.Unlock()

	if ready {
		select {
		case p.batchKick <- struct{}{}:
		default:
		}
	}
	return nil
}

// OnJobCompleted registers a callback fired after each per-job run.
func (p *Processor) OnJobCompleted(fn func(jobID string, out *model.AggregatorOutput)) {
	p.cbMu.Lock()
	p.jobDone = append(p.jobDone, fn)
	p.cbMu.Unlock()
}

// OnBatchCompleted registers a callback fired after each batch flush.
func (p *Processor) OnBatchCompleted(fn func(jobIDs []string, out *model.AggregatorOutput)) {
	p.cbMu.Lock()
	p.batchDone = append(p.batchDone, fn)
	p.cbMu.Unlock()
}

// OnClusterUpdated registers a callback fired for every cluster refreshed in
// the active set.
func (p *Processor) OnClusterUpdated(fn func(cluster *model.ContentCluster)) {
	p.cbMu.Lock()
	p.clusterEvent = append(p.clusterEvent, fn)
	p.cbMu.Unlock()
}

// OnError registers a callback fired when a run ends in an error output.
func (p *Processor) OnError(fn func(err error)) {
	p.cbMu.Lock()
	p.errorEvent = append(p.errorEvent, fn)
	p.cbMu.Unlock()
}

// ActiveClusters snapshots the current cluster cache.
func (p *Processor) ActiveClusters() []*model.ContentCluster {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	out := make([]*model.ContentCluster, 0, len(p.activeClusters))
	for _, cluster := range p.activeClusters {
		out = append(out, cluster)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// RecentChunks snapshots the ring of chunks folded in by recent runs, oldest
// first.
func (p *Processor) RecentChunks() []*model.ContentChunk {
	p.stateMu.RLock()
	defer p.stateMu.RUnlock()
	if len(p.recentChunks) == 0 {
		return nil
	}

	out := make([]*model.ContentChunk, 0, len(p.recentChunks))
	for i := 0; i < len(p.recentChunks); i++ {
		if chunk := p.recentChunks[(p.recentNext+i)%len(p.recentChunks)]; chunk != nil {
			out = append(out, chunk)
		}
	}
	return out
}

// QueueDepths reports the current queue lengths, priority first.
func (p *Processor) QueueDepths() (int, int) {
	return p.priorityQueue.len(), p.normalQueue.len()
}

func (p *Processor) isRunning() bool {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	return p.running
}

func fillJobDefaults(job *model.ProcessingJob) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
}

// workerLoop drains the priority queue first, falling back to the normal
// queue, blocking with a bounded wait when both are empty.
func (p *Processor) workerLoop(ctx context.Context, id int) {
	defer p.done.Done()
	log := p.log.With().Int("worker", id).Logger()

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		job, ok := p.priorityQueue.pop()
		if !ok {
			job, ok = p.normalQueue.pop()
		}
		if !ok {
			select {
			case <-p.stop:
				return
			case <-p.wake:
			case <-time.After(dequeueWait):
			}
			continue
		}

		log.Debug().Str("job", job.ID).Int("priority", job.Priority).Msg("processing job")
		out := p.agent.RunBatch(ctx, job.Items, job.Preferences)
		p.afterRun(out)

		p.invokeJobCallback(job, out)
		p.fireJobDone(job.ID, out)
	}
}

// batchLoop flushes accumulated jobs when the batch size is reached or the
// interval has elapsed since the last flush. Triggers are re-evaluated at
// least once per second.
func (p *Processor) batchLoop(ctx context.Context) {
	defer p.done.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	lastFlush := time.Now()

	flush := func() {
		p.batchMu.Lock()
		jobs := p.batchPending
		p.batchPending = nil
		p.batchMu.Unlock()
		lastFlush = time.Now()
		if len(jobs) == 0 {
			return
		}

		var items []model.RawItem
		var prefs *model.UserPreferences
		jobIDs := make([]string, len(jobs))
		for i, job := range jobs {
			items = append(items, job.Items...)
			if prefs == nil {
				prefs = job.Preferences
			}
			jobIDs[i] = job.ID
		}

		p.log.Debug().Int("jobs", len(jobs)).Int("items", len(items)).Msg("flushing batch")
		out := p.agent.RunBatch(ctx, items, prefs)
		p.afterRun(out)

		for _, job := range jobs {
			p.invokeJobCallback(job, out)
			p.fireJobDone(job.ID, out)
		}
		p.fireBatchDone(jobIDs, out)
	}

	for {
		select {
		case <-p.stop:
			// Final flush so accepted jobs are not dropped on shutdown.
			flush()
			return
		case <-p.batchKick:
			flush()
		case <-ticker.C:
			p.batchMu.Lock()
			size := len(p.batchPending)
			p.batchMu.Unlock()
			if size >= p.cfg.BatchSize || (size > 0 && time.Since(lastFlush) >= p.cfg.BatchInterval) {
				flush()
			}
		}
	}
}

// afterRun folds a successful run into the shared cluster cache and recent
// chunk ring, and dispatches cluster/error events.
func (p *Processor) afterRun(out *model.AggregatorOutput) {
	if out == nil {
		return
	}
	if out.Failed() {
		p.fireError(errors.New(out.Stats.Error))
		return
	}

	p.stateMu.Lock()
	for _, cluster := range out.Clusters {
		p.activeClusters[cluster.ID] = cluster
		for _, chunk := range cluster.Members {
			if len(p.recentChunks) > 0 {
				p.recentChunks[p.recentNext] = chunk
				p.recentNext = (p.recentNext + 1) % len(p.recentChunks)
			}
		}
	}
	p.evictLocked()
	p.stateMu.Unlock()

	for _, cluster := range out.Clusters {
		p.fireClusterUpdated(cluster)
	}
}

// evictLocked drops the oldest-by-update-time entries once the cache exceeds
// its cap. Callers hold stateMu.
func (p *Processor) evictLocked() {
	excess := len(p.activeClusters) - p.cfg.MaxActiveClusters
	if excess <= 0 {
		return
	}

	type entry struct {
		id      string
		updated time.Time
	}
	entries := make([]entry, 0, len(p.activeClusters))
	for id, cluster := range p.activeClusters {
		entries = append(entries, entry{id: id, updated: cluster.UpdatedAt})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].updated.Before(entries[j].updated) })

	for i := 0; i < excess; i++ {
		delete(p.activeClusters, entries[i].id)
	}
}

// invokeJobCallback runs the job's own completion callback, recovering from
// panics so a bad callback cannot crash a worker.
func (p *Processor) invokeJobCallback(job *model.ProcessingJob, out *model.AggregatorOutput) {
	if job.Callback == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Str("job", job.ID).Msg("job callback panicked")
		}
	}()
	job.Callback(out)
}

func (p *Processor) fireJobDone(jobID string, out *model.AggregatorOutput) {
	p.cbMu.RLock()
	callbacks := append([]func(string, *model.AggregatorOutput){}, p.jobDone...)
	p.cbMu.RUnlock()
	for _, fn := range callbacks {
		p.safeInvoke(func() { fn(jobID, out) })
	}
}

func (p *Processor) fireBatchDone(jobIDs []string, out *model.AggregatorOutput) {
	p.cbMu.RLock()
	callbacks := append([]func([]string, *model.AggregatorOutput){}, p.batchDone...)
	p.cbMu.RUnlock()
	for _, fn := range callbacks {
		p.safeInvoke(func() { fn(jobIDs, out) })
	}
}

func (p *Processor) fireClusterUpdated(cluster *model.ContentCluster) {
	p.cbMu.RLock()
	callbacks := append([]func(*model.ContentCluster){}, p.clusterEvent...)
	p.cbMu.RUnlock()
	for _, fn := range callbacks {
		p.safeInvoke(func() { fn(cluster) })
	}
}

func (p *Processor) fireError(err error) {
	p.cbMu.RLock()
	callbacks := append([]func(error){}, p.errorEvent...)
	p.cbMu.RUnlock()
	for _, fn := range callbacks {
		p.safeInvoke(func() { fn(err) })
	}
}

func (p *Processor) safeInvoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("event callback panicked")
		}
	}()
	fn()
}
