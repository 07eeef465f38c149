// Package scheduler provides a registry of named, bounded job queues. The
// queues are used by the offload filter to limit how many suspended
// response chains may continue concurrently.
package scheduler

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aryszka/jobqueue"
	log "github.com/sirupsen/logrus"

	"github.com/zalando/respipe/metrics"
)

// note: Config must stay comparable because it is used to detect changes
// when reconfiguring a queue

// Config can be used to provide configuration of a queue.
type Config struct {

	// MaxConcurrency defines how many jobs are allowed to run concurrently.
	// Defaults to 1.
	MaxConcurrency int `yaml:"max-concurrency"`

	// MaxQueueSize defines how many jobs may be waiting in the stack.
	// Defaults to infinite.
	MaxQueueSize int `yaml:"max-queue-size"`

	// Timeout defines how long a job can be waiting in the stack.
	// Defaults to infinite.
	Timeout time.Duration `yaml:"timeout"`
}

// QueueStatus reports the current status of a queue. It can be used for metrics.
type QueueStatus struct {

	// ActiveJobs represents the number of the jobs currently being handled.
	ActiveJobs int

	// QueuedJobs represents the number of jobs waiting to be handled.
	QueuedJobs int
}

// Queue objects implement a LIFO queue for continuing the suspended
// chains, with a maximum allowed concurrency and queue size.
type Queue struct {
	name      string
	queue     *jobqueue.Stack
	config    Config
	activeKey string
	queuedKey string
}

// Options provides options for the registry.
type Options struct {

	// MetricsUpdateTimeout defines the frequence of how often the queue
	// metrics are updated. Defaults to 1s.
	MetricsUpdateTimeout time.Duration

	// Metrics, when set, receives the gauges of the active and queued
	// jobs of every queue.
	Metrics metrics.Metrics

	// Queues are created when the registry is created.
	Queues map[string]Config
}

// Registry maintains a set of named queues.
//
// When Metrics is set, then the registry starts a background goroutine
// for regularly take snapshots of the queues and update the corresponding
// gauges. This goroutine is started with the first queue and returns when
// the registry is closed.
type Registry struct {
	options   Options
	mu        sync.Mutex
	queues    map[string]*Queue
	measuring bool
	closed    bool
	quit      chan struct{}
	done      chan struct{}
}

// Wait blocks until a job can be processed or needs to be rejected.
// When it can be processed, calling done indicates that it has finished.
// It is mandatory to call done() when the job was processed. When the
// job needs to be rejected, an error will be returned, jobqueue.ErrStackFull
// or jobqueue.ErrTimeout.
func (q *Queue) Wait() (done func(), err error) {
	return q.queue.Wait()
}

// Name returns the name that the queue was registered with.
func (q *Queue) Name() string { return q.name }

// Status returns the current status of a queue.
func (q *Queue) Status() QueueStatus {
	st := q.queue.Status()
	return QueueStatus{
		ActiveJobs: st.ActiveJobs,
		QueuedJobs: st.QueuedJobs,
	}
}

// Config returns the configuration that the queue was created with.
func (q *Queue) Config() Config {
	return q.config
}

func jobOptions(c Config) jobqueue.Options {
	return jobqueue.Options{
		MaxConcurrency: c.MaxConcurrency,
		MaxStackSize:   c.MaxQueueSize,
		Timeout:        c.Timeout,
	}
}

func (q *Queue) reconfigure(c Config) {
	q.config = c
	q.queue.Reconfigure(jobOptions(c))
}

func (q *Queue) close() {
	q.queue.Close()
}

// RegistryWith (Options) creates a registry with the provided options.
func RegistryWith(o Options) *Registry {
	if o.MetricsUpdateTimeout <= 0 {
		o.MetricsUpdateTimeout = time.Second
	}

	r := &Registry{
		options: o,
		queues:  make(map[string]*Queue),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	for name, c := range o.Queues {
		r.Configure(name, c)
	}

	return r
}

// NewRegistry creates a registry with the default options.
func NewRegistry() *Registry {
	return RegistryWith(Options{})
}

func (r *Registry) newQueue(name string, c Config) *Queue {
	q := &Queue{
		name:   name,
		config: c,
		queue:  jobqueue.With(jobOptions(c)),
	}

	if r.options.Metrics != nil {
		q.activeKey = fmt.Sprintf(metrics.KeyQueueActive, name)
		q.queuedKey = fmt.Sprintf(metrics.KeyQueueQueued, name)
		r.measure()
	}

	return q
}

// Configure creates a queue with the given name, or, when it already
// exists, applies the new configuration to it, preserving the active and
// the queued jobs.
func (r *Registry) Configure(name string, c Config) *Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		log.Warnf("Registry closed, queue not configured: %s", name)
		return nil
	}

	if q, ok := r.queues[name]; ok {
		if q.config != c {
			log.Infof("Reconfiguring queue: %s", name)
			q.reconfigure(c)
		}

		return q
	}

	q := r.newQueue(name, c)
	r.queues[name] = q
	return q
}

// Get returns the queue with the given name.
func (r *Registry) Get(name string) (*Queue, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.queues[name]
	return q, ok
}

// Names returns the names of the registered queues, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.queues))
	for name := range r.queues {
		names = append(names, name)
	}

	sort.Strings(names)
	return names
}

func (r *Registry) snapshot() []*Queue {
	r.mu.Lock()
	defer r.mu.Unlock()

	qs := make([]*Queue, 0, len(r.queues))
	for _, q := range r.queues {
		qs = append(qs, q)
	}

	return qs
}

// expects the lock to be held
func (r *Registry) measure() {
	if r.measuring {
		return
	}

	r.measuring = true
	go func() {
		defer close(r.done)
		for {
			for _, q := range r.snapshot() {
				s := q.Status()
				r.options.Metrics.UpdateGauge(q.activeKey, float64(s.ActiveJobs))
				r.options.Metrics.UpdateGauge(q.queuedKey, float64(s.QueuedJobs))
			}

			select {
			case <-time.After(r.options.MetricsUpdateTimeout):
			case <-r.quit:
				return
			}
		}
	}()
}

// Close closes the registry, including gracefully tearing down the stored
// queues.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}

	r.closed = true
	for _, q := range r.queues {
		q.close()
	}

	measuring := r.measuring
	r.mu.Unlock()

	close(r.quit)
	if measuring {
		<-r.done
	}
}
