package gojaworker

// workerOptions holds configuration options for Run.
type workerOptions struct {
	ready func(w *Worker)
}

// Option configures Run.
type Option interface {
	applyWorker(*workerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyWorkerFunc func(*workerOptions) error
}

func (o *optionImpl) applyWorker(opts *workerOptions) error {
	return o.applyWorkerFunc(opts)
}

// WithReady configures a hook, called on the worker's goroutine after it has
// been registered, and its globals bound, but before the script is run.
func WithReady(fn func(w *Worker)) Option {
	return &optionImpl{func(opts *workerOptions) error {
		opts.ready = fn
		return nil
	}}
}

func resolveOptions(opts []Option) (*workerOptions, error) {
	cfg := &workerOptions{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt.applyWorker(cfg); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
