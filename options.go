package safepoint

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/joeycumines/logiface"
)

const (
	// DefaultArrivalPollInterval is the default interval at which the
	// driving thread re-checks arrivals, while waiting for other threads.
	DefaultArrivalPollInterval = 100 * time.Millisecond

	// DefaultWaitTime is the default period after which the driving thread
	// reports threads that have not arrived.
	DefaultWaitTime = 5 * time.Second

	// DefaultMaxWaitTime is the default period after which the driving
	// thread terminates the process.
	DefaultMaxWaitTime = 60 * time.Second
)

// managerOptions holds configuration options for Manager creation.
type managerOptions struct {
	logger                *logiface.Logger[logiface.Event]
	flag                  *Flag
	interrupter           Interrupter
	fibers                FiberAccessor
	exit                  func(code int)
	dumpWriter            io.Writer
	resetInterruptHandler func() error
	reinterruptRates      map[time.Duration]int
	arrivalPollInterval   time.Duration
	waitTime              time.Duration
	maxWaitTime           time.Duration
}

// Option configures a Manager instance.
type Option interface {
	applyManager(*managerOptions) error
}

// optionImpl implements Option.
type optionImpl struct {
	applyManagerFunc func(*managerOptions) error
}

func (o *optionImpl) applyManager(opts *managerOptions) error {
	return o.applyManagerFunc(opts)
}

// WithLogger configures the logger, used for diagnostics. A nil logger
// disables logging. Defaults to a JSON logger, writing warnings (and above)
// to stderr.
func WithLogger(logger *logiface.Logger[logiface.Event]) Option {
	return &optionImpl{func(opts *managerOptions) error {
		opts.logger = logger
		return nil
	}}
}

// WithFlag configures the fast-path flag, allowing it to be shared between
// Manager instances. Defaults to a new flag per Manager.
func WithFlag(flag *Flag) Option {
	return &optionImpl{func(opts *managerOptions) error {
		if flag == nil {
			return fmt.Errorf("%w: nil flag", ErrInvalidOption)
		}
		opts.flag = flag
		return nil
	}}
}

// WithInterrupter configures the mechanism used to interrupt other threads,
// when a safepoint is requested. Defaults to signalling Thread.Interrupted.
func WithInterrupter(interrupter Interrupter) Option {
	return &optionImpl{func(opts *managerOptions) error {
		if interrupter == nil {
			return fmt.Errorf("%w: nil interrupter", ErrInvalidOption)
		}
		opts.interrupter = interrupter
		return nil
	}}
}

// WithFiberAccessor configures how the currently executing fiber of a thread
// is determined. Defaults to Thread.ActiveFiber.
func WithFiberAccessor(fibers FiberAccessor) Option {
	return &optionImpl{func(opts *managerOptions) error {
		if fibers == nil {
			return fmt.Errorf("%w: nil fiber accessor", ErrInvalidOption)
		}
		opts.fibers = fibers
		return nil
	}}
}

// WithExitFunc configures the function used to terminate the process, if a
// thread fails to reach a safepoint within the max wait time. Defaults to
// os.Exit.
//
// If the function returns, the driving thread continues waiting.
func WithExitFunc(exit func(code int)) Option {
	return &optionImpl{func(opts *managerOptions) error {
		if exit == nil {
			return fmt.Errorf("%w: nil exit func", ErrInvalidOption)
		}
		opts.exit = exit
		return nil
	}}
}

// WithStackDumpWriter configures where stack traces of blocked threads are
// written. Defaults to os.Stderr.
func WithStackDumpWriter(w io.Writer) Option {
	return &optionImpl{func(opts *managerOptions) error {
		if w == nil {
			w = io.Discard
		}
		opts.dumpWriter = w
		return nil
	}}
}

// WithInterruptHandlerReset configures the hook used to restore the default
// interrupt (SIGINT) handling, when a thread appears to be stuck, in case an
// interactive handler is swallowing interrupts. Defaults to resetting
// os.Interrupt via os/signal. A nil hook disables the behavior.
func WithInterruptHandlerReset(reset func() error) Option {
	return &optionImpl{func(opts *managerOptions) error {
		opts.resetInterruptHandler = reset
		return nil
	}}
}

// WithArrivalPollInterval configures how often the driving thread re-checks
// arrivals (re-interrupting threads that have not arrived).
func WithArrivalPollInterval(d time.Duration) Option {
	return &optionImpl{func(opts *managerOptions) error {
		if d <= 0 {
			return fmt.Errorf("%w: arrival poll interval must be positive: %s", ErrInvalidOption, d)
		}
		opts.arrivalPollInterval = d
		return nil
	}}
}

// WithWaitTime configures the period after which (and between which) stuck
// threads are reported.
func WithWaitTime(d time.Duration) Option {
	return &optionImpl{func(opts *managerOptions) error {
		if d <= 0 {
			return fmt.Errorf("%w: wait time must be positive: %s", ErrInvalidOption, d)
		}
		opts.waitTime = d
		return nil
	}}
}

// WithMaxWaitTime configures the period after which the process is
// terminated, if threads have still not arrived.
func WithMaxWaitTime(d time.Duration) Option {
	return &optionImpl{func(opts *managerOptions) error {
		if d <= 0 {
			return fmt.Errorf("%w: max wait time must be positive: %s", ErrInvalidOption, d)
		}
		opts.maxWaitTime = d
		return nil
	}}
}

// WithReinterruptRates configures the rate limits applied, per thread, when
// re-interrupting threads that have not arrived. A nil or empty map disables
// rate limiting. See also catrate.NewLimiter.
func WithReinterruptRates(rates map[time.Duration]int) Option {
	return &optionImpl{func(opts *managerOptions) error {
		for window, limit := range rates {
			if window <= 0 || limit <= 0 {
				return fmt.Errorf("%w: invalid reinterrupt rate: %d per %s", ErrInvalidOption, limit, window)
			}
		}
		opts.reinterruptRates = rates
		return nil
	}}
}

// resolveOptions applies Option instances to managerOptions.
func resolveOptions(opts []Option) (*managerOptions, error) {
	cfg := &managerOptions{
		logger:                defaultLogger(),
		exit:                  os.Exit,
		dumpWriter:            os.Stderr,
		resetInterruptHandler: resetDefaultInterruptHandler,
		reinterruptRates:      map[time.Duration]int{time.Second: 20},
		arrivalPollInterval:   DefaultArrivalPollInterval,
		waitTime:              DefaultWaitTime,
		maxWaitTime:           DefaultMaxWaitTime,
	}
	for _, opt := range opts {
		if opt == nil {
			continue // Skip nil options gracefully
		}
		if err := opt.applyManager(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.maxWaitTime < cfg.waitTime {
		return nil, fmt.Errorf("%w: max wait time (%s) less than wait time (%s)", ErrInvalidOption, cfg.maxWaitTime, cfg.waitTime)
	}
	if cfg.flag == nil {
		cfg.flag = NewFlag()
	}
	if cfg.interrupter == nil {
		cfg.interrupter = InterrupterFunc(defaultInterrupt)
	}
	if cfg.fibers == nil {
		cfg.fibers = defaultFiberAccessor
	}
	return cfg, nil
}

func resetDefaultInterruptHandler() error {
	signal.Reset(os.Interrupt)
	return nil
}
