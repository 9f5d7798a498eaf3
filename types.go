package powerpool

import "github.com/go-powerpool/powerpool/core"

// Re-exported types from core, so most callers need only import powerpool.

type (
	Work         = core.Work
	WorkState    = core.WorkState
	WorkFunc     = core.WorkFunc
	WorkCallback = core.WorkCallback
	WorkOptions  = core.WorkOptions

	ThreadPriority      = core.ThreadPriority
	RetryStrategy       = core.RetryStrategy
	RetryOption         = core.RetryOption
	TimeoutOption       = core.TimeoutOption
	DestroyThreadOption = core.DestroyThreadOption
	CollectionKind      = core.CollectionKind

	PoolOptions = core.PoolOptions
	PoolStats   = core.PoolStats

	Event      = core.Event
	EventKind  = core.EventKind
	Handler    = core.Handler
	Cooperator = core.Cooperator

	Logger       = core.Logger
	Field        = core.Field
	Metrics      = core.Metrics
	PanicHandler = core.PanicHandler

	WorkExecutionRecord = core.WorkExecutionRecord
)

const (
	WorkWaiting   = core.WorkWaiting
	WorkRunning   = core.WorkRunning
	WorkSucceeded = core.WorkSucceeded
	WorkFailed    = core.WorkFailed
	WorkStopped   = core.WorkStopped
	WorkCancelled = core.WorkCancelled
)

const (
	ThreadLowest      = core.ThreadLowest
	ThreadBelowNormal = core.ThreadBelowNormal
	ThreadNormal      = core.ThreadNormal
	ThreadAboveNormal = core.ThreadAboveNormal
	ThreadHighest     = core.ThreadHighest
)

const (
	RetryImmediate = core.RetryImmediate
	RetryRequeue   = core.RetryRequeue
)

const (
	CollectionQueue = core.CollectionQueue
	CollectionStack = core.CollectionStack
)

const (
	EventPoolStart   = core.EventPoolStart
	EventPoolIdle    = core.EventPoolIdle
	EventPoolTimeout = core.EventPoolTimeout
	EventWorkStart   = core.EventWorkStart
	EventWorkEnd     = core.EventWorkEnd
	EventWorkTimeout = core.EventWorkTimeout
	EventWorkStop    = core.EventWorkStop
	EventError       = core.EventError
)

var (
	NoRetry       = core.NoRetry
	ErrWorkStopped = core.ErrWorkStopped

	ErrPoolDisposed = core.ErrPoolDisposed
	ErrWorkNotFound = core.ErrWorkNotFound

	DefaultPoolOptions = core.DefaultPoolOptions
	GetCooperator      = core.GetCooperator

	F               = core.F
	NewDefaultLogger = core.NewDefaultLogger
	NewNoOpLogger    = core.NewNoOpLogger
)
