package core

import (
	"context"
	"fmt"
	"runtime"
	"time"
)

func defaultMaxThreads() int { return runtime.NumCPU() * 2 }

// =============================================================================
// PanicHandler: Interface for handling work-body panics
// =============================================================================

// PanicHandler is called when a work body panics during execution.
//
// Implementations should be thread-safe as they may be called concurrently
// by more than one worker.
type PanicHandler interface {
	// HandlePanic is called when a work body panics.
	HandlePanic(ctx context.Context, workID string, workerID string, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler prints panic information to stdout.
type DefaultPanicHandler struct{}

func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, workID string, workerID string, panicInfo any, stackTrace []byte) {
	fmt.Printf("[worker %s] work %s panicked: %v\n%s", workerID, workID, panicInfo, stackTrace)
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting work execution metrics.
// Implementations can send metrics to monitoring systems (Prometheus,
// StatsD, etc.). Methods must tolerate a nil receiver and be non-blocking.
type Metrics interface {
	// RecordWorkDuration records how long a work took to execute.
	RecordWorkDuration(poolName string, priority int, duration time.Duration)
	// RecordWorkPanic records that a work body panicked.
	RecordWorkPanic(poolName string, panicInfo any)
	// RecordQueueDepth records the current waiting-work count.
	RecordQueueDepth(poolName string, depth int)
	// RecordWorkRejected records that a work was rejected (the pool calls
	// it when Queue is called after Dispose).
	RecordWorkRejected(poolName string, reason string)
}

// NilMetrics is a no-op implementation, the pool's default.
type NilMetrics struct{}

func (m *NilMetrics) RecordWorkDuration(poolName string, priority int, duration time.Duration) {}
func (m *NilMetrics) RecordWorkPanic(poolName string, panicInfo any)                           {}
func (m *NilMetrics) RecordQueueDepth(poolName string, depth int)                               {}
func (m *NilMetrics) RecordWorkRejected(poolName string, reason string)                         {}

// =============================================================================
// RejectedWorkHandler: Interface for handling works the pool will not run
// =============================================================================

// RejectedWorkHandler is called when a work is rejected outright, e.g. the
// pool has been disposed.
type RejectedWorkHandler interface {
	HandleRejectedWork(poolName string, workID string, reason string)
}

// DefaultRejectedWorkHandler logs rejected works to stdout.
type DefaultRejectedWorkHandler struct{}

func (h *DefaultRejectedWorkHandler) HandleRejectedWork(poolName string, workID string, reason string) {
	fmt.Printf("[pool %s] work %s rejected: %s\n", poolName, workID, reason)
}

// =============================================================================
// PoolOptions: Pool-wide configuration
// =============================================================================

// DestroyThreadOption sets the worker floor: New starts MinThreads workers
// up front and rejects MinThreads > MaxThreads. KeepAliveTime is stored but
// never read; idle workers are not reclaimed.
type DestroyThreadOption struct {
	MinThreads    int
	KeepAliveTime time.Duration
}

// CollectionKind selects a worker's private waiting-work collection
// ordering (spec §4.1): FIFO within a priority bucket, or LIFO.
type CollectionKind int

const (
	CollectionQueue CollectionKind = iota
	CollectionStack
)

// PoolOptions configures a PowerPool. All fields are optional; DefaultPoolOptions
// fills in sensible values the way the teacher's DefaultTaskSchedulerConfig does.
type PoolOptions struct {
	Name    string
	Logger  Logger
	Metrics Metrics

	PanicHandler   PanicHandler
	RejectHandler  RejectedWorkHandler

	MaxThreads         int
	DestroyThread      DestroyThreadOption
	Timeout            TimeoutOption
	DefaultWorkTimeout TimeoutOption
	DefaultCallback    WorkCallback
	StartSuspended     bool

	// Collection selects every worker's private priority collection
	// variant; the zero value is CollectionQueue (FIFO within a bucket).
	Collection CollectionKind

	// DependencyReleasesOn controls which terminal states of a
	// prerequisite unblock its dependents. The source this system is
	// modeled on releases on any terminal transition (spec §9 open
	// question); that is the default here, overridable by callers who
	// want Failed prerequisites to block instead of release.
	DependencyReleasesOn func(WorkState) bool
}

// DefaultPoolOptions returns a PoolOptions populated with the pool's
// default behaviors: 2x hardware concurrency max threads, no suspension,
// no timeouts, no-op ambient handlers, and "any terminal state releases
// dependents".
func DefaultPoolOptions() PoolOptions {
	return PoolOptions{
		Logger:        &NoOpLogger{},
		Metrics:       &NilMetrics{},
		PanicHandler:  &DefaultPanicHandler{},
		RejectHandler: &DefaultRejectedWorkHandler{},
		MaxThreads:    defaultMaxThreads(),
		DestroyThread: DestroyThreadOption{MinThreads: 0, KeepAliveTime: 60 * time.Second},
		DependencyReleasesOn: func(WorkState) bool { return true },
	}
}

// ConfigError is returned from New when DestroyThread.MinThreads exceeds
// MaxThreads.
type ConfigError struct{ Msg string }

func (e *ConfigError) Error() string { return e.Msg }
