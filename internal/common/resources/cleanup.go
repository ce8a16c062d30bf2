// Package resources provides small lifecycle-management primitives for
// the index's long-lived collaborators (storage backends, the pager,
// the worker pool): a registry that closes everything it owns in
// reverse registration order on shutdown.
package resources

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/arx-os/lidarindex/internal/logger"
)

// Closer represents a resource that can be closed
type Closer interface {
	Close() error
}

// CloseFunc is an adapter to allow regular functions to be used as Closers
type CloseFunc func() error

func (f CloseFunc) Close() error {
	return f()
}

// ResourceManager manages resource lifecycle and cleanup
type ResourceManager struct {
	resources []Closer
	mu        sync.Mutex
	closed    bool
}

// NewResourceManager creates a new resource manager
func NewResourceManager() *ResourceManager {
	return &ResourceManager{
		resources: make([]Closer, 0),
	}
}

// Register adds a resource to be managed
func (rm *ResourceManager) Register(resource Closer) {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed {
		// If already closed, close the new resource immediately
		if err := resource.Close(); err != nil {
			logger.Errorf("Failed to close resource after manager shutdown: %v", err)
		}
		return
	}

	rm.resources = append(rm.resources, resource)
}

// RegisterFunc registers a cleanup function
func (rm *ResourceManager) RegisterFunc(fn func() error) {
	rm.Register(CloseFunc(fn))
}

// Close closes all registered resources in reverse order
func (rm *ResourceManager) Close() error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed {
		return nil
	}

	rm.closed = true

	var errs []error
	// Close in reverse order (LIFO)
	for i := len(rm.resources) - 1; i >= 0; i-- {
		if err := rm.resources[i].Close(); err != nil {
			errs = append(errs, err)
			logger.Errorf("Failed to close resource: %v", err)
		}
	}

	// Clear resources
	rm.resources = nil

	if len(errs) > 0 {
		return fmt.Errorf("failed to close %d resources", len(errs))
	}

	return nil
}

// SafeClose closes a resource safely, logging any errors
func SafeClose(resource io.Closer, name string) {
	if resource == nil {
		return
	}

	if err := resource.Close(); err != nil {
		logger.Errorf("Failed to close %s: %v", name, err)
	}
}

// SafeCloseWithTimeout closes a resource with a timeout
func SafeCloseWithTimeout(resource io.Closer, name string, timeout time.Duration) {
	if resource == nil {
		return
	}

	done := make(chan bool, 1)
	go func() {
		if err := resource.Close(); err != nil {
			logger.Errorf("Failed to close %s: %v", name, err)
		}
		done <- true
	}()

	select {
	case <-done:
		// Closed successfully
	case <-time.After(timeout):
		logger.Errorf("Timeout closing %s after %v", name, timeout)
	}
}

// WithResource executes a function with automatic resource cleanup
func WithResource[T io.Closer](
	factory func() (T, error),
	fn func(T) error,
) error {
	resource, err := factory()
	if err != nil {
		return err
	}
	defer SafeClose(resource, "resource")

	return fn(resource)
}

// WithTimeout executes a function with a timeout and cleanup
func WithTimeout(
	ctx context.Context,
	timeout time.Duration,
	fn func(context.Context) error,
) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}