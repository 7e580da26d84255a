package engine

import (
	"context"
	"fmt"

	"github.com/hupe1980/debatemesh/core"
)

// CallbackType defines the lifecycle points where callbacks can be executed.
//
// Callbacks hook into the step loop without modifying engine logic:
//   - BeforeStep/AfterStep: around one reasoning step
//   - OnStateChange: whenever a context transitions execution state
//   - OnError: when a run enters StateError
//
// Callbacks run synchronously. A BeforeStep callback returning an error
// aborts the run with an internal error; other callback errors are logged
// and ignored.
type CallbackType string

const (
	// CallbackBeforeStep is triggered before a reasoning step is routed.
	// Use for validation, instrumentation or rate limiting.
	CallbackBeforeStep CallbackType = "before_step"

	// CallbackAfterStep is triggered after a step has been appended and
	// persisted. Use for metrics collection or post-processing.
	CallbackAfterStep CallbackType = "after_step"

	// CallbackOnStateChange is triggered on every execution state transition.
	// Use for auditing or reactive processing.
	CallbackOnStateChange CallbackType = "on_state_change"

	// CallbackOnError is triggered when a run enters StateError.
	// Use for alerting or recovery workflows.
	CallbackOnError CallbackType = "on_error"
)

// CallbackContext carries the information a callback needs to act on a
// lifecycle event. Snapshot is a clone; mutating it has no effect on the run.
type CallbackContext struct {
	// Snapshot is the agent context at the time of the event.
	Snapshot *core.AgentContext

	// CallbackType indicates which lifecycle point triggered this execution.
	CallbackType CallbackType

	// From / To are populated for state change events.
	From core.ExecutionState
	To   core.ExecutionState

	// Err is populated for error events.
	Err error

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]interface{}
}

// Callback defines the interface for step loop lifecycle hooks.
//
// Implementations should be fast (they run synchronously inside the step
// loop), safe against panics, and stateless between invocations.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic with the provided context.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a function as a callback implementation.
//
// Example:
//
//	auditCallback := NewFunctionCallback(
//	    CallbackOnStateChange,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("agent %s: %s -> %s", cc.Snapshot.AgentID, cc.From, cc.To)
//	        return nil
//	    },
//	)
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a new function-based callback.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager holds registered callbacks and executes them per type in
// registration order. Registration is not thread-safe; register everything
// before starting runs.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// RegisterCallback adds a callback for its declared type.
func (cm *CallbackManager) RegisterCallback(callback Callback) {
	callbackType := callback.Type()
	cm.callbacks[callbackType] = append(cm.callbacks[callbackType], callback)
}

// ExecuteCallbacks executes all registered callbacks for the specified type.
// The first callback error stops the chain and is returned.
func (cm *CallbackManager) ExecuteCallbacks(
	ctx context.Context,
	callbackType CallbackType,
	callbackCtx *CallbackContext,
) error {
	callbacks, exists := cm.callbacks[callbackType]
	if !exists {
		return nil
	}

	for _, callback := range callbacks {
		if err := callback.Execute(ctx, callbackCtx); err != nil {
			return fmt.Errorf("callback %s: %w", callbackType, err)
		}
	}

	return nil
}
