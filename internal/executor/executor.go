// Package executor maps task types to the computations a worker runs for them.
package executor

import (
	"encoding/json"
	"fmt"
	"runtime/debug"
	"sort"

	"github.com/JourdanThomas/CubeSat/internal/logger"
	"github.com/JourdanThomas/CubeSat/internal/models"
)

// Func computes a task payload into a JSON-serializable value
type Func func(data map[string]any) (any, error)

// Registry holds the executors a worker knows about. It is not safe for
// concurrent registration; workers populate it before running.
type Registry struct {
	funcs map[string]Func
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]Func)}
}

// Builtins returns a registry with the stock task types
func Builtins() *Registry {
	r := NewRegistry()
	r.Register(TypePrimeCheck, PrimeCheck)
	r.Register(TypeFibonacci, Fibonacci)
	r.Register(TypeMatrixMultiply, MatrixMultiply)
	return r
}

// Register binds fn to taskType, replacing any previous binding
func (r *Registry) Register(taskType string, fn Func) {
	r.funcs[taskType] = fn
}

// Types lists the registered task types in sorted order
func (r *Registry) Types() []string {
	types := make([]string, 0, len(r.funcs))
	for t := range r.funcs {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Execute runs the executor for task.Type and returns its JSON encoded value.
// Unknown types, executor errors and panics all come back as errors.
func (r *Registry) Execute(task models.Task) (value json.RawMessage, err error) {
	fn, ok := r.funcs[task.Type]
	if !ok {
		return nil, fmt.Errorf("unknown task type: %s", task.Type)
	}

	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Executor %s panicked on task %d: %v\n%s", task.Type, task.ID, rec, debug.Stack())
			value = nil
			err = fmt.Errorf("%s panicked: %v", task.Type, rec)
		}
	}()

	out, err := fn(task.Data)
	if err != nil {
		return nil, err
	}

	value, err = json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s result: %w", task.Type, err)
	}
	return value, nil
}

// Run executes task and wraps the outcome into a Result for workerID
func (r *Registry) Run(task models.Task, workerID string) models.Result {
	value, err := r.Execute(task)
	if err != nil {
		return models.NewErrorResult(task.ID, workerID, err)
	}
	return models.NewValueResult(task.ID, workerID, value)
}
