// Package spec defines the execution request shared by every executor arm.
package spec

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"capajail/internal/codejail/limits"
)

// ExtraFile is an auxiliary file made available in the sandbox working directory.
type ExtraFile struct {
	Name    string
	Content []byte
}

// Validate rejects names that would escape the sandbox directory.
func (f ExtraFile) Validate() error {
	if f.Name == "" {
		return fmt.Errorf("extra file name is required")
	}
	if f.Name != filepath.Base(f.Name) || strings.ContainsAny(f.Name, `/\`) || f.Name == "." || f.Name == ".." {
		return fmt.Errorf("extra file name %q must be a plain file name", f.Name)
	}
	return nil
}

// Request is the fully built unit of work handed to an executor.
// Code already carries the prologue.
type Request struct {
	Code                  string
	PythonPath            []string
	ExtraFiles            []ExtraFile
	Limits                limits.Map
	LimitOverridesContext string
	Slug                  string
	Unsafely              bool
}

// Executor runs a request against globals.
//
// A nil error means the code completed and globals were updated in place.
// An error coded errors.SafeExecFailed means the code itself failed; its message
// is the executor's error text. Any other error is an executor failure.
type Executor interface {
	Exec(ctx context.Context, req Request, globals map[string]any) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request, globals map[string]any) error

// Exec calls f.
func (f ExecutorFunc) Exec(ctx context.Context, req Request, globals map[string]any) error {
	return f(ctx, req, globals)
}
