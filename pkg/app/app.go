// Package app defines the runtime contract shared by cmd/* entrypoints.
//
// It lets binaries start application components without depending on
// their concrete implementations.
package app

// Runner represents a runnable application component.
type Runner interface {
	Run() error
}
