// Package consuma provides the public API for embedding the request service.
// This is the stable API for external consumers.
package consuma

import (
	"github.com/Thejas-AM/consuma-api/internal/runtime"
)

// Service runs the HTTP surface, the request lifecycle and callback delivery.
// See internal/runtime.Service for full documentation.
type Service = runtime.Service

// Option is a functional option for configuring a Service.
type Option = runtime.Option

// New creates a new Service with the given options.
// Example:
//
//	svc, err := consuma.New(
//	    consuma.WithConfigFile("config.yaml"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithConfig     = runtime.WithConfig
	WithConfigFile = runtime.WithConfigFile

	// Collaborators
	WithStore          = runtime.WithStore
	WithExecutor       = runtime.WithExecutor
	WithURLValidator   = runtime.WithURLValidator
	WithCallbackClient = runtime.WithCallbackClient
	WithTaskQueue      = runtime.WithTaskQueue
	WithRedisClient    = runtime.WithRedisClient

	// Advanced options
	WithLogger = runtime.WithLogger
)
