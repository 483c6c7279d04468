// Package revops provides the public API for embedding the query pipeline.
// This is the stable API for external consumers.
package revops

import (
	"github.com/GuyDuerFB/revops-ai-framework-sub002/internal/runtime"
)

// Pipeline is the main entry point for running the query pipeline.
// See internal/runtime.Pipeline for full documentation.
type Pipeline = runtime.Pipeline

// Option is a functional option for configuring a Pipeline.
type Option = runtime.Option

// New creates a new Pipeline with the given options.
// Example:
//
//	p, err := revops.New(
//	    revops.WithFileConfig("config.yaml"),
//	    revops.WithLogger(logger),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Collaborators
	WithAgent          = runtime.WithAgent
	WithEventPublisher = runtime.WithEventPublisher

	// Advanced options
	WithLogger   = runtime.WithLogger
	WithMetrics  = runtime.WithMetrics
	WithListener = runtime.WithListener
)
