// Package inmemory provides an in-memory implementation of the JobRepository interface.
// This module integrates the in-memory repository into the application's dependency graph using Fx.
package inmemory

import (
	"go.uber.org/fx"

	repository "github.com/tracelens/dispatch/pkg/dispatch/core/domain/repository"
)

// Module is an Fx module that provides InMemoryJobRepository as a repository.JobRepository interface.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewInMemoryJobRepository,
			fx.As(new(repository.JobRepository)),
		),
	),
)
