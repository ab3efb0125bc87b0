//go:build wireinject
// +build wireinject

package main

import (
	"context"

	"github.com/google/wire"

	"github.com/maxz073/finm-dashboard/internal/app"
)

// InitializeApp builds App (config, logger, adapter, state store, pipeline) via Wire.
// Caller must call the returned cleanup when done.
func InitializeApp(ctx context.Context) (*App, func(), error) {
	wire.Build(
		app.ProviderSet,
		wire.Struct(new(App), "*"),
	)
	return nil, nil, nil
}
