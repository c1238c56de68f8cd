// Command catalog-server runs the storefront catalog HTTP service.
package main

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"go.uber.org/zap"

	catalogapp "github.com/xenking/storefront-catalog/internal/app"
)

func main() {
	app.Run(func(ctx context.Context, lg *zap.Logger, m *app.Telemetry) error {
		cfg, err := catalogapp.LoadConfig()
		if err != nil {
			return errors.Wrap(err, "load config")
		}
		return catalogapp.Run(ctx, lg, m, cfg)
	})
}
