// Package debug hooks the eino visual debugger into the process.
package debug

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwego/eino-ext/devops"
	"github.com/rs/zerolog"
)

// DevopsURL is where the devops server listens once started.
const DevopsURL = "http://localhost:52538"

var (
	once    sync.Once
	initErr error
)

// StartDevops starts the eino devops server. Graphs compiled afterwards show up in the
// debugger; graphs compiled before are not captured. Only the first call has an effect.
func StartDevops(ctx context.Context, log zerolog.Logger) error {
	once.Do(func() {
		if err := devops.Init(ctx); err != nil {
			initErr = fmt.Errorf("failed to initialize eino debug plugin: %w", err)
			return
		}
		log.Info().Str("url", DevopsURL).Msg("eino devops server started")
	})
	return initErr
}
