package jsonpost

import (
	"fmt"

	"github.com/guided-traffic/json-post-proxy/internal/pipeline"
)

// Register installs the coordinator into the rewrite phase. Nothing is
// registered when no location enabled json_decode, so servers that do not
// use the feature never see the handler.
func Register(reg pipeline.Registrar, c *Coordinator, enabled bool) error {
	if !enabled {
		c.logger.Debug("json_decode not used by any location, handler not registered")
		return nil
	}

	if err := reg.Register(pipeline.PhaseRewrite, c.Handle); err != nil {
		return fmt.Errorf("failed to register %s rewrite phase handler: %w", Module.Name(), err)
	}

	c.logger.Debug("Registered rewrite phase handler")
	return nil
}
