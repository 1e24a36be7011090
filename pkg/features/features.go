// Package features assembles the bot's built-in feature set and registers
// each feature's commands and passive handlers in a fixed order. Order
// matters: command scan position and passive priority ties both follow
// registration order.
package features

import (
	"fmt"

	"go.uber.org/zap"

	"tavernbot/pkg/logger"
)

// Feature is one registrable feature bundle.
type Feature interface {
	// Name identifies the feature in logs.
	Name() string
	// Register wires the feature's commands and passive handlers.
	Register() error
}

// RegisterAll registers every feature in order, failing fast on the first
// error.
func RegisterAll(log *logger.Logger, feats ...Feature) error {
	for _, f := range feats {
		if err := f.Register(); err != nil {
			return fmt.Errorf("registering feature %s: %w", f.Name(), err)
		}
		log.Debug("Registered feature", zap.String("feature", f.Name()))
	}
	log.Info("Features registered", zap.Int("count", len(feats)))
	return nil
}
