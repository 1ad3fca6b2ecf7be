// Package processor selects and constructs the content-understanding stage
// implementation. The pipeline treats it as an opaque capability: structured
// input in, structured result or typed failure out.
package processor

import (
	"fmt"

	"github.com/kiranshivaraju/contentpipe/internal/config"
	"github.com/kiranshivaraju/contentpipe/internal/processor/mock"
	"github.com/kiranshivaraju/contentpipe/internal/processor/remote"
	"github.com/kiranshivaraju/contentpipe/pkg/models"
)

// New constructs the configured processor. Called once at server startup.
func New(cfg config.ProcessorConfig) (models.Processor, error) {
	switch cfg.Kind {
	case "remote":
		return remote.NewProcessor(cfg.Remote, cfg.Timeout), nil
	case "mock":
		return mock.NewProcessor(), nil
	default:
		return nil, fmt.Errorf("unknown processor %q: must be one of remote, mock", cfg.Kind)
	}
}
