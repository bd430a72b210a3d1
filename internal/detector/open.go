package detector

import (
	"context"
	"fmt"
	"time"

	"github.com/kozaktomas/face-enroll/internal/config"
)

const probeTimeout = 5 * time.Second

// Open selects a backend from configuration and wraps it in a worker pool.
// "auto" probes the InsightFace server and fails with ErrUnavailable when it
// does not answer.
func Open(ctx context.Context, cfg config.DetectorConfig) (*Pool, error) {
	var d Detector
	switch cfg.Backend {
	case "insightface":
		d = NewInsightFace(cfg.URL, cfg.Model, cfg.EmbeddingDim, cfg.Timeout)
	case "auto", "":
		client := NewInsightFace(cfg.URL, cfg.Model, cfg.EmbeddingDim, cfg.Timeout)
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		defer cancel()
		if err := client.Health(probeCtx); err != nil {
			return nil, fmt.Errorf("%w: insightface at %s: %v", ErrUnavailable, cfg.URL, err)
		}
		d = client
	default:
		return nil, fmt.Errorf("%w: %q", errUnknownBackend, cfg.Backend)
	}
	return NewPool(d, cfg.Workers), nil
}
