package classifier

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/fraudguard/internal/domain"
)

// Build assembles the ensemble members from configuration, in the order
// statistical, neural, heuristic. Missing or broken model artifacts leave
// that member unavailable; invalid heuristic rules are a configuration error.
func Build(cfg domain.ClassifiersConfig, lexical []string, bus domain.EventBus) ([]Adapter, error) {
	statistical := loadModel("statistical", domain.KindStatistical, cfg.StatisticalModel, func(path string) (Model, error) {
		return LoadLogistic(path)
	}, cfg.Threshold, lexical)

	neural := loadModel("neural", domain.KindNeural, cfg.NeuralModel, func(path string) (Model, error) {
		return LoadDenseNetwork(path)
	}, cfg.Threshold, lexical)

	var analyzer TextAnalyzer
	switch cfg.Heuristic {
	case "", "rules":
		ra, err := NewRuleAnalyzer(cfg.Rules, cfg.MaxWorkers)
		if err != nil {
			return nil, err
		}
		analyzer = ra
	case "remote":
		if bus == nil {
			return nil, errors.New("remote heuristic requires an event bus")
		}
		analyzer = NewRemoteAnalyzer(bus)
	case "none":
		slog.Warn("heuristic classifier disabled")
	default:
		return nil, fmt.Errorf("unknown heuristic %q", cfg.Heuristic)
	}

	return []Adapter{statistical, neural, NewHeuristic(analyzer)}, nil
}

func loadModel(name string, kind domain.SignalKind, path string, load func(string) (Model, error), threshold float64, lexical []string) *ModelAdapter {
	if path == "" {
		slog.Warn("no model artifact configured, classifier unavailable", "classifier", name)
		return Disabled(name, kind, errors.New("no model artifact configured"))
	}

	model, err := load(path)
	if err != nil {
		slog.Warn("failed to load model artifact, classifier unavailable",
			"classifier", name,
			"path", path,
			"error", err,
		)
		return Disabled(name, kind, err)
	}

	a := newModelAdapter(name, kind, model, threshold)
	if err := a.CheckFeatures(lexical); err != nil {
		slog.Warn("model feature mismatch, classifier unavailable", "classifier", name, "error", err)
		return a
	}

	slog.Info("classifier loaded", "classifier", name, "path", path, "features", len(lexical))
	return a
}
