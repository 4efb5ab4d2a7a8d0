package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/AlxanderArt/HumanOS/internal/handlers"
	"github.com/AlxanderArt/HumanOS/internal/kafka"
	"github.com/AlxanderArt/HumanOS/internal/postgres"
	"github.com/AlxanderArt/HumanOS/internal/quality"
	"github.com/AlxanderArt/HumanOS/internal/workflow"
	"github.com/AlxanderArt/HumanOS/services/worker/config"
)

// role is the handler set a worker process runs plus whatever it must close
// on shutdown.
type role struct {
	registry *handlers.Registry
	close    func()
}

func buildRole(cfg config.Config, store *postgres.Store, logger *slog.Logger) (*role, error) {
	registry := handlers.NewRegistry()
	r := &role{registry: registry, close: func() {}}

	switch cfg.Role {
	case config.RoleQualityScorer:
		registry.Register(handlers.NewQualityScorer(quality.NewScorer(store, logger)))

	case config.RoleWorkflowEngine:
		registry.Register(handlers.NewWorkflowAdvancer(workflow.NewEngine(store, logger)))

	case config.RoleRelay:
		producer := kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
		r.close = func() { _ = producer.Close() }

		opts := []handlers.RelayOption{handlers.WithRelayLogger(logger)}
		if cfg.EscalationWebhookURL != "" {
			opts = append(opts, handlers.WithEscalationNotifier(
				handlers.NewEscalationWebhook(cfg.EscalationWebhookURL, cfg.EscalationHeaders),
			))
		}
		registry.Register(handlers.NewRelay(producer, opts...))

	default:
		return nil, fmt.Errorf("unknown worker role %q (want %s, %s or %s)",
			cfg.Role, config.RoleQualityScorer, config.RoleWorkflowEngine, config.RoleRelay)
	}
	return r, nil
}
