package service

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/superxlabs/superx/pkg/a2a"
)

// handleAgentList returns the raw agent records.
func (gateway *Gateway) handleAgentList(ctx fiber.Ctx) error {
	return ctx.JSON(fiber.Map{"agents": gateway.catalog.List()})
}

// handleCatalogDocument publishes the directory of hosted agent cards.
// Cards come from cached metadata where present; agents without one get a
// minimal synthesized entry so the directory stays complete.
func (gateway *Gateway) handleCatalogDocument(ctx fiber.Ctx) error {
	agents := gateway.catalog.List()
	cards := make([]a2a.Card, 0, len(agents))

	for _, agent := range agents {
		card := agent.CachedCard()
		if !card.Valid() {
			card = a2a.Card{
				"name":        agent.ID,
				"description": "registered agent",
			}
		}
		cards = append(cards, gateway.rewriteCard(card.Normalize(), agent))
	}

	return ctx.JSON(fiber.Map{"agents": cards})
}

// handleHealth reports gateway liveness plus per-worker supervision
// state.
func (gateway *Gateway) handleHealth(ctx fiber.Ctx) error {
	return ctx.JSON(fiber.Map{
		"status":  "ok",
		"uptime":  time.Since(gateway.started).String(),
		"agents":  len(gateway.catalog.List()),
		"tasks":   len(gateway.store.List(0)),
		"workers": gateway.pool.Health(),
	})
}

// handleCluster describes this gateway instance for peers and operators.
func (gateway *Gateway) handleCluster(ctx fiber.Ctx) error {
	agents := gateway.catalog.List()
	ids := make([]string, 0, len(agents))
	for _, agent := range agents {
		ids = append(ids, agent.ID)
	}

	return ctx.JSON(fiber.Map{
		"name":      "superx-gateway",
		"publicUrl": gateway.config.PublicURL,
		"started":   gateway.started.UTC().Format(time.RFC3339),
		"agents":    ids,
		"workers":   gateway.pool.Health(),
	})
}
