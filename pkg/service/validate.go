package service

import (
	"strings"

	"github.com/cohesivestack/valgo"
	"github.com/superxlabs/superx/pkg/a2a"
	"github.com/superxlabs/superx/pkg/errors"
)

// validateAgent gates catalog upserts.
func validateAgent(agent *a2a.Agent) *errors.RpcError {
	val := valgo.Is(
		valgo.String(agent.ID, "id").Not().Blank(),
		valgo.String(agent.URL, "url").Not().Blank(),
	)

	if agent.URL != "" {
		val.Is(valgo.String(agent.URL, "url").Passing(func(url string) bool {
			return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
		}, "must be an http(s) origin"))
	}
	if agent.Protocol != "" {
		val.Is(valgo.String(agent.Protocol, "protocol").InSlice([]string{a2a.ProtocolA2A, a2a.ProtocolMCP}))
	}

	if !val.Valid() {
		return errors.ErrInvalidParams.WithData(val.Error())
	}
	return nil
}

// validatePushConfig gates webhook registrations.
func validatePushConfig(cfg *a2a.PushConfig) *errors.RpcError {
	val := valgo.Is(
		valgo.String(cfg.TaskID, "taskId").Not().Blank(),
		valgo.String(cfg.URL, "url").Not().Blank(),
	)

	if cfg.URL != "" {
		val.Is(valgo.String(cfg.URL, "url").Passing(func(url string) bool {
			return strings.HasPrefix(url, "http://") || strings.HasPrefix(url, "https://")
		}, "must be an http(s) target"))
	}

	if !val.Valid() {
		return errors.ErrInvalidParams.WithData(val.Error())
	}
	return nil
}
