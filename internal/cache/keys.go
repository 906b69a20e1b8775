package cache

import (
	"fmt"
)

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}

func RegistrationCooldownKey(ownerID string) string {
	return fmt.Sprintf("cooldown:register:%s", ownerID)
}

func AgentProfileKey(agentID string) string {
	return fmt.Sprintf("agent:profile:%s", agentID)
}
