// Package realtime defines the domain-scoped channel vocabulary published
// over internal/broker and consumed by internal/control — token, contest,
// user, system, service, and websocket-transport events, plus per-entity
// broadcast topics.
package realtime

// Channel constants, grouped by namespace. Bus publishes on these channels
// and on the per-entity topics built below; it has no exported method that
// takes an arbitrary channel string.
const (
	TokenPrice      = "token:price"
	TokenMetadata   = "token:metadata"
	TokenRank       = "token:rank"
	TokenVolume     = "token:volume"
	TokenLiquidity  = "token:liquidity"
	TokenDiscovery  = "token:discovery"
	TokenPool       = "token:pool"

	ContestStatus      = "contest:status"
	ContestParticipant = "contest:participant"
	ContestPortfolio   = "contest:portfolio"
	ContestTrade       = "contest:trade"
	ContestPrizes      = "contest:prizes"
	ContestCreation    = "contest:creation"

	UserBalance     = "user:balance"
	UserAchievement = "user:achievement"
	UserLevel       = "user:level"
	UserLogin       = "user:login"
	UserProfile     = "user:profile"

	SystemStatus      = "system:status"
	SystemHeartbeat   = "system:heartbeat"
	SystemShutdown    = "system:shutdown"
	SystemError       = "system:error"
	SystemMaintenance = "system:maintenance"

	ServiceStatus = "service:status"

	WSConnect    = "ws:connect"
	WSDisconnect = "ws:disconnect"
)

// tokenEntityChannel returns the per-entity broadcast topic for a token
// address, e.g. "token:So111...".
func tokenEntityChannel(address string) string {
	return "token:" + address
}

// contestEntityChannel returns the per-entity broadcast topic for a
// contest ID, e.g. "contest:42".
func contestEntityChannel(contestID string) string {
	return "contest:" + contestID
}
