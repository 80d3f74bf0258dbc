package realtime

import (
	"context"
	"log/slog"

	"github.com/degenduel/supervisor/internal/broker"
)

// Mutation describes a single write crossing the persistence boundary,
// handed to a DataChangeHook so it can be translated into realtime events.
type Mutation struct {
	Kind     string
	Key      string
	Document any
}

// DataChangeHook translates a persistence-boundary mutation into realtime
// events. A hook error is logged and swallowed: it must never abort the
// underlying mutation that triggered it.
type DataChangeHook func(mutation Mutation) error

// ClientFanoutHook maps a realtime channel to the broadcast topic(s) it is
// forwarded to. It is read only through FanoutTopics; internal/control
// does not consult it.
type ClientFanoutHook func(channel string) []string

// Bus publishes domain events over a broker.Broker, using the channel
// vocabulary declared in topics.go. It is the realtime counterpart to
// internal/eventbus's in-process dispatcher — distinct on purpose: this
// bus crosses process boundaries, eventbus never does.
type Bus struct {
	transport broker.Broker
	log       *slog.Logger

	dataChangeHooks []DataChangeHook
	fanoutHook      ClientFanoutHook
}

// New constructs a Bus over the given broker transport.
func New(transport broker.Broker, log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{transport: transport, log: log}
}

// OnDataChange registers a hook invoked by NotifyMutation for every
// mutation observed at the persistence boundary.
func (b *Bus) OnDataChange(hook DataChangeHook) {
	b.dataChangeHooks = append(b.dataChangeHooks, hook)
}

// SetClientFanoutHook sets the channel→broadcast-topic mapping returned
// by FanoutTopics.
func (b *Bus) SetClientFanoutHook(hook ClientFanoutHook) {
	b.fanoutHook = hook
}

// FanoutTopics returns the broadcast topics a channel should be forwarded
// to, or nil if no fan-out hook is set or none apply.
func (b *Bus) FanoutTopics(channel string) []string {
	if b.fanoutHook == nil {
		return nil
	}
	return b.fanoutHook(channel)
}

// NotifyMutation runs every registered DataChangeHook against mutation.
// Hook errors are logged, never returned: a hook's job is best-effort
// translation, not mutation validation.
func (b *Bus) NotifyMutation(mutation Mutation) {
	for _, hook := range b.dataChangeHooks {
		if err := hook(mutation); err != nil {
			b.log.Warn("realtime: data-change hook failed", "kind", mutation.Kind, "key", mutation.Key, "error", err)
		}
	}
}

func (b *Bus) publish(ctx context.Context, channel string, payload any) error {
	return b.transport.Publish(ctx, channel, payload)
}

// PublishTokenPrice publishes a token price update, both on the namespace
// channel and the token's per-entity topic.
func (b *Bus) PublishTokenPrice(ctx context.Context, address string, payload any) error {
	if err := b.publish(ctx, TokenPrice, payload); err != nil {
		return err
	}
	return b.publish(ctx, tokenEntityChannel(address), payload)
}

// PublishTokenMetadata publishes a token metadata change.
func (b *Bus) PublishTokenMetadata(ctx context.Context, address string, payload any) error {
	if err := b.publish(ctx, TokenMetadata, payload); err != nil {
		return err
	}
	return b.publish(ctx, tokenEntityChannel(address), payload)
}

// PublishTokenRank publishes a token rank change.
func (b *Bus) PublishTokenRank(ctx context.Context, payload any) error {
	return b.publish(ctx, TokenRank, payload)
}

// PublishTokenVolume publishes a token volume update.
func (b *Bus) PublishTokenVolume(ctx context.Context, payload any) error {
	return b.publish(ctx, TokenVolume, payload)
}

// PublishTokenLiquidity publishes a token liquidity update.
func (b *Bus) PublishTokenLiquidity(ctx context.Context, payload any) error {
	return b.publish(ctx, TokenLiquidity, payload)
}

// PublishTokenDiscovery publishes a newly-discovered token.
func (b *Bus) PublishTokenDiscovery(ctx context.Context, payload any) error {
	return b.publish(ctx, TokenDiscovery, payload)
}

// PublishTokenPool publishes a token pool change.
func (b *Bus) PublishTokenPool(ctx context.Context, payload any) error {
	return b.publish(ctx, TokenPool, payload)
}

// PublishContestStatus publishes a contest status transition, both on the
// namespace channel and the contest's per-entity topic.
func (b *Bus) PublishContestStatus(ctx context.Context, contestID string, payload any) error {
	if err := b.publish(ctx, ContestStatus, payload); err != nil {
		return err
	}
	return b.publish(ctx, contestEntityChannel(contestID), payload)
}

// PublishContestParticipant publishes a contest participant change.
func (b *Bus) PublishContestParticipant(ctx context.Context, contestID string, payload any) error {
	if err := b.publish(ctx, ContestParticipant, payload); err != nil {
		return err
	}
	return b.publish(ctx, contestEntityChannel(contestID), payload)
}

// PublishContestPortfolio publishes a contest portfolio update.
func (b *Bus) PublishContestPortfolio(ctx context.Context, payload any) error {
	return b.publish(ctx, ContestPortfolio, payload)
}

// PublishContestTrade publishes a contest trade event.
func (b *Bus) PublishContestTrade(ctx context.Context, payload any) error {
	return b.publish(ctx, ContestTrade, payload)
}

// PublishContestPrizes publishes a contest prize distribution event.
func (b *Bus) PublishContestPrizes(ctx context.Context, payload any) error {
	return b.publish(ctx, ContestPrizes, payload)
}

// PublishContestCreation publishes a contest creation event.
func (b *Bus) PublishContestCreation(ctx context.Context, payload any) error {
	return b.publish(ctx, ContestCreation, payload)
}

// PublishUserBalance publishes a user balance change.
func (b *Bus) PublishUserBalance(ctx context.Context, payload any) error {
	return b.publish(ctx, UserBalance, payload)
}

// PublishUserAchievement publishes a user achievement unlock.
func (b *Bus) PublishUserAchievement(ctx context.Context, payload any) error {
	return b.publish(ctx, UserAchievement, payload)
}

// PublishUserLevel publishes a user level change.
func (b *Bus) PublishUserLevel(ctx context.Context, payload any) error {
	return b.publish(ctx, UserLevel, payload)
}

// PublishUserLogin publishes a user login event.
func (b *Bus) PublishUserLogin(ctx context.Context, payload any) error {
	return b.publish(ctx, UserLogin, payload)
}

// PublishUserProfile publishes a user profile change.
func (b *Bus) PublishUserProfile(ctx context.Context, payload any) error {
	return b.publish(ctx, UserProfile, payload)
}

// PublishSystemStatus publishes a system-wide status update.
func (b *Bus) PublishSystemStatus(ctx context.Context, payload any) error {
	return b.publish(ctx, SystemStatus, payload)
}

// PublishSystemHeartbeat publishes the global heartbeat tick.
func (b *Bus) PublishSystemHeartbeat(ctx context.Context, payload any) error {
	return b.publish(ctx, SystemHeartbeat, payload)
}

// PublishSystemShutdown publishes a shutdown notice.
func (b *Bus) PublishSystemShutdown(ctx context.Context, payload any) error {
	return b.publish(ctx, SystemShutdown, payload)
}

// PublishSystemError publishes a system-level error.
func (b *Bus) PublishSystemError(ctx context.Context, payload any) error {
	return b.publish(ctx, SystemError, payload)
}

// PublishSystemMaintenance publishes a maintenance-window notice.
func (b *Bus) PublishSystemMaintenance(ctx context.Context, payload any) error {
	return b.publish(ctx, SystemMaintenance, payload)
}

// PublishServiceStatus publishes a service status change, matching the
// Orchestrator's persisted state shape.
func (b *Bus) PublishServiceStatus(ctx context.Context, payload any) error {
	return b.publish(ctx, ServiceStatus, payload)
}
