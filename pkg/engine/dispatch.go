package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/meshfed/gatewayd/pkg/broker"
	"github.com/meshfed/gatewayd/pkg/message"
	"github.com/meshfed/gatewayd/pkg/routing"
	"github.com/meshfed/gatewayd/pkg/sync"
	"github.com/meshfed/gatewayd/pkg/transport"
)

// messageDispatcher is the post-authentication hook connection.Manager
// calls for every inbound application envelope. It routes dedi-link's
// built-in protocol types to pkg/routing/pkg/sync directly (they have no
// message.Registry catalog entry — that catalog is reserved for
// operator-defined types) and falls back to the registry for everything
// else, the only place with simultaneous visibility into the router,
// syncer, broker, and registry needed to do so.
type messageDispatcher struct {
	router   *routing.Router
	syncer   *sync.Syncer
	broker   broker.Broker
	registry *message.Registry
	tr       *transport.Transport
}

func newMessageDispatcher(router *routing.Router, syncer *sync.Syncer, brk broker.Broker, registry *message.Registry, tr *transport.Transport) *messageDispatcher {
	return &messageDispatcher{router: router, syncer: syncer, broker: brk, registry: registry, tr: tr}
}

// Dispatch implements connection.Dispatcher.
func (d *messageDispatcher) Dispatch(ctx context.Context, networkID string, env *message.Envelope) (*message.Envelope, error) {
	switch env.MessageType {
	case "dedi-link.RouteRequest":
		return d.router.HandleRouteRequestEnvelope(env)
	case "dedi-link.RouteResponse":
		return nil, d.addResponse(ctx, env)
	case "dedi-link.RouteNotification":
		return nil, d.router.HandleRouteNotificationEnvelope(env)
	case "dedi-link.SyncNode":
		return nil, d.syncer.HandleSyncNodeEnvelope(ctx, env)
	case "dedi-link.SyncIndex":
		return nil, d.syncer.HandleSyncIndexEnvelope(env)
	case "dedi-link.SyncRequest":
		return d.syncer.HandleSyncRequestEnvelope(env)
	case "dedi-link.SyncResponse":
		return nil, d.addResponse(ctx, env)
	default:
		return d.dispatchCustom(ctx, env)
	}
}

func (d *messageDispatcher) addResponse(ctx context.Context, env *message.Envelope) error {
	raw, err := json.Marshal(env.Body)
	if err != nil {
		return err
	}
	return d.broker.AddResponse(ctx, env.Metadata.MessageID, raw)
}

// dispatchCustom handles an operator-defined catalog message type:
// response-only types (those with a configured precedence) are
// correlated to whoever is waiting via AddResponse; types with a
// configured destination are forwarded to the local service that owns
// them. Anything else is accepted with no further action.
func (d *messageDispatcher) dispatchCustom(ctx context.Context, env *message.Envelope) (*message.Envelope, error) {
	cfg, err := d.registry.Lookup(env.MessageType)
	if err != nil {
		return nil, fmt.Errorf("engine: unknown message type %s", env.MessageType)
	}
	if cfg.IsResponseOnly() {
		return nil, d.addResponse(ctx, env)
	}
	if cfg.HasDestination() {
		return nil, d.tr.Post(ctx, cfg.Destination, env, nil, nil)
	}
	return nil, nil
}
