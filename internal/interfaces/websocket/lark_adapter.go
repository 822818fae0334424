// Package websocket provides WebSocket adapters for external event sources.
// This package translates protocol-specific events into workflow transition requests.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	larkevent "github.com/larksuite/oapi-sdk-go/v3/event"
	larkdispatcher "github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"
	"go.uber.org/zap"

	"github.com/garyjia/civic-workflow/internal/application/port"
	"github.com/garyjia/civic-workflow/internal/domain/role"
	domainwf "github.com/garyjia/civic-workflow/internal/domain/workflow"
)

// DefaultEventType is the custom Lark event that carries a transition request
const DefaultEventType = "civic.transition_request"

// TransitionRequester is the engine entry point the adapter drives
type TransitionRequester interface {
	RequestTransition(ctx context.Context, kind domainwf.EntityKind, entityID string, principal role.Principal, target domainwf.State) (domainwf.State, error)
}

// PrincipalResolver maps a Lark operator to a principal and its roles
type PrincipalResolver interface {
	PrincipalIDByContact(ctx context.Context, openID string) (string, error)
	RolesOf(ctx context.Context, principalID string) (role.Set, error)
}

// LarkAdapter wraps the Lark WebSocket SDK client and turns transition
// request events into engine calls on behalf of the operator.
type LarkAdapter struct {
	appID      string
	appSecret  string
	eventType  string
	engine     TransitionRequester
	principals PrincipalResolver
	logger     *zap.Logger

	wsClient *larkws.Client
	mu       sync.RWMutex
	started  bool
}

// LarkAdapterConfig holds configuration for the Lark WebSocket adapter.
type LarkAdapterConfig struct {
	AppID     string
	AppSecret string
	EventType string // defaults to DefaultEventType
}

// NewLarkAdapter creates a new Lark WebSocket adapter.
func NewLarkAdapter(cfg LarkAdapterConfig, engine TransitionRequester, principals PrincipalResolver, logger *zap.Logger) *LarkAdapter {
	eventType := cfg.EventType
	if eventType == "" {
		eventType = DefaultEventType
	}
	return &LarkAdapter{
		appID:      cfg.AppID,
		appSecret:  cfg.AppSecret,
		eventType:  eventType,
		engine:     engine,
		principals: principals,
		logger:     logger,
	}
}

// Start initializes the WebSocket connection and begins listening for Lark events.
// This method blocks until the context is cancelled or an error occurs.
func (a *LarkAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("adapter already started")
	}

	// Verification token and encrypt key are not used in WebSocket mode
	sdkDispatcher := larkdispatcher.NewEventDispatcher("", "")
	sdkDispatcher.OnCustomizedEvent(a.eventType, a.handleLarkEvent)

	a.wsClient = larkws.NewClient(
		a.appID,
		a.appSecret,
		larkws.WithEventHandler(sdkDispatcher),
	)

	a.started = true
	a.mu.Unlock()

	a.logger.Info("Starting Lark WebSocket adapter",
		zap.String("app_id", a.appID),
		zap.String("event_type", a.eventType))

	if err := a.wsClient.Start(ctx); err != nil {
		a.logger.Error("Lark WebSocket client error", zap.Error(err))
		return fmt.Errorf("websocket client error: %w", err)
	}

	return nil
}

// Stop marks the adapter stopped.
// Note: The Lark SDK WebSocket client is stopped by cancelling the context passed to Start.
func (a *LarkAdapter) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.started {
		return nil
	}

	a.started = false
	a.logger.Info("Lark WebSocket adapter stopped")
	return nil
}

// IsRunning returns whether the adapter is currently running.
func (a *LarkAdapter) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.started
}

// transitionRequestEvent is the payload of a transition request event
type transitionRequestEvent struct {
	Header struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
	} `json:"header"`
	Event struct {
		Operator struct {
			OpenID string `json:"open_id"`
		} `json:"operator"`
		Kind        string `json:"kind"`
		EntityID    string `json:"entity_id"`
		TargetState string `json:"target_state"`
	} `json:"event"`
}

// handleLarkEvent is called by the Lark SDK for each transition request.
// Rejected requests are logged and acknowledged; only infrastructure
// failures are returned so the platform redelivers them.
func (a *LarkAdapter) handleLarkEvent(ctx context.Context, evt *larkevent.EventReq) error {
	var req transitionRequestEvent
	if err := json.Unmarshal(evt.Body, &req); err != nil {
		a.logger.Error("Failed to parse Lark event payload",
			zap.Error(err),
			zap.Int("body_length", len(evt.Body)))
		return fmt.Errorf("failed to parse event payload: %w", err)
	}

	fields := []zap.Field{
		zap.String("lark_event_id", req.Header.EventID),
		zap.String("kind", req.Event.Kind),
		zap.String("entity_id", req.Event.EntityID),
		zap.String("target_state", req.Event.TargetState),
	}

	if req.Event.EntityID == "" || req.Event.TargetState == "" || req.Event.Operator.OpenID == "" {
		a.logger.Warn("Ignoring incomplete transition request", fields...)
		return nil
	}

	kind, err := domainwf.ParseKind(req.Event.Kind)
	if err != nil {
		a.logger.Warn("Ignoring transition request for unknown kind", fields...)
		return nil
	}

	principal, err := a.resolvePrincipal(ctx, req.Event.Operator.OpenID)
	if err != nil {
		if errors.Is(err, errUnknownOperator) {
			a.logger.Warn("Ignoring transition request from unlinked operator",
				append(fields, zap.String("open_id", req.Event.Operator.OpenID))...)
			return nil
		}
		return err
	}
	fields = append(fields, zap.String("principal_id", principal.ID))

	state, err := a.engine.RequestTransition(ctx, kind, req.Event.EntityID, principal, domainwf.State(req.Event.TargetState))
	switch {
	case err == nil:
		a.logger.Info("Transition applied from Lark", append(fields, zap.String("state", state.String()))...)
		return nil
	case domainwf.IsCommitted(err):
		a.logger.Warn("Transition applied from Lark without notification", append(fields, zap.Error(err))...)
		return nil
	case isRejection(err):
		a.logger.Info("Transition request rejected", append(fields, zap.Error(err))...)
		return nil
	default:
		a.logger.Error("Transition request failed", append(fields, zap.Error(err))...)
		return fmt.Errorf("transition request failed: %w", err)
	}
}

var errUnknownOperator = errors.New("operator is not linked to a principal")

func (a *LarkAdapter) resolvePrincipal(ctx context.Context, openID string) (role.Principal, error) {
	id, err := a.principals.PrincipalIDByContact(ctx, openID)
	if err != nil || id == "" {
		// Lookup errors other than a missing link are infrastructure failures
		if err != nil && !errors.Is(err, port.ErrPrincipalNotFound) {
			return role.Principal{}, fmt.Errorf("failed to resolve operator: %w", err)
		}
		return role.Principal{}, errUnknownOperator
	}

	roles, err := a.principals.RolesOf(ctx, id)
	if err != nil {
		return role.Principal{}, fmt.Errorf("failed to resolve operator roles: %w", err)
	}
	return role.Principal{ID: id, Roles: roles}, nil
}

// isRejection reports terminal or caller-retryable engine outcomes
func isRejection(err error) bool {
	return errors.Is(err, domainwf.ErrNotFound) ||
		errors.Is(err, domainwf.ErrUnknownKind) ||
		errors.Is(err, domainwf.ErrIllegalTransition) ||
		errors.Is(err, domainwf.ErrForbidden) ||
		errors.Is(err, domainwf.ErrConflict)
}
