package trigger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/louisbranch/rockettree/internal/services/growth/domain/action"
	"github.com/louisbranch/rockettree/internal/services/growth/domain/growth"
)

// AccountBootstrapHandler creates the profile and seed growth state for a new
// account.
type AccountBootstrapHandler struct {
	store  AccountStore
	logger *zap.Logger
	clock  func() time.Time
}

// NewAccountBootstrapHandler creates an account bootstrap handler.
func NewAccountBootstrapHandler(store AccountStore, logger *zap.Logger, clock func() time.Time) *AccountBootstrapHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clock == nil {
		clock = time.Now
	}
	return &AccountBootstrapHandler{store: store, logger: logger, clock: clock}
}

// Handle bootstraps the account unless it already has growth state.
func (h *AccountBootstrapHandler) Handle(ctx context.Context, created action.AccountCreated) (bool, error) {
	if h == nil || h.store == nil {
		return false, Permanent(fmt.Errorf("account bootstrap handler is not configured"))
	}
	userID := strings.TrimSpace(created.UserID)
	if userID == "" {
		return false, Permanent(fmt.Errorf("account user id is required"))
	}

	ctx, span := tracer().Start(ctx, "trigger.AccountBootstrap")
	defer span.End()

	now := h.clock()
	ok, err := h.store.BootstrapAccount(ctx, action.DefaultProfile(userID, now), growth.SeedState(userID, now))
	if err != nil {
		span.RecordError(err)
		return false, fmt.Errorf("bootstrap account %s: %w", userID, err)
	}
	if ok {
		h.logger.Info("account bootstrapped", zap.String("user_id", userID))
	} else {
		h.logger.Debug("account already bootstrapped", zap.String("user_id", userID))
	}
	return ok, nil
}
