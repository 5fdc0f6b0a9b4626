package governor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Approve issues a fresh time-boxed, single-use approval for one allowlisted
// action. The helper token is scoped to the approval and shares its expiry.
// The approved action-log row must land before the approval row: an approval
// that is not in the audit trail must not exist.
func (a *API) Approve(ctx context.Context, actionID string, params map[string]any, chatID, userID *string) (Approval, error) {
	action, err := a.catalog.Lookup(actionID)
	if err != nil {
		return Approval{}, err
	}

	commands, err := renderCommands(action, params)
	if err != nil {
		return Approval{}, err
	}

	approvalID := uuid.New()
	now := time.Now().UTC()
	expiresAt := now.Add(a.config.ApprovalTTL)

	var chat string
	if chatID != nil {
		chat = *chatID
	}
	token, err := a.tokens.Mint(approvalID.String(), action.ID, chat, expiresAt)
	if err != nil {
		return Approval{}, fmt.Errorf("mint helper token: %w", err)
	}

	logID, err := a.appendActionLog(ctx, chatID, userID, action.ID, StatusApproved,
		fmt.Sprintf("approved %s", action.Title),
		map[string]any{
			"approval_id": approvalID.String(),
			"action_id":   action.ID,
			"commands":    commands,
			"expires_at":  expiresAt.Format(time.RFC3339),
		}, "", "")
	if err != nil {
		return Approval{}, fmt.Errorf("append approved action log: %w", err)
	}

	row := approvalModel{
		ID:          approvalID,
		ActionID:    action.ID,
		ChatID:      chatID,
		ActionLogID: logID,
		HelperToken: token,
		IssuedAt:    now,
		ExpiresAt:   expiresAt,
		Consumed:    false,
		CreatedAt:   now,
	}

	dbCtx, cancel := withTimeout(ctx)
	defer cancel()
	if err := a.store.ORM.WithContext(dbCtx).Create(&row).Error; err != nil {
		return Approval{}, fmt.Errorf("persist approval: %w", err)
	}

	a.metrics.ApprovalsIssued.Inc()
	return row.toAPI(), nil
}

// consumeApproval validates and atomically burns an approval. The conditional
// update is the single-use guarantee: two concurrent executions race on the
// consumed flag and exactly one wins.
func (a *API) consumeApproval(ctx context.Context, approvalID uuid.UUID, actionID string) (Approval, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var row approvalModel
	err := a.store.ORM.WithContext(ctx).
		Where("id = ?", approvalID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Approval{}, fmt.Errorf("%w: approval %s not found", ErrApprovalMismatch, approvalID)
	}
	if err != nil {
		return Approval{}, fmt.Errorf("load approval: %w", err)
	}

	if row.ActionID != actionID {
		return Approval{}, fmt.Errorf("%w: approval %s covers %q, not %q", ErrApprovalMismatch, approvalID, row.ActionID, actionID)
	}

	now := time.Now().UTC()
	if row.Consumed {
		return Approval{}, fmt.Errorf("%w: approval %s already used", ErrApprovalExpired, approvalID)
	}
	if !now.Before(row.ExpiresAt) {
		return Approval{}, fmt.Errorf("%w: approval %s expired at %s", ErrApprovalExpired, approvalID, row.ExpiresAt.Format(time.RFC3339))
	}

	res := a.store.ORM.WithContext(ctx).
		Model(&approvalModel{}).
		Where("id = ? AND consumed = ?", approvalID, false).
		Updates(map[string]any{"consumed": true, "consumed_at": now})
	if res.Error != nil {
		return Approval{}, fmt.Errorf("consume approval: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return Approval{}, fmt.Errorf("%w: approval %s already used", ErrApprovalExpired, approvalID)
	}

	row.Consumed = true
	row.ConsumedAt = &now
	return row.toAPI(), nil
}
