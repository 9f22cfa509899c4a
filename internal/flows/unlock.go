package flows

import (
	"context"
	"errors"
	"strconv"

	"github.com/casework/authcore/account"
	"github.com/casework/authcore/internal/lockout"
)

type UnlockDeps struct {
	AtomicUpdate func(ctx context.Context, id string, mutate account.Mutator) (account.Account, error)

	MetricInc func(int)
	EmitAudit func(context.Context, AuditEntry)

	UnlockMetric    int
	UnlockedEvent   string
	EngineNotReady  error
	AccountNotFound error
}

// RunUnlock clears the lockout fields. Unlocking an account that is not locked is a
// successful no-op.
func RunUnlock(ctx context.Context, accountID string, deps UnlockDeps) error {
	if deps.MetricInc == nil {
		deps.MetricInc = noopMetric
	}
	if deps.EmitAudit == nil {
		deps.EmitAudit = noopAudit
	}
	if deps.AtomicUpdate == nil {
		return deps.EngineNotReady
	}

	var changed bool
	acct, err := deps.AtomicUpdate(ctx, accountID, func(a *account.Account) error {
		changed = lockout.Unlock(a)
		return nil
	})
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return deps.AccountNotFound
		}
		return err
	}

	deps.MetricInc(deps.UnlockMetric)
	deps.EmitAudit(ctx, AuditEntry{
		Event:     deps.UnlockedEvent,
		Success:   true,
		AccountID: acct.ID,
		LoginName: acct.LoginName,
		Metadata: func() map[string]string {
			return map[string]string{"changed": strconv.FormatBool(changed)}
		},
	})
	return nil
}
