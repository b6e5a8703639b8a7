package reconcile

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	"github.com/mercanta/mercanta-backend/pkg/logger"
	"github.com/mercanta/mercanta-backend/pkg/metrics"
)

const defaultSweepBatchSize = 200

// Defect kinds published on the reconcile gauge.
const (
	DefectBalanceMismatch = "balance_mismatch"
	DefectNegativeFrozen  = "negative_frozen"
	DefectCreditOverdraw  = "credit_overdraw"
)

type walletLister interface {
	ListBatch(ctx context.Context, afterID uuid.UUID, limit int) ([]models.Wallet, error)
}

type entrySummer interface {
	SumCompletedByWallet(ctx context.Context, walletID uuid.UUID, exclude ...enums.TransactionCategory) (int64, error)
}

// LedgerSweepJobParams configures the balance verification sweep.
type LedgerSweepJobParams struct {
	Logger    *logger.Logger
	Wallets   walletLister
	Entries   entrySummer
	Metrics   *metrics.LedgerMetrics
	BatchSize int
}

// NewLedgerSweepJob builds the job that checks every wallet's settled balance
// against the sum of its completed ledger entries.
func NewLedgerSweepJob(params LedgerSweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Wallets == nil {
		return nil, fmt.Errorf("wallet repository required")
	}
	if params.Entries == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultSweepBatchSize
	}
	return &ledgerSweepJob{
		logg:      params.Logger,
		wallets:   params.Wallets,
		entries:   params.Entries,
		metrics:   params.Metrics,
		batchSize: batchSize,
	}, nil
}

type ledgerSweepJob struct {
	logg      *logger.Logger
	wallets   walletLister
	entries   entrySummer
	metrics   *metrics.LedgerMetrics
	batchSize int
}

func (j *ledgerSweepJob) Name() string { return "ledger-sweep" }

// Run pages through all wallets and flags three classes of defect: a settled
// balance that disagrees with the ledger, a negative frozen bucket, and credit
// drawn past the limit. Settlement entries snapshot the frozen bucket rather
// than the balance, so they are excluded from the expected sum.
func (j *ledgerSweepJob) Run(ctx context.Context) error {
	var (
		errs     error
		scanned  int
		balance  int
		frozen   int
		overdraw int
	)

	afterID := uuid.Nil
	for {
		wallets, err := j.wallets.ListBatch(ctx, afterID, j.batchSize)
		if err != nil {
			return fmt.Errorf("list wallets: %w", err)
		}
		if len(wallets) == 0 {
			break
		}
		for i := range wallets {
			scanned++
			mismatch, err := j.checkWallet(ctx, &wallets[i])
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("wallet %s: %w", wallets[i].ID, err))
				continue
			}
			if mismatch {
				balance++
			}
			if wallets[i].FrozenCents < 0 {
				frozen++
				j.reportDefect(ctx, &wallets[i], DefectNegativeFrozen)
			}
			if wallets[i].CreditUsedCents > wallets[i].CreditLimitCents || wallets[i].CreditUsedCents < 0 {
				overdraw++
				j.reportDefect(ctx, &wallets[i], DefectCreditOverdraw)
			}
		}
		afterID = wallets[len(wallets)-1].ID
		if len(wallets) < j.batchSize {
			break
		}
	}

	j.metrics.SetDefects(DefectBalanceMismatch, float64(balance))
	j.metrics.SetDefects(DefectNegativeFrozen, float64(frozen))
	j.metrics.SetDefects(DefectCreditOverdraw, float64(overdraw))

	reportCtx := j.logg.WithFields(ctx, map[string]any{
		"scanned":          scanned,
		"balance_mismatch": balance,
		"negative_frozen":  frozen,
		"credit_overdraw":  overdraw,
	})
	j.logg.Info(reportCtx, "ledger sweep complete")
	return errs
}

func (j *ledgerSweepJob) checkWallet(ctx context.Context, wallet *models.Wallet) (bool, error) {
	expected, err := j.entries.SumCompletedByWallet(ctx, wallet.ID, enums.TransactionCategoryWithdrawalSettlement)
	if err != nil {
		return false, fmt.Errorf("sum ledger entries: %w", err)
	}
	if wallet.BalanceCents == expected {
		return false, nil
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"wallet_id":     wallet.ID.String(),
		"owner_id":      wallet.OwnerID.String(),
		"balance_cents": wallet.BalanceCents,
		"ledger_cents":  expected,
		"drift_cents":   wallet.BalanceCents - expected,
	})
	j.logg.Warn(logCtx, "wallet balance disagrees with ledger")
	return true, nil
}

func (j *ledgerSweepJob) reportDefect(ctx context.Context, wallet *models.Wallet, kind string) {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"wallet_id": wallet.ID.String(),
		"owner_id":  wallet.OwnerID.String(),
		"defect":    kind,
	})
	j.logg.Warn(logCtx, "wallet bucket defect detected")
}
