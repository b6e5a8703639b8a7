package withdrawal

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mercanta/mercanta-backend/internal/wallet"
	"github.com/mercanta/mercanta-backend/pkg/config"
	"github.com/mercanta/mercanta-backend/pkg/db/models"
	"github.com/mercanta/mercanta-backend/pkg/enums"
	pkgerrors "github.com/mercanta/mercanta-backend/pkg/errors"
	"github.com/mercanta/mercanta-backend/pkg/logger"
	"github.com/mercanta/mercanta-backend/pkg/outbox"
)

type fakeWithdrawalRepo struct {
	requests map[uuid.UUID]*models.WithdrawalRequest
	boundTxs []*gorm.DB
	createE  error
}

func newFakeWithdrawalRepo() *fakeWithdrawalRepo {
	return &fakeWithdrawalRepo{requests: map[uuid.UUID]*models.WithdrawalRequest{}}
}

func (f *fakeWithdrawalRepo) WithTx(tx *gorm.DB) Repository {
	f.boundTxs = append(f.boundTxs, tx)
	return f
}

func (f *fakeWithdrawalRepo) Create(ctx context.Context, request *models.WithdrawalRequest) error {
	if f.createE != nil {
		return f.createE
	}
	f.requests[request.ID] = request
	return nil
}

func (f *fakeWithdrawalRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	request, ok := f.requests[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	copied := *request
	return &copied, nil
}

func (f *fakeWithdrawalRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.WithdrawalRequest, error) {
	return f.FindByID(ctx, id)
}

func (f *fakeWithdrawalRepo) FindByReference(ctx context.Context, reference string) (*models.WithdrawalRequest, error) {
	for _, request := range f.requests {
		if request.Reference == reference {
			copied := *request
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeWithdrawalRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]models.WithdrawalRequest, error) {
	var rows []models.WithdrawalRequest
	for _, request := range f.requests {
		if request.OwnerID == ownerID {
			rows = append(rows, *request)
		}
	}
	return rows, nil
}

func (f *fakeWithdrawalRepo) ListByStatus(ctx context.Context, status enums.WithdrawalStatus, limit int) ([]models.WithdrawalRequest, error) {
	var rows []models.WithdrawalRequest
	for _, request := range f.requests {
		if request.Status == status {
			rows = append(rows, *request)
		}
	}
	return rows, nil
}

func (f *fakeWithdrawalRepo) Update(ctx context.Context, id uuid.UUID, updates map[string]any) error {
	request, ok := f.requests[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for column, value := range updates {
		switch column {
		case "status":
			request.Status = value.(enums.WithdrawalStatus)
		case "reviewed_by":
			actor := value.(uuid.UUID)
			request.ReviewedBy = &actor
		case "reviewed_at":
			stamp := value.(time.Time)
			request.ReviewedAt = &stamp
		case "settled_at":
			stamp := value.(time.Time)
			request.SettledAt = &stamp
		case "admin_note":
			note := value.(string)
			request.AdminNote = &note
		case "payout_reference":
			ref := value.(string)
			request.PayoutReference = &ref
		case "failure_reason":
			reason := value.(string)
			request.FailureReason = &reason
		}
	}
	return nil
}

type holdCall struct {
	input wallet.HoldInput
}

type fakeWalletSvc struct {
	wallet    *models.Wallet
	freezes   []holdCall
	freezeTxs []*gorm.DB
	unfreezes []holdCall
	settles   []wallet.SettleWithdrawalInput
	freezeE   error
}

func (f *fakeWalletSvc) Get(ctx context.Context, walletID uuid.UUID) (*models.Wallet, error) {
	return f.wallet, nil
}

func (f *fakeWalletSvc) GetByOwner(ctx context.Context, ownerID uuid.UUID, kind enums.AccountKind, currency enums.Currency) (*models.Wallet, error) {
	return f.wallet, nil
}

func (f *fakeWalletSvc) FreezeTx(ctx context.Context, tx *gorm.DB, input wallet.HoldInput) (*wallet.MutationResult, error) {
	if f.freezeE != nil {
		return nil, f.freezeE
	}
	f.freezes = append(f.freezes, holdCall{input: input})
	f.freezeTxs = append(f.freezeTxs, tx)
	f.wallet.BalanceCents -= input.AmountCents
	f.wallet.FrozenCents += input.AmountCents
	return &wallet.MutationResult{Wallet: f.wallet}, nil
}

func (f *fakeWalletSvc) Unfreeze(ctx context.Context, input wallet.HoldInput) (*wallet.MutationResult, error) {
	f.unfreezes = append(f.unfreezes, holdCall{input: input})
	f.wallet.BalanceCents += input.AmountCents
	f.wallet.FrozenCents -= input.AmountCents
	return &wallet.MutationResult{Wallet: f.wallet}, nil
}

func (f *fakeWalletSvc) SettleWithdrawal(ctx context.Context, input wallet.SettleWithdrawalInput) (*wallet.MutationResult, error) {
	f.settles = append(f.settles, input)
	f.wallet.FrozenCents -= input.AmountCents
	f.wallet.TotalWithdrawnCents += input.AmountCents
	return &wallet.MutationResult{Wallet: f.wallet}, nil
}

type fakePayout struct {
	transferRef string
	transferE   error
	recipientE  error
	calls       int
}

func (f *fakePayout) CreateRecipient(ctx context.Context, details BankDetails) (string, error) {
	if f.recipientE != nil {
		return "", f.recipientE
	}
	return "rcp_" + details.AccountNumber, nil
}

func (f *fakePayout) Transfer(ctx context.Context, recipientRef string, amountCents int64, reason string) (string, error) {
	f.calls++
	if f.transferE != nil {
		return "", f.transferE
	}
	if f.transferRef != "" {
		return f.transferRef, nil
	}
	return "trf_" + uuid.NewString(), nil
}

type fakeTxRunner struct {
	tx *gorm.DB
}

func (r fakeTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(r.tx)
}

type fakeOutbox struct {
	events []outbox.DomainEvent
}

func (f *fakeOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	f.events = append(f.events, event)
	return nil
}

type withdrawalFixture struct {
	svc     Service
	repo    *fakeWithdrawalRepo
	wallets *fakeWalletSvc
	payouts *fakePayout
	outbox  *fakeOutbox
}

func newWithdrawalFixture(t *testing.T) *withdrawalFixture {
	t.Helper()

	repo := newFakeWithdrawalRepo()
	wallets := &fakeWalletSvc{
		wallet: &models.Wallet{
			ID:           uuid.New(),
			OwnerID:      uuid.New(),
			Kind:         enums.AccountKindIndividual,
			Currency:     enums.CurrencyUSD,
			BalanceCents: 500_000,
			Status:       enums.WalletStatusActive,
		},
	}
	payouts := &fakePayout{}
	sink := &fakeOutbox{}
	logg := logger.New(logger.Options{ServiceName: "withdrawal-test"})

	cfg := config.WithdrawalConfig{
		MinAmountCents: 50_000,
		PayoutTimeout:  time.Second,
	}
	svc, err := NewService(repo, wallets, payouts, fakeTxRunner{}, sink, logg, cfg)
	require.NoError(t, err)

	return &withdrawalFixture{svc: svc, repo: repo, wallets: wallets, payouts: payouts, outbox: sink}
}

func validBank() BankDetails {
	routing := "021000021"
	return BankDetails{
		BankName:      "First Meridian",
		AccountName:   "Ada Vendor",
		AccountNumber: "000123456789",
		RoutingNumber: &routing,
	}
}

func (fx *withdrawalFixture) request(t *testing.T, amount int64) *models.WithdrawalRequest {
	t.Helper()
	request, err := fx.svc.Request(context.Background(), RequestInput{
		OwnerID:     fx.wallets.wallet.OwnerID,
		AmountCents: amount,
		Bank:        validBank(),
	})
	require.NoError(t, err)
	return request
}

func TestRequestBelowMinimumRejected(t *testing.T) {
	fx := newWithdrawalFixture(t)

	_, err := fx.svc.Request(context.Background(), RequestInput{
		OwnerID:     fx.wallets.wallet.OwnerID,
		AmountCents: 49_999,
		Bank:        validBank(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, fx.wallets.freezes)
}

func TestRequestInvalidBankDetailsRejected(t *testing.T) {
	fx := newWithdrawalFixture(t)

	bank := validBank()
	bank.AccountNumber = "42"
	_, err := fx.svc.Request(context.Background(), RequestInput{
		OwnerID:     fx.wallets.wallet.OwnerID,
		AmountCents: 100_000,
		Bank:        bank,
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestRequestFreezesExactAmount(t *testing.T) {
	fx := newWithdrawalFixture(t)

	request := fx.request(t, 100_000)
	assert.Equal(t, enums.WithdrawalStatusPending, request.Status)
	assert.True(t, len(request.Reference) > 4)

	require.Len(t, fx.wallets.freezes, 1)
	freeze := fx.wallets.freezes[0].input
	assert.Equal(t, int64(100_000), freeze.AmountCents)
	assert.Equal(t, "withdrawal:freeze:"+request.ID.String(), freeze.IdempotencyKey)
	assert.Equal(t, int64(100_000), fx.wallets.wallet.FrozenCents)
}

func TestRequestInsufficientFundsPropagates(t *testing.T) {
	fx := newWithdrawalFixture(t)
	fx.wallets.freezeE = pkgerrors.New(pkgerrors.CodeInsufficientFunds, "insufficient balance to freeze")

	_, err := fx.svc.Request(context.Background(), RequestInput{
		OwnerID:     fx.wallets.wallet.OwnerID,
		AmountCents: 100_000,
		Bank:        validBank(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInsufficientFunds))
	assert.Empty(t, fx.repo.requests)
}

func TestRequestFreezeSharesRequestTransaction(t *testing.T) {
	repo := newFakeWithdrawalRepo()
	wallets := &fakeWalletSvc{
		wallet: &models.Wallet{
			ID:           uuid.New(),
			OwnerID:      uuid.New(),
			Kind:         enums.AccountKindIndividual,
			Currency:     enums.CurrencyUSD,
			BalanceCents: 500_000,
			Status:       enums.WalletStatusActive,
		},
	}
	logg := logger.New(logger.Options{ServiceName: "withdrawal-test"})

	sentinel := &gorm.DB{}
	svc, err := NewService(repo, wallets, &fakePayout{}, fakeTxRunner{tx: sentinel}, &fakeOutbox{}, logg, config.WithdrawalConfig{
		MinAmountCents: 50_000,
		PayoutTimeout:  time.Second,
	})
	require.NoError(t, err)

	_, err = svc.Request(context.Background(), RequestInput{
		OwnerID:     wallets.wallet.OwnerID,
		AmountCents: 100_000,
		Bank:        validBank(),
	})
	require.NoError(t, err)

	// freeze and request insert both ran on the request's transaction
	require.Len(t, wallets.freezeTxs, 1)
	assert.Same(t, sentinel, wallets.freezeTxs[0])
	require.NotEmpty(t, repo.boundTxs)
	for _, tx := range repo.boundTxs {
		assert.Same(t, sentinel, tx)
	}
}

func TestRequestInsertFailureRollsBackWithFreeze(t *testing.T) {
	fx := newWithdrawalFixture(t)
	fx.repo.createE = pkgerrors.New(pkgerrors.CodeDependency, "insert failed")

	_, err := fx.svc.Request(context.Background(), RequestInput{
		OwnerID:     fx.wallets.wallet.OwnerID,
		AmountCents: 100_000,
		Bank:        validBank(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeDependency))

	// the transaction rollback reverses the freeze; no compensating unfreeze runs
	assert.Empty(t, fx.repo.requests)
	assert.Empty(t, fx.wallets.unfreezes)
}

func TestRejectUnfreezesAndCloses(t *testing.T) {
	fx := newWithdrawalFixture(t)
	request := fx.request(t, 100_000)
	balanceBefore := fx.wallets.wallet.BalanceCents

	rejected, err := fx.svc.Reject(context.Background(), ReviewInput{
		WithdrawalID: request.ID,
		Actor:        uuid.New(),
		Note:         "destination account mismatch",
	})
	require.NoError(t, err)

	assert.Equal(t, enums.WithdrawalStatusRejected, rejected.Status)
	require.NotNil(t, rejected.AdminNote)
	require.Len(t, fx.wallets.unfreezes, 1)
	assert.Equal(t, int64(0), fx.wallets.wallet.FrozenCents)
	assert.Equal(t, balanceBefore+100_000, fx.wallets.wallet.BalanceCents)
}

func TestRejectRequiresNote(t *testing.T) {
	fx := newWithdrawalFixture(t)
	request := fx.request(t, 100_000)

	_, err := fx.svc.Reject(context.Background(), ReviewInput{
		WithdrawalID: request.ID,
		Actor:        uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeValidation))
}

func TestApprovePayoutSuccessCompletes(t *testing.T) {
	fx := newWithdrawalFixture(t)
	fx.payouts.transferRef = "trf_settled_1"
	request := fx.request(t, 100_000)

	completed, err := fx.svc.Approve(context.Background(), ReviewInput{
		WithdrawalID: request.ID,
		Actor:        uuid.New(),
	})
	require.NoError(t, err)

	assert.Equal(t, enums.WithdrawalStatusCompleted, completed.Status)
	require.NotNil(t, completed.PayoutReference)
	assert.Equal(t, "trf_settled_1", *completed.PayoutReference)
	require.NotNil(t, completed.SettledAt)

	require.Len(t, fx.wallets.settles, 1)
	settle := fx.wallets.settles[0]
	assert.Equal(t, "withdrawal:settle:"+request.ID.String(), settle.IdempotencyKey)
	assert.Equal(t, int64(0), fx.wallets.wallet.FrozenCents)
	assert.Equal(t, int64(100_000), fx.wallets.wallet.TotalWithdrawnCents)
}

func TestApprovePayoutFailureReversesFreeze(t *testing.T) {
	fx := newWithdrawalFixture(t)
	fx.payouts.transferE = pkgerrors.New(pkgerrors.CodePayoutFailed, "recipient bank unavailable")
	request := fx.request(t, 100_000)
	balanceBefore := fx.wallets.wallet.BalanceCents

	failed, err := fx.svc.Approve(context.Background(), ReviewInput{
		WithdrawalID: request.ID,
		Actor:        uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePayoutFailed))

	require.NotNil(t, failed)
	assert.Equal(t, enums.WithdrawalStatusFailed, failed.Status)
	require.NotNil(t, failed.FailureReason)

	require.Len(t, fx.wallets.unfreezes, 1)
	assert.Equal(t, int64(0), fx.wallets.wallet.FrozenCents)
	assert.Equal(t, balanceBefore+100_000, fx.wallets.wallet.BalanceCents)
	assert.Empty(t, fx.wallets.settles)
}

func TestApprovePayoutTimeoutLeavesProcessing(t *testing.T) {
	fx := newWithdrawalFixture(t)
	fx.payouts.transferE = context.DeadlineExceeded
	request := fx.request(t, 100_000)

	stuck, err := fx.svc.Approve(context.Background(), ReviewInput{
		WithdrawalID: request.ID,
		Actor:        uuid.New(),
	})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodePayoutFailed))

	require.NotNil(t, stuck)
	assert.Equal(t, enums.WithdrawalStatusProcessing, fx.repo.requests[request.ID].Status)
	// funds stay frozen for reconciliation
	assert.Equal(t, int64(100_000), fx.wallets.wallet.FrozenCents)
	assert.Empty(t, fx.wallets.unfreezes)
	assert.Empty(t, fx.wallets.settles)
}

func TestCompleteResolvesStuckProcessing(t *testing.T) {
	fx := newWithdrawalFixture(t)
	fx.payouts.transferE = context.DeadlineExceeded
	request := fx.request(t, 100_000)

	_, err := fx.svc.Approve(context.Background(), ReviewInput{WithdrawalID: request.ID, Actor: uuid.New()})
	require.Error(t, err)

	completed, err := fx.svc.Complete(context.Background(), ResolveInput{
		WithdrawalID:    request.ID,
		Actor:           uuid.New(),
		PayoutReference: "trf_found_later",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusCompleted, completed.Status)
	assert.Equal(t, int64(100_000), fx.wallets.wallet.TotalWithdrawnCents)
}

func TestFailResolvesStuckProcessing(t *testing.T) {
	fx := newWithdrawalFixture(t)
	fx.payouts.transferE = context.DeadlineExceeded
	request := fx.request(t, 100_000)

	_, err := fx.svc.Approve(context.Background(), ReviewInput{WithdrawalID: request.ID, Actor: uuid.New()})
	require.Error(t, err)

	failed, err := fx.svc.Fail(context.Background(), ResolveInput{
		WithdrawalID:  request.ID,
		Actor:         uuid.New(),
		FailureReason: "transfer bounced",
	})
	require.NoError(t, err)
	assert.Equal(t, enums.WithdrawalStatusFailed, failed.Status)
	assert.Equal(t, int64(0), fx.wallets.wallet.FrozenCents)
}

func TestApproveOnlyFromPending(t *testing.T) {
	fx := newWithdrawalFixture(t)
	request := fx.request(t, 100_000)

	_, err := fx.svc.Approve(context.Background(), ReviewInput{WithdrawalID: request.ID, Actor: uuid.New()})
	require.NoError(t, err)

	_, err = fx.svc.Approve(context.Background(), ReviewInput{WithdrawalID: request.ID, Actor: uuid.New()})
	require.Error(t, err)
	assert.True(t, pkgerrors.HasCode(err, pkgerrors.CodeInvalidWithdrawalTransition))
}
