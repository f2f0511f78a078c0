// Package ledger reconciles the platform's transaction records with payment provider state.
//
// Three inputs can move a record: the provider's response to a payment request, an
// asynchronous provider notification, and an explicit poll. All of them converge on
// store.TransactionStore.CompareAndUpdateStatus, which applies a provider snapshot only
// while the record is non-terminal. A record therefore reaches success or failed exactly
// once, however many duplicate or racing inputs arrive.
package ledger

import (
	"context"
	"time"

	"github.com/dvloznov/donation-tracker/internal/apperr"
	"github.com/dvloznov/donation-tracker/internal/archive"
	"github.com/dvloznov/donation-tracker/internal/domain"
	"github.com/dvloznov/donation-tracker/internal/events"
	"github.com/dvloznov/donation-tracker/internal/logger"
	"github.com/dvloznov/donation-tracker/internal/metrics"
	"github.com/dvloznov/donation-tracker/internal/provider"
	"github.com/dvloznov/donation-tracker/internal/store"
	"github.com/dvloznov/donation-tracker/internal/users"
	"github.com/shopspring/decimal"
)

// DefaultProviderTimeout bounds provider calls when Config leaves it unset.
const DefaultProviderTimeout = 10 * time.Second

// Provider operation labels.
const (
	opRequestPayment = "request_payment"
	opSendFunds      = "send_funds"
	opGetTransaction = "get_transaction"
)

// Deps are the collaborators of a Service. Events, Archive and Metrics are optional.
type Deps struct {
	Store     store.TransactionStore
	Providers *provider.Registry
	Users     users.Directory
	Events    events.Publisher
	Archive   archive.Archive
	Metrics   *metrics.Metrics
}

// Config tunes a Service.
type Config struct {
	// ProviderTimeout bounds every payment provider call.
	ProviderTimeout time.Duration
}

// Service is the transaction orchestrator. It is safe for concurrent use and holds no
// locks of its own; serialization happens in the store.
type Service struct {
	store     store.TransactionStore
	providers *provider.Registry
	users     users.Directory
	events    events.Publisher
	archive   archive.Archive
	metrics   *metrics.Metrics

	providerTimeout time.Duration
	now             func() time.Time
}

// New creates a Service.
func New(deps Deps, cfg Config) *Service {
	s := &Service{
		store:           deps.Store,
		providers:       deps.Providers,
		users:           deps.Users,
		events:          deps.Events,
		archive:         deps.Archive,
		metrics:         deps.Metrics,
		providerTimeout: cfg.ProviderTimeout,
		now:             time.Now,
	}
	if s.events == nil {
		s.events = events.NewLogPublisher()
	}
	if s.archive == nil {
		s.archive = archive.Nop{}
	}
	if s.providerTimeout <= 0 {
		s.providerTimeout = DefaultProviderTimeout
	}
	return s
}

// InitiateDonation asks the preferred receiving provider to collect amount from the user
// and records the resulting pending transaction. Nothing is recorded when the provider
// call fails.
func (s *Service) InitiateDonation(ctx context.Context, userID string, amount decimal.Decimal) (*domain.Transaction, error) {
	log := logger.FromContext(ctx)

	if !amount.IsPositive() {
		return nil, apperr.InvalidArgument(apperr.WithMessage("amount must be positive"))
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return nil, apperr.AsStorage(err)
	}

	adapter, err := s.providers.PreferredForReceiving()
	if err != nil {
		return nil, apperr.ProviderFailure(apperr.WithError(err))
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	start := s.now()
	res, err := adapter.RequestPaymentFromUser(pctx, user, amount)
	cancel()
	s.metrics.ObserveProviderCall(adapter.Name(), opRequestPayment, s.now().Sub(start))
	if err != nil {
		s.metrics.ObserveReconciliation(metrics.PathInitiation, metrics.OutcomeError)
		log.Error().Err(err).Str("provider", adapter.Name()).Str("user_id", user.ID).Msg("Payment request failed")
		return nil, asProviderFailure(err)
	}

	tx, err := s.insert(ctx, &domain.Transaction{
		Status:                initialStatus(res.Status),
		ExpectedAmount:        amount,
		From:                  "",
		To:                    user.ID,
		Kind:                  domain.KindDonation,
		FromExternal:          true,
		ToExternal:            false,
		Provider:              adapter.Name(),
		ProviderTransactionID: res.ProviderTransactionID,
	})
	if err != nil {
		s.metrics.ObserveReconciliation(metrics.PathInitiation, metrics.OutcomeError)
		return nil, err
	}

	s.metrics.ObserveReconciliation(metrics.PathInitiation, metrics.OutcomeCreated)
	log.Info().
		Str("transaction_id", tx.ID).
		Str("provider", tx.Provider).
		Str("provider_transaction_id", tx.ProviderTransactionID).
		Str("status", string(tx.Status)).
		Msg("Donation initiated")

	return tx, nil
}

// SendDistribution pays amount from one platform user to another through the preferred
// sending provider and records the distribution.
func (s *Service) SendDistribution(ctx context.Context, fromUserID, toUserID string, amount decimal.Decimal, metadata map[string]interface{}) (*domain.Transaction, error) {
	log := logger.FromContext(ctx)

	if !amount.IsPositive() {
		return nil, apperr.InvalidArgument(apperr.WithMessage("amount must be positive"))
	}
	if toUserID == "" || fromUserID == toUserID {
		return nil, apperr.InvalidArgument(apperr.WithMessage("recipient must be another user"))
	}

	sender, err := s.users.GetUser(ctx, fromUserID)
	if err != nil {
		return nil, apperr.AsStorage(err)
	}
	recipient, err := s.users.GetUser(ctx, toUserID)
	if err != nil {
		return nil, apperr.AsStorage(err)
	}

	adapter, err := s.providers.PreferredForSending()
	if err != nil {
		return nil, apperr.ProviderFailure(apperr.WithError(err))
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	start := s.now()
	res, err := adapter.SendFundsToUser(pctx, recipient, amount, domain.CloneMetadata(metadata))
	cancel()
	s.metrics.ObserveProviderCall(adapter.Name(), opSendFunds, s.now().Sub(start))
	if err != nil {
		s.metrics.ObserveReconciliation(metrics.PathDistribution, metrics.OutcomeError)
		log.Error().Err(err).Str("provider", adapter.Name()).Str("to_user_id", recipient.ID).Msg("Payout request failed")
		return nil, asProviderFailure(err)
	}

	tx, err := s.insert(ctx, &domain.Transaction{
		Status:                initialStatus(res.Status),
		ExpectedAmount:        amount,
		From:                  sender.ID,
		To:                    recipient.ID,
		Kind:                  domain.KindDistribution,
		Provider:              adapter.Name(),
		ProviderTransactionID: res.ProviderTransactionID,
	})
	if err != nil {
		s.metrics.ObserveReconciliation(metrics.PathDistribution, metrics.OutcomeError)
		return nil, err
	}

	s.metrics.ObserveReconciliation(metrics.PathDistribution, metrics.OutcomeCreated)
	log.Info().
		Str("transaction_id", tx.ID).
		Str("provider", tx.Provider).
		Str("from", tx.From).
		Str("to", tx.To).
		Msg("Distribution initiated")

	return tx, nil
}

// HandleProviderNotification applies an asynchronous provider callback. Duplicate or late
// notifications for a terminal record return that record unchanged. A notification for a
// transaction this application never requested fails with TransactionNotRequested and
// creates nothing.
func (s *Service) HandleProviderNotification(ctx context.Context, providerName string, payload []byte) (*domain.Transaction, error) {
	log := logger.FromContext(ctx).With().Str("provider", providerName).Logger()
	ctx = logger.WithContext(ctx, log)

	if uri, err := s.archive.Store(ctx, providerName, payload); err != nil {
		log.Warn().Err(err).Msg("Failed to archive notification")
	} else if uri != "" {
		log.Debug().Str("archive_uri", uri).Msg("Notification archived")
	}

	adapter, err := s.providers.Get(providerName)
	if err != nil {
		return nil, err
	}

	snap, err := adapter.HandlePaymentNotification(ctx, payload)
	if err != nil {
		s.metrics.ObserveReconciliation(metrics.PathNotification, metrics.OutcomeError)
		log.Warn().Err(err).Msg("Rejected provider notification")
		if apperr.Classified(err) {
			return nil, err
		}
		return nil, apperr.DecodeFailure(apperr.WithError(err))
	}
	if snap.ProviderTransactionID == "" || !snap.Status.IsValid() {
		s.metrics.ObserveReconciliation(metrics.PathNotification, metrics.OutcomeError)
		return nil, apperr.DecodeFailure(apperr.WithMessage("notification lacks a transaction id or a known status"))
	}

	tx, err := s.apply(ctx, metrics.PathNotification, store.ByProviderTransaction(adapter.Name(), snap.ProviderTransactionID), snap)
	if apperr.KindOf(err) == apperr.KindNotFound {
		s.metrics.ObserveReconciliation(metrics.PathNotification, metrics.OutcomeNotRequested)
		log.Warn().Str("provider_transaction_id", snap.ProviderTransactionID).Msg("Notification for unknown transaction")
		return nil, apperr.TransactionNotRequested(apperr.WithError(err))
	}
	return tx, err
}

// CheckUserTransactionStatus returns the record, refreshing it from the provider when it
// is not yet terminal. Users who are not a participant get NotFound.
func (s *Service) CheckUserTransactionStatus(ctx context.Context, userID, transactionID string) (*domain.Transaction, error) {
	tx, err := s.store.FindByID(ctx, transactionID)
	if err != nil {
		return nil, apperr.AsStorage(err)
	}

	if !tx.HasParticipant(userID) {
		return nil, apperr.NotFound(apperr.WithMessage("transaction not found"))
	}

	if tx.Status.IsTerminal() {
		return tx, nil
	}
	return s.poll(ctx, tx)
}

// ReconcileTransaction is the poll path without the participant check. Background jobs
// and operators use it.
func (s *Service) ReconcileTransaction(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := s.store.FindByID(ctx, transactionID)
	if err != nil {
		return nil, apperr.AsStorage(err)
	}

	if tx.Status.IsTerminal() {
		return tx, nil
	}
	return s.poll(ctx, tx)
}

// GetAllByUser lists every record the user sent or received. It never calls a provider.
func (s *Service) GetAllByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	txs, err := s.store.FindByParticipant(ctx, userID)
	if err != nil {
		return nil, apperr.AsStorage(err)
	}
	return txs, nil
}

func (s *Service) poll(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	log := logger.FromContext(ctx).With().
		Str("transaction_id", tx.ID).
		Str("provider", tx.Provider).
		Logger()
	ctx = logger.WithContext(ctx, log)

	if tx.ProviderTransactionID == "" {
		// Nothing to ask the provider about yet.
		return tx, nil
	}

	adapter, err := s.providers.Get(tx.Provider)
	if err != nil {
		return nil, apperr.ProviderFailure(apperr.WithError(err))
	}

	pctx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	start := s.now()
	snap, err := adapter.GetTransaction(pctx, tx.ProviderTransactionID)
	cancel()
	s.metrics.ObserveProviderCall(adapter.Name(), opGetTransaction, s.now().Sub(start))
	if err != nil {
		s.metrics.ObserveReconciliation(metrics.PathPoll, metrics.OutcomeError)
		log.Warn().Err(err).Msg("Provider poll failed")
		if apperr.KindOf(err) == apperr.KindNotFound {
			return nil, err
		}
		return nil, asProviderFailure(err)
	}
	if !snap.Status.IsValid() {
		s.metrics.ObserveReconciliation(metrics.PathPoll, metrics.OutcomeError)
		return nil, apperr.ProviderFailure(apperr.WithMessagef("provider reported unknown status %q", snap.Status))
	}

	return s.apply(ctx, metrics.PathPoll, store.ByID(tx.ID), snap)
}

// apply is the single write path for provider snapshots.
func (s *Service) apply(ctx context.Context, path string, key store.Key, snap domain.Snapshot) (*domain.Transaction, error) {
	log := logger.FromContext(ctx)

	tx, applied, err := s.store.CompareAndUpdateStatus(ctx, key, domain.UpdateFromSnapshot(snap, s.now().UTC()))
	if err != nil {
		if apperr.KindOf(err) != apperr.KindNotFound {
			s.metrics.ObserveReconciliation(path, metrics.OutcomeError)
		}
		return nil, apperr.AsStorage(err)
	}

	if !applied {
		s.metrics.ObserveReconciliation(path, metrics.OutcomeTerminalNoop)
		log.Debug().Str("transaction_id", tx.ID).Str("status", string(tx.Status)).Msg("Transaction already final, update ignored")
		return tx, nil
	}

	if !tx.Status.IsTerminal() {
		s.metrics.ObserveReconciliation(path, metrics.OutcomeApplied)
		log.Info().Str("transaction_id", tx.ID).Str("status", string(tx.Status)).Str("path", path).Msg("Transaction updated")
		return tx, nil
	}

	s.metrics.ObserveReconciliation(path, metrics.OutcomeSettled)
	log.Info().
		Str("transaction_id", tx.ID).
		Str("status", string(tx.Status)).
		Str("amount", tx.Amount.String()).
		Str("path", path).
		Msg("Transaction settled")

	s.publishSettled(ctx, tx)
	return tx, nil
}

// publishSettled is best effort; a broker outage never fails a reconciliation.
func (s *Service) publishSettled(ctx context.Context, tx *domain.Transaction) {
	if err := s.events.PublishSettled(ctx, events.NewSettledEvent(tx)); err != nil {
		log := logger.FromContext(ctx)
		log.Error().Err(err).Str("transaction_id", tx.ID).Msg("Failed to publish settled event")
	}
}

// insert stores a new record. A uniqueness collision means the provider reused an id; it
// is reported as a storage failure with the collision kept as the cause.
func (s *Service) insert(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	stored, err := s.store.Insert(ctx, tx)
	if err == nil {
		if stored.Status.IsTerminal() {
			s.publishSettled(ctx, stored)
		}
		return stored, nil
	}

	if apperr.KindOf(err) == apperr.KindUniqueness {
		log := logger.FromContext(ctx)
		log.Error().
			Err(err).
			Str("provider", tx.Provider).
			Str("provider_transaction_id", tx.ProviderTransactionID).
			Msg("Provider transaction id already recorded")
		return nil, apperr.StorageFailure(apperr.WithError(err))
	}
	return nil, apperr.AsStorage(err)
}

func asProviderFailure(err error) error {
	if apperr.KindOf(err) == apperr.KindProviderFailure {
		return err
	}
	return apperr.ProviderFailure(apperr.WithError(err))
}

// initialStatus is the status a new record starts in: whatever the provider reported,
// or pending when it reported nothing usable.
func initialStatus(reported domain.Status) domain.Status {
	if reported.IsValid() {
		return reported
	}
	return domain.StatusPending
}
