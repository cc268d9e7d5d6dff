package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/oauth2"

	"github.com/mailpilot/mailpilot/internal/dispatch"
	"github.com/mailpilot/mailpilot/internal/logger"
	"github.com/mailpilot/mailpilot/internal/model"
	"github.com/mailpilot/mailpilot/internal/quota"
	"github.com/mailpilot/mailpilot/internal/repository"
)

// Dispatch service errors
var (
	ErrCampaignNotFound = errors.New("campaign not found")
	ErrCampaignNotOwned = errors.New("campaign does not belong to user")
	ErrAlreadyRunning   = dispatch.ErrAlreadyRunning
	ErrNotRunning       = dispatch.ErrNotRunning
	ErrInvalidToken     = errors.New("oauth token is incomplete")
)

// MaxHistoryLimit caps a single history page
const MaxHistoryLimit = 500

// CampaignReader loads campaigns for ownership checks
type CampaignReader interface {
	GetByID(ctx context.Context, id string) (*model.Campaign, error)
}

// HistoryReader queries the delivery ledger
type HistoryReader interface {
	History(ctx context.Context, ownerID string, filter model.HistoryFilter) ([]model.SentMessageRecord, error)
}

// Runs starts and stops campaign runs
type Runs interface {
	Run(ctx context.Context, campaignID string) (*model.DispatchResult, error)
	Start(ctx context.Context, campaignID string) error
	Stop(campaignID string) error
}

// CredentialConnector stores OAuth grants
type CredentialConnector interface {
	Connect(ctx context.Context, userID, email string, tok *oauth2.Token) error
}

// DispatchService is the entry point for starting campaigns and reading
// their outcome.
type DispatchService struct {
	campaigns   CampaignReader
	history     HistoryReader
	runs        Runs
	quota       quota.Governor
	credentials CredentialConnector
	log         *logger.Logger
}

// NewDispatchService creates a new DispatchService
func NewDispatchService(
	campaigns CampaignReader,
	history HistoryReader,
	runs Runs,
	governor quota.Governor,
	credentials CredentialConnector,
	log *logger.Logger,
) *DispatchService {
	return &DispatchService{
		campaigns:   campaigns,
		history:     history,
		runs:        runs,
		quota:       governor,
		credentials: credentials,
		log:         log.WithComponent("dispatch_service"),
	}
}

// StartCampaignDispatch runs a campaign to the end of its batch and returns
// the summary. Cancelling ctx stops the run at the next recipient boundary.
func (s *DispatchService) StartCampaignDispatch(ctx context.Context, userID, campaignID string) (*model.DispatchResult, error) {
	if err := s.authorize(ctx, userID, campaignID); err != nil {
		return nil, err
	}

	s.log.AuditLog(userID, "campaign.dispatch", "campaign", campaignID, nil)
	res, err := s.runs.Run(ctx, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to dispatch campaign: %w", err)
	}
	return res, nil
}

// StartCampaignDispatchAsync starts a campaign in the background
func (s *DispatchService) StartCampaignDispatchAsync(ctx context.Context, userID, campaignID string) error {
	if err := s.authorize(ctx, userID, campaignID); err != nil {
		return err
	}

	s.log.AuditLog(userID, "campaign.dispatch_async", "campaign", campaignID, nil)
	// The run must outlive the request that started it.
	if err := s.runs.Start(context.WithoutCancel(ctx), campaignID); err != nil {
		return fmt.Errorf("failed to start campaign: %w", err)
	}
	return nil
}

// StopCampaignDispatch cancels a background run at its next boundary
func (s *DispatchService) StopCampaignDispatch(ctx context.Context, userID, campaignID string) error {
	if err := s.authorize(ctx, userID, campaignID); err != nil {
		return err
	}

	s.log.AuditLog(userID, "campaign.stop", "campaign", campaignID, nil)
	return s.runs.Stop(campaignID)
}

// GetDeliveryHistory returns the user's ledger rows, newest first
func (s *DispatchService) GetDeliveryHistory(ctx context.Context, userID string, filter model.HistoryFilter) ([]model.SentMessageRecord, error) {
	if filter.Limit < 0 || filter.Offset < 0 {
		return nil, fmt.Errorf("%w: limit and offset must not be negative", repository.ErrInvalidInput)
	}
	if filter.Limit > MaxHistoryLimit {
		filter.Limit = MaxHistoryLimit
	}
	if filter.Since != nil && filter.Until != nil && filter.Until.Before(*filter.Since) {
		return nil, fmt.Errorf("%w: until is before since", repository.ErrInvalidInput)
	}
	filter.RecipientEmail = strings.TrimSpace(filter.RecipientEmail)

	records, err := s.history.History(ctx, userID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to load delivery history: %w", err)
	}
	return records, nil
}

// GetRemainingQuota returns how many messages the user may still send today
func (s *DispatchService) GetRemainingQuota(ctx context.Context, userID string) (int, error) {
	remaining, err := s.quota.Remaining(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to read quota: %w", err)
	}
	return remaining, nil
}

// QuotaLimit returns the daily ceiling
func (s *DispatchService) QuotaLimit() int {
	return s.quota.Limit()
}

// ConnectCredential stores the OAuth grant for the user's mail account
func (s *DispatchService) ConnectCredential(ctx context.Context, userID, email string, tok *oauth2.Token) error {
	if tok == nil || tok.RefreshToken == "" || strings.TrimSpace(email) == "" {
		return ErrInvalidToken
	}
	return s.credentials.Connect(ctx, userID, strings.TrimSpace(email), tok)
}

func (s *DispatchService) authorize(ctx context.Context, userID, campaignID string) error {
	camp, err := s.campaigns.GetByID(ctx, campaignID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrCampaignNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load campaign: %w", err)
	}
	if camp.OwnerID != userID {
		return ErrCampaignNotOwned
	}
	return nil
}
