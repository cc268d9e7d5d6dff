package model

import "time"

// SentMessageRecord is one row of the append-only delivery ledger. A record
// is written for every successful send and never modified afterwards.
type SentMessageRecord struct {
	ID                string    `json:"id"`
	CampaignID        string    `json:"campaignId"`
	OwnerID           string    `json:"ownerId"`
	RecipientEmail    string    `json:"recipientEmail"`
	RecipientName     string    `json:"recipientName,omitempty"`
	Subject           string    `json:"subject"`
	Body              string    `json:"body"`
	ProviderMessageID string    `json:"providerMessageId"`
	SentAt            time.Time `json:"sentAt"`
}

// HistoryFilter narrows a delivery history query
type HistoryFilter struct {
	CampaignID     string
	RecipientEmail string
	Since          *time.Time
	Until          *time.Time
	Limit          int
	Offset         int
}
