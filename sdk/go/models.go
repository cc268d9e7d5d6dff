package mailpilot

import "time"

// DispatchResult summarizes one campaign run.
type DispatchResult struct {
	CampaignID        string `json:"campaignId"`
	State             string `json:"state"`
	Sent              int    `json:"sent"`
	Failed            int    `json:"failed"`
	Total             int    `json:"total"`
	Pending           int    `json:"pending"`
	Remaining         int    `json:"remaining"`
	QuotaExhausted    bool   `json:"quotaExhausted,omitempty"`
	ReconnectRequired bool   `json:"reconnectRequired,omitempty"`
	Error             string `json:"error,omitempty"`
}

// SentMessage is one entry of the delivery ledger.
type SentMessage struct {
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

// HistoryQuery narrows a delivery history request. Zero values are omitted.
type HistoryQuery struct {
	CampaignID string
	Recipient  string
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// HistoryPage is one page of delivery history.
type HistoryPage struct {
	Items  []SentMessage `json:"items"`
	Limit  int           `json:"limit"`
	Offset int           `json:"offset"`
}

// Quota reports today's remaining send capacity (UTC day).
type Quota struct {
	Remaining int `json:"remaining"`
	Limit     int `json:"limit"`
}

// ConnectRequest carries the OAuth token pair from the consent flow.
type ConnectRequest struct {
	Email        string    `json:"email"`
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	TokenType    string    `json:"tokenType,omitempty"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type dispatchConflict struct {
	Result *DispatchResult `json:"result"`
	Error  struct {
		Code string `json:"code"`
	} `json:"error"`
}
