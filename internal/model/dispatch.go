package model

// DispatchState is the terminal state of one campaign run
type DispatchState string

// Dispatch state constants
const (
	DispatchStateCompleted DispatchState = "completed"
	DispatchStateAborted   DispatchState = "aborted"
	DispatchStateCancelled DispatchState = "cancelled"
)

// DispatchResult summarizes a campaign run. It is returned for every run,
// including partial and aborted ones.
type DispatchResult struct {
	CampaignID        string        `json:"campaignId"`
	State             DispatchState `json:"state"`
	Sent              int           `json:"sent"`
	Failed            int           `json:"failed"`
	Total             int           `json:"total"`
	Pending           int           `json:"pending"`
	Remaining         int           `json:"remaining"`
	QuotaExhausted    bool          `json:"quotaExhausted,omitempty"`
	ReconnectRequired bool          `json:"reconnectRequired,omitempty"`
	Error             string        `json:"error,omitempty"`
}
