package models

// AepUserSummary is a computed per-user closure summary row. It is derived
// from current issue state on every query and never persisted.
type AepUserSummary struct {
	UserID        string `json:"userId"`
	Name          string `json:"name"`
	SClosed       int    `json:"sClosed"`
	MClosed       int    `json:"mClosed"`
	LClosed       int    `json:"lClosed"`
	TotalClosed   int    `json:"totalClosed"`
	OnTimeClosed  int    `json:"onTimeClosed"`
	DelayedClosed int    `json:"delayedClosed"`
}
