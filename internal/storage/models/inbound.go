package models

import "time"

// Inbound represents a desired proxy listener
type Inbound struct {
	ID       string `json:"id"`
	Remark   string `json:"remark"`
	Protocol string `json:"protocol"` // vless, vmess, trojan, shadowsocks, socks, http, ...
	Port     int    `json:"port"`
	Enable   bool   `json:"enable"`

	// Routing label; EffectiveTag falls back to "inbound-<id>"
	Tag    *string `json:"tag,omitempty"`
	Listen *string `json:"listen,omitempty"`

	// Protocol-specific blobs, stored as JSON text and passed through verbatim
	Allocate       *string `json:"allocate,omitempty"`
	Settings       *string `json:"settings,omitempty"`
	StreamSettings *string `json:"stream_settings,omitempty"`
	Sniffing       *string `json:"sniffing,omitempty"`

	// Traffic accounting (bytes). Total <= 0 means unlimited.
	Up     int64 `json:"up"`
	Down   int64 `json:"down"`
	Total  int64 `json:"total"`
	Expiry int64 `json:"expiry"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveTag returns the tag the inbound is known by inside the generated
// xray config and in its stats counters.
func (i *Inbound) EffectiveTag() string {
	if i.Tag != nil && *i.Tag != "" {
		return *i.Tag
	}
	return "inbound-" + i.ID
}

// Used returns the accumulated traffic in bytes.
func (i *Inbound) Used() int64 {
	return i.Up + i.Down
}

// QuotaExceeded reports whether up+down has reached a positive quota.
func (i *Inbound) QuotaExceeded(up, down int64) bool {
	return i.Total > 0 && up+down >= i.Total
}
