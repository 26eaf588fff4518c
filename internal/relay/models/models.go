package models

import (
	"encoding/json"
	"strings"
	"time"

	"gatekeeper/internal/geo"
)

// ConfigResponse is the public challenge configuration.
type ConfigResponse struct {
	SiteKey string `json:"siteKey"`
}

// VerifyRequest is the confirmation call issued once a challenge token exists.
type VerifyRequest struct {
	ID        string          `json:"id" validate:"required,notblank"`
	Captcha   string          `json:"captcha" validate:"required,notblank"`
	Guild     string          `json:"guild,omitempty"`
	GuildName string          `json:"guild_name,omitempty"`
	GuildIcon string          `json:"guild_icon,omitempty"`
	UserData  json.RawMessage `json:"userData,omitempty"`
	IP        string          `json:"ip,omitempty" validate:"omitempty,ip"`
}

// Normalize trims identifiers before validation.
func (r *VerifyRequest) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Captcha = strings.TrimSpace(r.Captcha)
	r.Guild = strings.TrimSpace(r.Guild)
	r.IP = strings.TrimSpace(r.IP)
}

// HasGuild reports whether the request carries community context, which
// requires the shared bearer secret.
func (r *VerifyRequest) HasGuild() bool {
	return r.Guild != ""
}

// VerifyResponse is returned by the relay for a confirmation call.
type VerifyResponse struct {
	Success  bool     `json:"success"`
	Score    *float64 `json:"score,omitempty"`
	Action   string   `json:"action,omitempty"`
	Hostname string   `json:"hostname,omitempty"`
	Error    string   `json:"error,omitempty"`
	Details  string   `json:"details,omitempty"`
}

// IPResponse is the header-inspection endpoint result.
type IPResponse struct {
	IP     string `json:"ip"`
	Source string `json:"source"`
}

// SiteVerifyResponse is the challenge provider's token verification result.
type SiteVerifyResponse struct {
	Success     bool     `json:"success"`
	Score       float64  `json:"score"`
	Action      string   `json:"action"`
	ChallengeTS string   `json:"challenge_ts"`
	Hostname    string   `json:"hostname"`
	ErrorCodes  []string `json:"error-codes"`
}

// Assessment is a token the challenge provider accepted and scored.
type Assessment struct {
	Score       float64
	Action      string
	Hostname    string
	ChallengeTS string
}

// ServerData is what the relay itself observed about the request.
type ServerData struct {
	IP          string      `json:"ip"`
	IPSource    string      `json:"ipSource"`
	ReportedIP  string      `json:"reportedIp,omitempty"` // discovered by the client, unverified
	UserAgent   string      `json:"userAgent,omitempty"`
	Score       float64     `json:"score"`
	Action      string      `json:"action,omitempty"`
	Hostname    string      `json:"hostname,omitempty"`
	ChallengeTS string      `json:"challengeTs,omitempty"`
	Geo         *geo.Result `json:"geo,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// AuthorityRequest is forwarded to the downstream authority's /verified endpoint.
type AuthorityRequest struct {
	ID         string          `json:"id"`
	Guild      string          `json:"guild,omitempty"`
	GuildName  string          `json:"guild_name,omitempty"`
	GuildIcon  string          `json:"guild_icon,omitempty"`
	UserData   json.RawMessage `json:"userData,omitempty"`
	ServerData ServerData      `json:"serverData"`
}

// AuthorityResponse is the downstream reply. A missing success field counts as accepted.
type AuthorityResponse struct {
	Success *bool  `json:"success,omitempty"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
}

// Rejected reports an explicit success:false.
func (r AuthorityResponse) Rejected() bool {
	return r.Success != nil && !*r.Success
}

// EventVerificationCompleted is the outcome event type.
const EventVerificationCompleted = "verification.completed"

// OutcomeEvent is published after every decided verification.
type OutcomeEvent struct {
	EventID   string    `json:"eventId"`
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	Guild     string    `json:"guild,omitempty"`
	Success   bool      `json:"success"`
	Reason    string    `json:"reason,omitempty"`
	Score     float64   `json:"score"`
	IP        string    `json:"ip,omitempty"` // anonymized
	Timestamp time.Time `json:"timestamp"`
}

// WebhookPayload is posted to the notification webhook after a success.
type WebhookPayload struct {
	ID        string    `json:"id"`
	Guild     string    `json:"guild,omitempty"`
	GuildName string    `json:"guild_name,omitempty"`
	Score     float64   `json:"score"`
	Country   string    `json:"country,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
