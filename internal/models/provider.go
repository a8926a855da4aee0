package models

import "time"

// ProviderConfig holds the per-owner call provider credentials and routing.
type ProviderConfig struct {
	OwnerID           string    `json:"ownerId"`
	AssistantID       string    `json:"assistantId"`
	PhoneNumberID     string    `json:"phoneNumberId"`
	TwilioAccountSID  string    `json:"twilioAccountSid"`
	TwilioAuthToken   string    `json:"twilioAuthToken,omitempty"`
	TwilioPhoneNumber string    `json:"twilioPhoneNumber"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// RedactedSecret stands in for secrets in API responses.
const RedactedSecret = "********"

// Redacted returns a copy safe to hand to API clients.
func (c ProviderConfig) Redacted() ProviderConfig {
	out := c
	if out.TwilioAuthToken != "" {
		out.TwilioAuthToken = RedactedSecret
	}
	return out
}

// Merge applies the non-empty fields of update onto c. A blank or redacted
// auth token keeps the current token. OwnerID and UpdatedAt are never taken
// from update.
func (c ProviderConfig) Merge(update ProviderConfig) ProviderConfig {
	out := c
	if update.AssistantID != "" {
		out.AssistantID = update.AssistantID
	}
	if update.PhoneNumberID != "" {
		out.PhoneNumberID = update.PhoneNumberID
	}
	if update.TwilioAccountSID != "" {
		out.TwilioAccountSID = update.TwilioAccountSID
	}
	if update.TwilioAuthToken != "" && update.TwilioAuthToken != RedactedSecret {
		out.TwilioAuthToken = update.TwilioAuthToken
	}
	if update.TwilioPhoneNumber != "" {
		out.TwilioPhoneNumber = update.TwilioPhoneNumber
	}
	return out
}
