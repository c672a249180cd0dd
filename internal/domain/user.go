package domain

import (
	"time"
)

type User struct {
	ID            string    `json:"id"`
	OS            string    `json:"os"`
	DeviceModel   string    `json:"device_model"`
	PushToken     *string   `json:"push_token,omitempty"`
	TimeZone      string    `json:"time_zone"`
	AppVersion    string    `json:"app_version"`
	PublicAddress *string   `json:"public_address,omitempty"`
	Onboarded     bool      `json:"onboarded"`
	// MergedInto points at the user this account was migrated to, if any.
	// Settlement lookups follow this link in both directions.
	MergedInto *string   `json:"merged_into,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type RegisterUserRequest struct {
	UserID      string `json:"user_id"`
	OS          string `json:"os"`
	DeviceModel string `json:"device_model"`
	PushToken   string `json:"token,omitempty"`
	TimeZone    string `json:"time_zone"`
	DeviceID    string `json:"device_id,omitempty"`
	AppVersion  string `json:"app_ver"`
}
