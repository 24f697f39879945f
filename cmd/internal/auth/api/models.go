package authapi

import "time"

type loginRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=256"`
	Platform string `json:"platform" validate:"omitempty,oneof=web ios android desktop"`
}

type registerRequest struct {
	Username    string `json:"username" validate:"required,min=3,max=32"`
	DisplayName string `json:"display_name" validate:"omitempty,max=64"`
	Password    string `json:"password" validate:"required,max=256"`
	Platform    string `json:"platform" validate:"omitempty,oneof=web ios android desktop"`
	InviteToken string `json:"invite_token" validate:"omitempty,max=256"`
}

type createInviteRequest struct {
	TTLSeconds int64   `json:"ttl_seconds" validate:"gte=0"`
	MaxUses    int     `json:"max_uses" validate:"gte=0,lte=100"`
	Note       *string `json:"note" validate:"omitempty,max=512"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,max=256"`
	Platform     string `json:"platform" validate:"omitempty,oneof=web ios android desktop"`
}

type logoutRequest struct {
	RefreshToken string `json:"refresh_token" validate:"omitempty,max=256"`
}

type passwordChangeRequest struct {
	CurrentPassword string `json:"current_password" validate:"required,max=256"`
	NewPassword     string `json:"new_password" validate:"required,max=256"`
	Platform        string `json:"platform" validate:"omitempty,oneof=web ios android desktop"`
}

type userResponse struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}

type sessionResponse struct {
	FamilyID         string    `json:"family_id"`
	AccessToken      string    `json:"access_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

type inviteResponse struct {
	ID        string    `json:"id"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	MaxUses   int       `json:"max_uses"`
}

type loginResponse struct {
	User    userResponse    `json:"user"`
	Session sessionResponse `json:"session"`
}

type refreshResponse struct {
	Session sessionResponse `json:"session"`
}

type meResponse struct {
	User userResponse `json:"user"`
}
