package httpdto

import (
	"bookdesk/internal/domain/user"

	"github.com/google/uuid"
)

type UserResponse struct {
	ID              uuid.UUID `json:"id"`
	DisplayName     string    `json:"displayName"`
	Role            user.Role `json:"role"`
	Email           string    `json:"email,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	TelegramEnabled bool      `json:"telegramEnabled"`
}

func FromUser(u *user.User) UserResponse {
	return UserResponse{
		ID:              u.ID,
		DisplayName:     u.DisplayName,
		Role:            u.Role,
		Email:           u.Email,
		Phone:           u.Phone,
		TelegramEnabled: u.TelegramEnabled,
	}
}

func FromUsers(items []user.User) []UserResponse {
	out := make([]UserResponse, 0, len(items))
	for i := range items {
		out = append(out, FromUser(&items[i]))
	}
	return out
}
