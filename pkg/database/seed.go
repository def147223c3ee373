package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookdesk/internal/domain/user"

	"gorm.io/gorm"
)

// AdminSeed describes one admin account to create or refresh.
type AdminSeed struct {
	DisplayName    string
	Email          string
	TelegramChatID string
}

// ParseAdminSeeds reads "name|email|telegramChatID" entries separated by
// commas. The telegram part is optional.
func ParseAdminSeeds(raw string) ([]AdminSeed, error) {
	var out []AdminSeed
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, "|")
		if len(parts) < 2 || strings.TrimSpace(parts[0]) == "" || strings.TrimSpace(parts[1]) == "" {
			return nil, fmt.Errorf("invalid admin seed %q", entry)
		}
		seed := AdminSeed{
			DisplayName: strings.TrimSpace(parts[0]),
			Email:       strings.ToLower(strings.TrimSpace(parts[1])),
		}
		if len(parts) > 2 {
			seed.TelegramChatID = strings.TrimSpace(parts[2])
		}
		out = append(out, seed)
	}
	return out, nil
}

// SeedAdmins upserts admin users keyed by email and returns them.
func SeedAdmins(ctx context.Context, db *gorm.DB, seeds []AdminSeed) ([]user.User, error) {
	admins := make([]user.User, 0, len(seeds))
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, seed := range seeds {
			var existing user.User
			err := tx.Where("email = ? AND role = ?", seed.Email, user.RoleAdmin).First(&existing).Error
			if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
				return err
			}
			if errors.Is(err, gorm.ErrRecordNotFound) {
				existing = user.User{Email: seed.Email, Role: user.RoleAdmin}
			}
			existing.DisplayName = seed.DisplayName
			existing.TelegramChatID = seed.TelegramChatID
			existing.TelegramEnabled = seed.TelegramChatID != ""
			if err := tx.Save(&existing).Error; err != nil {
				return fmt.Errorf("seed admin %s: %w", seed.Email, err)
			}
			admins = append(admins, existing)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return admins, nil
}
