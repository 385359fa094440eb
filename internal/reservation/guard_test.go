package reservation_test

import (
	"testing"

	"github.com/iot-resource-manager/backend/internal/reservation"
	"github.com/iot-resource-manager/backend/internal/storage/models"
)

func TestGuardCanAccess(t *testing.T) {
	var guard reservation.Guard

	admin := &models.User{ID: "a1", Role: models.RoleAdmin}
	alice := &models.User{ID: "u1", Role: models.RoleUser, PermittedResourceIDs: []string{"r1", "r2"}}
	bob := &models.User{ID: "u2", Role: models.RoleUser}

	tests := []struct {
		name       string
		user       *models.User
		resourceID string
		want       bool
	}{
		{"admin any resource", admin, "r9", true},
		{"user permitted resource", alice, "r1", true},
		{"user other permitted resource", alice, "r2", true},
		{"user unpermitted resource", alice, "r3", false},
		{"user with no permissions", bob, "r1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := guard.CanAccess(tt.user, tt.resourceID); got != tt.want {
				t.Errorf("CanAccess = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestGuardCanActFor(t *testing.T) {
	var guard reservation.Guard

	admin := &models.User{ID: "a1", Role: models.RoleAdmin}
	alice := &models.User{ID: "u1", Role: models.RoleUser}

	tests := []struct {
		name   string
		user   *models.User
		target string
		want   bool
	}{
		{"empty target means self", alice, "", true},
		{"explicit self", alice, "u1", true},
		{"user for another user", alice, "a1", false},
		{"admin for another user", admin, "u1", true},
		{"admin for self", admin, "a1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := guard.CanActFor(tt.user, tt.target); got != tt.want {
				t.Errorf("CanActFor = %v, want %v", got, tt.want)
			}
		})
	}
}
