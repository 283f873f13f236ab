package repositories

import "github.com/maverick/chatbot/server/domain/entities"

// RoleRegistry provides read-only access to the configured roles
type RoleRegistry interface {
	GetByID(id string) (*entities.RoleProfile, bool)
	// List returns roles in configuration order
	List() []*entities.RoleProfile
}
