package models

import "time"

// User is the public profile of a chat participant.
type User struct {
	ID          string            `json:"id" bson:"_id"`
	Name        string            `json:"name" bson:"name"`
	Email       string            `json:"email" bson:"email"`
	PhotoURL    string            `json:"photoURL,omitempty" bson:"photo_url,omitempty"`
	Bio         string            `json:"bio,omitempty" bson:"bio,omitempty"`
	SocialLinks map[string]string `json:"socialLinks,omitempty" bson:"social_links,omitempty"`
	ThemeColor  string            `json:"themeColor,omitempty" bson:"theme_color,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt" bson:"updated_at"`
}

// Account holds credentials for the identity service. It is never sent to clients.
type Account struct {
	ID           string    `bson:"_id"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
}

// Collection names shared by the store and the change bus.
const (
	UsersCollection    = "users"
	AccountsCollection = "accounts"
	PresenceCollection = "onlineStatus"
	StatusCollection   = "userStatus"
	TypingCollection   = "typingStatus"
)
