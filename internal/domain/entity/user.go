package entity

import "time"

// User is the subset of the platform's user record this service reads and
// writes. The record itself is owned by the profile service.
type User struct {
	ID         string          `json:"id" firestore:"id"`
	Username   string          `json:"username" firestore:"username"`
	FullName   string          `json:"full_name,omitempty" firestore:"fullName,omitempty"`
	AvatarURL  string          `json:"avatar_url,omitempty" firestore:"avatarURL,omitempty"`
	PhotoURL   string          `json:"photo_url,omitempty" firestore:"photoURL,omitempty"`
	AvatarPath string          `json:"avatar_path,omitempty" firestore:"avatarPath,omitempty"`
	ChatActive map[string]bool `json:"chat_active,omitempty" firestore:"chatActive,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at" firestore:"updatedAt"`
}

// Profile converts the record into the cached peer profile. The display
// name falls back from full name to username to the id.
func (u *User) Profile() *PeerProfile {
	name := u.FullName
	if name == "" {
		name = u.Username
	}
	if name == "" {
		name = u.ID
	}

	url := u.AvatarURL
	if url == "" {
		url = u.PhotoURL
	}

	return &PeerProfile{
		UserID:      u.ID,
		DisplayName: name,
		Avatar:      NewAvatarRef(url, u.AvatarPath),
	}
}
