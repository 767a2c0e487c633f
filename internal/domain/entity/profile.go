package entity

type AvatarKind string

const (
	AvatarNone   AvatarKind = "none"
	AvatarURL    AvatarKind = "url"
	AvatarObject AvatarKind = "object" // path inside the storage bucket
)

// AvatarRef is the resolved shape of a user's photo reference. User records
// carry either a URL or a storage object path; adapters decide which one
// once so callers never look at the raw fields.
type AvatarRef struct {
	Kind  AvatarKind `json:"kind"`
	Value string     `json:"value,omitempty"`
}

func NewAvatarRef(url, objectPath string) AvatarRef {
	switch {
	case url != "":
		return AvatarRef{Kind: AvatarURL, Value: url}
	case objectPath != "":
		return AvatarRef{Kind: AvatarObject, Value: objectPath}
	default:
		return AvatarRef{Kind: AvatarNone}
	}
}

type PeerProfile struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	Avatar      AvatarRef `json:"-"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
}
