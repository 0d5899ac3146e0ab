package models

// Identity is the platform's view of a user. It is owned by the auth
// backend; everything here treats it as read-only.
type Identity struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
	IsCreator   bool   `json:"is_creator"`
}

// Creator is a creator profile from the directory.
type Creator struct {
	ID                string   `json:"id"`
	UserID            string   `json:"user_id"`
	DisplayName       string   `json:"display_name"`
	Bio               string   `json:"bio"`
	Category          string   `json:"category"`
	Tags              []string `json:"tags,omitempty"`
	SubscriptionPrice float64  `json:"subscription_price"`
	FollowerCount     int      `json:"follower_count"`
	ContentCount      int      `json:"content_count"`
	IsVerified        bool     `json:"is_verified"`
}
