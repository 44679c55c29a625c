package store

// PermissionMask is the allow/deny bitmask pair stored on an account.
type PermissionMask struct {
	Allowed int `json:"allowed"`
	Denied  int `json:"denied"`
}

// Status is an account's presence state. Song is only meaningful when
// Current is "listening".
type Status struct {
	Current string `json:"current"`
	Song    string `json:"song,omitempty"`
}

// Connections holds linked external identities.
type Connections struct {
	Gravatar string `json:"gravatar,omitempty"`
}

// Account is the full account document.
type Account struct {
	Username     string         `json:"username"`
	Email        string         `json:"email"`
	Password     string         `json:"password"` // pbkdf2-sha256, hex
	Salt         string         `json:"salt"`
	Token        string         `json:"token"` // opaque account token
	JWT          string         `json:"jwt,omitempty"`
	Permissions  PermissionMask `json:"permissions"`
	Status       Status         `json:"status"`
	AvatarURL    string         `json:"avatarUrl"`
	Description  string         `json:"description"`
	Followers    []string       `json:"followers"`
	Following    []string       `json:"following"`
	Friends      []string       `json:"friends"`
	BlockedUsers []string       `json:"blockedUsers"`
	Badges       []string       `json:"badges"`
	Activated    bool           `json:"activated"`
	Connections  Connections    `json:"connections"`
}

// News is a published news article.
type News struct {
	UUID      string `json:"uuid"`
	Author    string `json:"author"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt"` // unix millis
}

// Theme is a published theme's metadata. The tarball itself lives on the CDN.
type Theme struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Author      string `json:"author"`
	Description string `json:"description"`
	Repository  string `json:"repository"`
	Version     string `json:"version"`
	Changelog   string `json:"changelog"`
	Favourites  int    `json:"favourites"`
	Downloads   int    `json:"downloads"`
	Tarball     string `json:"tarball,omitempty"`
}

// Counts is the document tally reported by /stats.
type Counts struct {
	Accounts int64 `json:"accounts"`
	Articles int64 `json:"articles"`
	Themes   int64 `json:"themes"`
}
