package domain

import "time"

type Loadout struct {
	ID        int32     `json:"id"`
	UserID    int32     `json:"userId"`
	Name      string    `json:"name"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"createdAt"`
}

// LoadoutSingle is a loadout as seen on its own page.
// HasLiked is always false when there is no viewer.
type LoadoutSingle struct {
	Loadout
	LikeCount int64 `json:"likeCount"`
	HasLiked  bool  `json:"hasLiked"`
}

// LoadoutMultiple is a loadout as shown in listings. CoverURL is the url of
// the image at position 0, or empty when there is none.
type LoadoutMultiple struct {
	Loadout
	LikeCount   int64   `json:"likeCount"`
	HasLiked    bool    `json:"hasLiked"`
	UserSteamID SteamID `json:"userSteamId,string"`
	CoverURL    string  `json:"coverUrl"`
}

type Image struct {
	ID        int32     `json:"id"`
	URL       string    `json:"url"`
	LoadoutID int32     `json:"loadoutId"`
	Position  int32     `json:"position"`
	CreatedAt time.Time `json:"createdAt"`
}

// CoverPosition is the image position used as a loadout's cover.
const CoverPosition int32 = 0

type Like struct {
	ID        int32 `json:"id"`
	UserID    int32 `json:"userId"`
	LoadoutID int32 `json:"loadoutId"`
}

// LoadoutPage is everything the single loadout page shows.
type LoadoutPage struct {
	Loadout LoadoutSingle `json:"loadout"`
	Images  []Image       `json:"images"`
}
