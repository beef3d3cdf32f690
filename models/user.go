package models

import "time"

type RankTier string

const (
	TierBronze   RankTier = "bronze"
	TierSilver   RankTier = "silver"
	TierGold     RankTier = "gold"
	TierPlatinum RankTier = "platinum"
	TierDiamond  RankTier = "diamond"
	TierMaster   RankTier = "master"
)

const (
	DefaultRating = 1200
	MinRating     = 800
)

type User struct {
	ID           int       `json:"id"`
	Nickname     string    `json:"nickname"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Rating       int       `json:"rating"`
	Tier         RankTier  `json:"tier"`
	CreatedAt    time.Time `json:"created_at"`
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TierForRating maps a rating value onto its rank tier.
func TierForRating(rating int) RankTier {
	switch {
	case rating < 1300:
		return TierBronze
	case rating < 1500:
		return TierSilver
	case rating < 1700:
		return TierGold
	case rating < 1900:
		return TierPlatinum
	case rating < 2100:
		return TierDiamond
	default:
		return TierMaster
	}
}
