package user

import (
	"time"

	"backend-spinlog/internal/shared/workout"
)

// Gender values match the card reader firmware's numeric encoding.
const (
	GenderMale   = 1
	GenderFemale = 2
)

type User struct {
	ID        int64     `json:"id"`
	CardID    string    `json:"cardId"`
	Name      string    `json:"name"`
	Weight    float64   `json:"weight"`
	Gender    int       `json:"gender"`
	CreatedAt time.Time `json:"createdAt"`
}

// CalorieMultiplier returns the gender factor used in calorie estimation.
func (u User) CalorieMultiplier() float64 {
	if u.Gender == GenderMale {
		return 1.2
	}
	return 1.0
}

// EffectiveWeight falls back to the default when no weight is recorded.
func (u User) EffectiveWeight() float64 {
	if u.Weight <= 0 {
		return workout.DefaultWeightKg
	}
	return u.Weight
}

type CreateRequest struct {
	CardID string  `json:"cardId"`
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
	Gender int     `json:"gender"`
}

type UpdateWeightRequest struct {
	Weight float64 `json:"weight"`
}
