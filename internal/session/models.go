package session

import "time"

const (
	StatusOpen = "open"
	StatusDone = "done"
)

type Session struct {
	ID        int64      `json:"id"`
	UserID    int64      `json:"userId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Status    string     `json:"status"`
	TickCount int        `json:"tickCount"`
	Distance  float64    `json:"distance"`
	Calories  float64    `json:"calories"`
	AvgSpeed  float64    `json:"avgSpeed"`
}

type StartRequest struct {
	CardID string `json:"cardId"`
}

// TickCount is a pointer so a missing field can be told apart from zero;
// absence is a request error, zero ticks is a valid workout.
type EndRequest struct {
	CardID    string `json:"cardId"`
	TickCount *int   `json:"tickCount"`
}

type CheckRequest struct {
	CardID string `json:"cardId"`
}

type StartResult struct {
	SessionID int64     `json:"sessionId"`
	StartTime time.Time `json:"startTime"`
}

type EndResult struct {
	SessionID int64     `json:"sessionId"`
	TickCount int       `json:"tickCount"`
	Distance  float64   `json:"distance"`
	Calories  float64   `json:"calories"`
	AvgSpeed  float64   `json:"avgSpeed"`
	StartTime time.Time `json:"startTime"`
	EndTime   time.Time `json:"endTime"`
}

type ActiveResult struct {
	CardID     string    `json:"cardId"`
	UserExists bool      `json:"userExists"`
	StartTime  time.Time `json:"startTime"`
}

type HistoryResult struct {
	CardID        string    `json:"cardId"`
	TotalSessions int       `json:"totalSessions"`
	Sessions      []Session `json:"sessions"`
}
