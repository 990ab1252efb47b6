package core

import "time"

// CategoryTotal is the number of stars earned in one category.
type CategoryTotal struct {
	Category Category `json:"category"`
	Stars    int64    `json:"stars"`
}

// DayTotal is the number of stars earned on one calendar day.
type DayTotal struct {
	Day   time.Time `json:"day"` // midnight in the report's location
	Stars int64     `json:"stars"`
}

// Report is a read-only summary of a child's ledger over [From, To).
type Report struct {
	ChildID    string          `json:"child_id"`
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Earned     int64           `json:"earned"`
	Redeemed   int64           `json:"redeemed"`
	EarnCount  int             `json:"earn_count"`
	ByCategory []CategoryTotal `json:"by_category"`
	ByDay      []DayTotal      `json:"by_day"`
}
