package httpapi

import "time"

type membershipRequest struct {
	User string `json:"user"`
}

type contributeResponse struct {
	Found bool   `json:"found"`
	Chat  string `json:"chat,omitempty"`
	Count int    `json:"count"`
}

type leaveResponse struct {
	Found bool   `json:"found"`
	Chat  string `json:"chat,omitempty"`
	Count int    `json:"count"`
}

type terminateResponse struct {
	Chat      string `json:"chat"`
	Total     int    `json:"total"`
	TallyID   string `json:"tally_id,omitempty"`
	Persisted bool   `json:"persisted"`
}

type tallyResponse struct {
	ID           string    `json:"id"`
	Chat         string    `json:"chat"`
	Total        int64     `json:"total"`
	TerminatedAt time.Time `json:"terminated_at"`
}

type talliesResponse struct {
	Tallies []tallyResponse `json:"tallies"`
	HasMore bool            `json:"has_more"`
}

type statsResponse struct {
	Buckets  int `json:"buckets"`
	Live     int `json:"live"`
	Departed int `json:"departed"`
}
