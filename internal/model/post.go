package model

// CraigslistPost is one result node extracted from a listing page.
type CraigslistPost struct {
	Content string `json:"content"`
	Title   string `json:"title"`
}
