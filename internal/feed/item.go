package feed

// Counters holds engagement counts owned by collaborators outside the engine.
type Counters struct {
	Likes    int64 `json:"likes"`
	Comments int64 `json:"comments"`
	Shares   int64 `json:"shares"`
}

// Item is one clip in the feed. Only Counters change after creation.
type Item struct {
	ID              string            `json:"id"`
	MediaURL        string            `json:"media_url"`
	PosterURL       string            `json:"poster_url,omitempty"`
	DurationSeconds float64           `json:"duration_seconds,omitempty"`
	CreatorID       string            `json:"creator_id,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	Counters        Counters          `json:"counters"`
}

// Page is one response from a PageSource.
type Page struct {
	Items      []Item `json:"items"`
	Cursor     string `json:"cursor"`
	NextCursor string `json:"next_cursor"`
	HasMore    bool   `json:"has_more"`
}
