package types

import "time"

// PlaylistRef is a remote playlist tracked for synchronization
type PlaylistRef struct {
	ID          string     `json:"id"`
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Enabled     bool       `json:"enabled"`
	LastChecked *time.Time `json:"lastChecked"`
	CreatedAt   time.Time  `json:"createdAt"`
}

// PlaylistPatch holds the fields of a partial playlist update. Nil fields are left alone.
type PlaylistPatch struct {
	URL         *string    `json:"url,omitempty"`
	Title       *string    `json:"title,omitempty"`
	Enabled     *bool      `json:"enabled,omitempty"`
	LastChecked *time.Time `json:"lastChecked,omitempty"`
}

// Apply copies every non-nil patch field onto p
func (patch PlaylistPatch) Apply(p *PlaylistRef) {
	if patch.URL != nil {
		p.URL = *patch.URL
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Enabled != nil {
		p.Enabled = *patch.Enabled
	}
	if patch.LastChecked != nil {
		t := *patch.LastChecked
		p.LastChecked = &t
	}
}

// ItemStatus is the terminal status of a download attempt
type ItemStatus string

const (
	ItemStatusCompleted ItemStatus = "completed"
	ItemStatusFailed    ItemStatus = "failed"
)

// ItemRecord is the persisted outcome of the last download attempt for one item
type ItemRecord struct {
	ID          string     `json:"id"`
	PlaylistID  string     `json:"playlistId"`
	Title       string     `json:"title"`
	SourceURL   string     `json:"sourceUrl,omitempty"`
	CompletedAt time.Time  `json:"completedAt"`
	Status      ItemStatus `json:"status"`
	FilePath    string     `json:"filePath"`
	Error       string     `json:"error,omitempty"`
	// HasSponsorBlock is only set on success; nil or false means worth re-checking.
	HasSponsorBlock *bool `json:"hasSponsorBlock,omitempty"`
}

// IsCompleted reports whether the record marks a usable download
func (r ItemRecord) IsCompleted() bool {
	return r.Status == ItemStatusCompleted && r.FilePath != ""
}

// SponsorBlockConfirmed reports whether skip-segment data was embedded
func (r ItemRecord) SponsorBlockConfirmed() bool {
	return r.HasSponsorBlock != nil && *r.HasSponsorBlock
}

// Listing is a resolved remote source
type Listing struct {
	ID    string        `json:"id"`
	Title string        `json:"title"`
	Items []ListingItem `json:"items"`
}

// ListingItem is one member of a resolved source
type ListingItem struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}
