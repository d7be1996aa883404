package types

// MediaFile represents a downloaded artifact found under the download root
type MediaFile struct {
	ItemID   string         `json:"itemId"`
	Filename string         `json:"filename"`
	Path     string         `json:"path"`
	Size     int64          `json:"size"`
	Format   string         `json:"format"` // "mp4", "m4a", ...
	Metadata *MediaMetadata `json:"metadata,omitempty"`
}

// MediaMetadata represents embedded metadata for a media file
type MediaMetadata struct {
	Title  string `json:"title,omitempty"`
	Artist string `json:"artist,omitempty"`
	Album  string `json:"album,omitempty"`
	Year   int    `json:"year,omitempty"`
}
