package models

// Song is a card to be dated. Immutable once placed into a timeline.
type Song struct {
	ID         string `json:"id" yaml:"id"`
	Title      string `json:"title" yaml:"title"`
	Artist     string `json:"artist" yaml:"artist"`
	Album      string `json:"album,omitempty" yaml:"album"`
	Year       int    `json:"year" yaml:"year"`
	Genre      string `json:"genre,omitempty" yaml:"genre"`
	PreviewURL string `json:"preview_url,omitempty" yaml:"preview_url"`
	Color      string `json:"color,omitempty" yaml:"color"`
}

// CloneSongs copies a song slice, preserving nil.
func CloneSongs(songs []Song) []Song {
	if songs == nil {
		return nil
	}
	out := make([]Song, len(songs))
	copy(out, songs)
	return out
}
