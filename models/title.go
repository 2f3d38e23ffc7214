package models

// FreeGenre is the sentinel genre tag marking a title as free to watch.
const FreeGenre = "Watch these Movies for FREE!"

// Title represents a catalog entry available for rental, ownership, or free viewing.
// Immutable once fetched; refreshed only by re-fetching the catalog.
type Title struct {
	ID             string   `json:"id"`
	Ref            string   `json:"ref"`
	Name           string   `json:"title"`
	Year           int      `json:"year,omitempty"`
	Duration       int      `json:"duration,omitempty"` // minutes
	Classification string   `json:"classification,omitempty"`
	Synopsis       string   `json:"synopsis,omitempty"`
	CastTags       string   `json:"tags,omitempty"`
	Genres         []string `json:"genres"`
	ArtworkRef     string   `json:"artworkRef,omitempty"`
}

// IsFree reports whether the title carries the free-access sentinel genre.
func (t Title) IsFree() bool {
	for _, g := range t.Genres {
		if g == FreeGenre {
			return true
		}
	}
	return false
}

// SharesGenre reports whether two titles have at least one genre tag in common.
func (t Title) SharesGenre(other Title) bool {
	for _, g := range t.Genres {
		for _, o := range other.Genres {
			if g == o {
				return true
			}
		}
	}
	return false
}
