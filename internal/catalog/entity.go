package catalog

import (
	"fmt"
	"sort"
)

// EntityType identifies one upstream list that can be synced
type EntityType string

// ContentType is the upstream kind of a record
type ContentType string

const (
	// ContentMovie is a TMDB movie
	ContentMovie ContentType = "movie"
	// ContentTV is a TMDB TV show
	ContentTV ContentType = "tv"
)

// Known entity types
const (
	MoviePopular    EntityType = "movie_popular"
	MovieTopRated   EntityType = "movie_top_rated"
	MovieNowPlaying EntityType = "movie_now_playing"
	MovieUpcoming   EntityType = "movie_upcoming"
	MovieDiscover   EntityType = "movie_discover"
	MovieTopVoted   EntityType = "movie_top_voted"
	MovieChanges    EntityType = "movie_changes"
	TVPopular       EntityType = "tv_popular"
	TVTopRated      EntityType = "tv_top_rated"
	TVDiscover      EntityType = "tv_discover"
	TVChanges       EntityType = "tv_changes"
)

type entitySpec struct {
	path        string
	contentType ContentType
	params      map[string]string
	// changes feeds list ids only, accept a date window and need a detail fetch per id
	changes bool
}

var discoverParams = map[string]string{
	"include_adult": "false",
	"sort_by":       "popularity.desc",
}

var entities = map[EntityType]entitySpec{
	MoviePopular:    {path: "/movie/popular", contentType: ContentMovie},
	MovieTopRated:   {path: "/movie/top_rated", contentType: ContentMovie},
	MovieNowPlaying: {path: "/movie/now_playing", contentType: ContentMovie},
	MovieUpcoming:   {path: "/movie/upcoming", contentType: ContentMovie},
	MovieDiscover:   {path: "/discover/movie", contentType: ContentMovie, params: discoverParams},
	MovieTopVoted: {
		path:        "/discover/movie",
		contentType: ContentMovie,
		params:      map[string]string{"include_adult": "false", "sort_by": "vote_count.desc"},
	},
	MovieChanges: {path: "/movie/changes", contentType: ContentMovie, changes: true},
	TVPopular:    {path: "/tv/popular", contentType: ContentTV},
	TVTopRated:   {path: "/tv/top_rated", contentType: ContentTV},
	TVDiscover:   {path: "/discover/tv", contentType: ContentTV, params: discoverParams},
	TVChanges:    {path: "/tv/changes", contentType: ContentTV, changes: true},
}

// ParseEntityType validates name against the known entity types
func ParseEntityType(name string) (EntityType, error) {
	e := EntityType(name)
	if _, ok := entities[e]; !ok {
		return "", fmt.Errorf("unknown entity type %q", name)
	}
	return e, nil
}

// EntityTypes returns all known entity types in sorted order
func EntityTypes() []EntityType {
	out := make([]EntityType, 0, len(entities))
	for e := range entities {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ContentType returns the kind of record the entity type yields
func (e EntityType) ContentType() ContentType {
	return entities[e].contentType
}

// SupportsIncremental reports whether the entity type accepts an "updated since" window
func (e EntityType) SupportsIncremental() bool {
	return entities[e].changes
}

// Valid reports whether e is a known entity type
func (e EntityType) Valid() bool {
	_, ok := entities[e]
	return ok
}

func (e EntityType) String() string {
	return string(e)
}
