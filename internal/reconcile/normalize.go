package reconcile

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/stacklok/tmdb-sync/internal/catalog"
	"github.com/stacklok/tmdb-sync/internal/documents"
)

// animationGenreID is the TMDB genre id of animated titles
const animationGenreID = 16

// documentNamespace scopes the name-based UUIDs of local documents
var documentNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://api.themoviedb.org/3"))

// LocalID derives the local document id of an upstream record. It depends on
// nothing but its arguments, so re-syncing a record always targets the same document.
func LocalID(contentType catalog.ContentType, upstreamID string) string {
	return uuid.NewSHA1(documentNamespace, []byte(string(contentType)+":"+upstreamID)).String()
}

// versionedFields are the normalized fields that list and detail payloads
// both carry. Hashing only these keeps a document synced from both kinds of
// feed from flipping between two versions.
var versionedFields = []string{
	"title", "original_title", "overview", "original_language",
	"poster_path", "backdrop_path", "popularity", "vote_average", "vote_count",
	"adult", "release_date", "genre_ids",
}

// SourceVersion is the upstream modification time when known and a hash of
// the shared normalized fields otherwise.
func SourceVersion(rec catalog.Record) (string, error) {
	if rec.LastModified != nil {
		return modifiedVersion(*rec.LastModified), nil
	}
	if !gjson.ValidBytes(rec.Payload) {
		return "", fmt.Errorf("payload is not valid JSON")
	}
	fields, err := extractFields(rec.ContentType, gjson.ParseBytes(rec.Payload))
	if err != nil {
		return "", err
	}
	return fieldsVersion(fields)
}

func modifiedVersion(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// fieldsVersion hashes the versioned fields. encoding/json writes map keys in
// sorted order, which makes the encoding canonical.
func fieldsVersion(fields map[string]any) (string, error) {
	shared := make(map[string]any, len(versionedFields))
	for _, k := range versionedFields {
		if v, ok := fields[k]; ok {
			shared[k] = v
		}
	}
	canonical, err := json.Marshal(shared)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Normalize maps an upstream record to its document shape. Timestamps are
// left for the caller to set.
func Normalize(entity catalog.EntityType, rec catalog.Record) (*documents.Document, error) {
	if rec.ID == "" {
		return nil, &catalog.MalformedResponseError{Reason: "record has no id"}
	}
	if !gjson.ValidBytes(rec.Payload) {
		return nil, &catalog.MalformedResponseError{RecordID: rec.ID, Reason: "payload is not valid JSON"}
	}
	root := gjson.ParseBytes(rec.Payload)
	if !root.IsObject() {
		return nil, &catalog.MalformedResponseError{RecordID: rec.ID, Reason: "payload is not an object"}
	}

	fields, err := extractFields(rec.ContentType, root)
	if err != nil {
		return nil, &catalog.MalformedResponseError{RecordID: rec.ID, Reason: err.Error()}
	}
	var version string
	if rec.LastModified != nil {
		version = modifiedVersion(*rec.LastModified)
	} else if version, err = fieldsVersion(fields); err != nil {
		return nil, &catalog.MalformedResponseError{RecordID: rec.ID, Reason: err.Error()}
	}

	return &documents.Document{
		ID:            LocalID(rec.ContentType, rec.ID),
		UpstreamID:    rec.ID,
		ContentType:   string(rec.ContentType),
		EntityType:    string(entity),
		Fields:        fields,
		Payload:       rec.Payload,
		SourceVersion: version,
	}, nil
}

func extractFields(contentType catalog.ContentType, root gjson.Result) (map[string]any, error) {
	titleKey, originalKey, dateKey := "title", "original_title", "release_date"
	if contentType == catalog.ContentTV {
		titleKey, originalKey, dateKey = "name", "original_name", "first_air_date"
	}

	title := root.Get(titleKey)
	if title.Type != gjson.String || title.String() == "" {
		return nil, fmt.Errorf("%s must be a non-empty string", titleKey)
	}

	fields := map[string]any{"title": title.String()}
	setString(fields, "original_title", root.Get(originalKey))
	setString(fields, "overview", root.Get("overview"))
	setString(fields, "original_language", root.Get("original_language"))
	setString(fields, "poster_path", root.Get("poster_path"))
	setString(fields, "backdrop_path", root.Get("backdrop_path"))
	setNumber(fields, "popularity", root.Get("popularity"))
	setNumber(fields, "vote_average", root.Get("vote_average"))
	setNumber(fields, "vote_count", root.Get("vote_count"))
	if adult := root.Get("adult"); adult.IsBool() {
		fields["adult"] = adult.Bool()
	}

	if date := root.Get(dateKey); date.Type == gjson.String && date.String() != "" {
		fields["release_date"] = date.String()
		if len(date.String()) >= 4 {
			if year, err := strconv.Atoi(date.String()[:4]); err == nil {
				fields["year"] = year
			}
		}
	}

	genres := genreIDs(root)
	fields["genre_ids"] = genres
	fields["is_animated"] = false
	for _, g := range genres {
		if g == animationGenreID {
			fields["is_animated"] = true
			break
		}
	}
	fields["country_codes"] = countryCodes(root)

	return fields, nil
}

// genreIDs reads list-style "genre_ids" or detail-style "genres[].id"
func genreIDs(root gjson.Result) []int64 {
	ids := []int64{}
	source := root.Get("genre_ids")
	if !source.IsArray() {
		source = root.Get("genres.#.id")
	}
	for _, g := range source.Array() {
		if g.Type == gjson.Number {
			ids = append(ids, g.Int())
		}
	}
	return ids
}

// countryCodes reads movie "production_countries[].iso_3166_1" or "origin_country"
func countryCodes(root gjson.Result) []string {
	codes := []string{}
	source := root.Get("production_countries.#.iso_3166_1")
	if len(source.Array()) == 0 {
		source = root.Get("origin_country")
	}
	for _, c := range source.Array() {
		if c.Type == gjson.String && c.String() != "" {
			codes = append(codes, c.String())
		}
	}
	return codes
}

func setString(fields map[string]any, key string, v gjson.Result) {
	if v.Type == gjson.String {
		fields[key] = v.String()
	}
}

func setNumber(fields map[string]any, key string, v gjson.Result) {
	if v.Type == gjson.Number {
		fields[key] = v.Float()
	}
}
