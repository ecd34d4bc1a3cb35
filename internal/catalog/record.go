package catalog

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

// Record is one upstream catalog entry. Records are read-only snapshots.
type Record struct {
	// ID is the upstream-assigned id
	ID          string
	ContentType ContentType
	// LastModified is nil when the upstream does not report a modification time
	LastModified *time.Time
	// Payload is the raw upstream JSON object
	Payload json.RawMessage
}

// listPage is the decoded envelope of a list response
type listPage struct {
	page       int
	totalPages int
	records    []Record
	failed     []RecordError
}

// decodeListPage parses a TMDB list envelope. Envelope problems are returned
// as a MalformedResponseError; per-record problems land in failed.
func decodeListPage(body []byte, contentType ContentType) (*listPage, error) {
	if !gjson.ValidBytes(body) {
		return nil, &MalformedResponseError{Reason: "response body is not valid JSON"}
	}
	root := gjson.ParseBytes(body)
	if !root.IsObject() {
		return nil, &MalformedResponseError{Reason: "response body is not a JSON object"}
	}
	results := root.Get("results")
	if !results.IsArray() {
		return nil, &MalformedResponseError{Reason: "response has no results array"}
	}
	pageField := root.Get("page")
	if pageField.Type != gjson.Number || pageField.Int() < 1 {
		return nil, &MalformedResponseError{Reason: "response has no valid page number"}
	}

	out := &listPage{
		page:       int(pageField.Int()),
		totalPages: int(root.Get("total_pages").Int()),
	}
	for i, item := range results.Array() {
		rec, err := decodeRecord(item, contentType)
		if err != nil {
			out.failed = append(out.failed, RecordError{Index: i, ID: item.Get("id").String(), Err: err})
			continue
		}
		out.records = append(out.records, rec)
	}
	return out, nil
}

// decodeRecord validates the minimal schema every record must satisfy
func decodeRecord(item gjson.Result, contentType ContentType) (Record, error) {
	if !item.IsObject() {
		return Record{}, &MalformedResponseError{Reason: "record is not an object"}
	}
	id := item.Get("id")
	if id.Type != gjson.Number || id.Int() <= 0 || float64(id.Int()) != id.Float() {
		return Record{}, &MalformedResponseError{RecordID: id.String(), Reason: "id must be a positive integer"}
	}
	recordID := strconv.FormatInt(id.Int(), 10)

	var lastModified *time.Time
	if lm := item.Get("last_modified"); lm.Exists() {
		t, err := time.Parse(time.RFC3339, lm.String())
		if err != nil {
			return Record{}, &MalformedResponseError{RecordID: recordID, Reason: "last_modified is not RFC 3339"}
		}
		lastModified = &t
	}

	return Record{
		ID:           recordID,
		ContentType:  contentType,
		LastModified: lastModified,
		Payload:      json.RawMessage(item.Raw),
	}, nil
}

// changedIDs lists the ids referenced by a changes feed page
func changedIDs(records []Record) []string {
	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, r.ID)
	}
	return ids
}
