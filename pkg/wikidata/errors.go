package wikidata

import "errors"

var (
	// ErrNetwork indicates a transport failure that survived all retries.
	ErrNetwork = errors.New("wikidata network error")
	// ErrProtocol indicates a non-success status or an error payload from the API.
	ErrProtocol = errors.New("wikidata protocol error")
	// ErrParse indicates a failure to parse the response.
	ErrParse = errors.New("wikidata parse error")
	// ErrNotFound indicates the requested entity was not found.
	ErrNotFound = errors.New("wikidata entity not found")
)
