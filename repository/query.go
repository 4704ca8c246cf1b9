package repository

import (
	"net/url"
	"strconv"
)

// defaultLimit applies when a caller passes no page size.
const defaultLimit = 20

// pageQuery builds the standard page/limit pagination parameters.
func pageQuery(page, limit int) url.Values {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(limit))
	return q
}

// querySignature canonicalizes a query into a stable list-cache ID.
// url.Values.Encode sorts by key, so equal filters always produce the same
// signature regardless of insertion order.
func querySignature(q url.Values) string {
	return q.Encode()
}
