package models

import "time"

// CrawledPage is one successfully (or duplicate-skipped) visited detail URL
//.
type CrawledPage struct {
	ID             string    `json:"id"`
	WebsiteID      string    `badgerhold:"index" json:"website_id,omitempty"`
	JobID          string    `badgerhold:"index" json:"job_id"`
	URL            string    `json:"url"`
	URLHash        string    `badgerhold:"index" json:"url_hash"`
	ContentHash    string    `badgerhold:"index" json:"content_hash,omitempty"`
	Title          string    `json:"title,omitempty"`
	ExtractedText  string    `json:"extracted_text,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	HTMLBlobPath   string    `json:"html_blob_path,omitempty"`
	DocumentPaths  []string  `json:"document_paths,omitempty"`
	IsDuplicate    bool      `json:"is_duplicate"`
	DuplicateOf    string    `json:"duplicate_of,omitempty"` // self-reference to the original page's ID
	SimilarityScore int      `json:"similarity_score,omitempty"` // [0,100]
	CreatedAt      time.Time `json:"created_at"`
}

// WebsiteURLKey is the composite uniqueness key for CrawledPage
//.
func WebsiteURLKey(websiteID, urlHash string) string {
	return websiteID + "|" + urlHash
}

// ContentHash is the primary record of a content fingerprint first seen on
// a page, used by the Simhash/exact-hash dedup phase.
type ContentHash struct {
	Hash            string    `json:"content_hash"` // primary key
	FirstSeenPageID string    `json:"first_seen_page_id,omitempty"` // weak ref, nulled on page delete
	OccurrenceCount int       `json:"occurrence_count"` // >= 1
	Simhash         uint64    `json:"simhash,omitempty"`
	LastSeenAt      time.Time `json:"last_seen_at"`
}
