package drive

import "time"

// Item is a file or folder reported by the listing or delta feed.
// Items are ephemeral: they are fetched per pass and never stored.
type Item struct {
	ID             string
	Name           string
	URL            string
	OwnerUserID    string
	ParentID       string // empty for the drive root
	LastModifiedAt time.Time
	IsContainer    bool
	ContentHash    string
	Shared         bool // feed hint that permissions may differ from the parent
}

// HasParent reports whether the item has a parent in the drive.
func (i Item) HasParent() bool {
	return i.ParentID != ""
}

// CursorMode tells the fetcher how to interpret a token.
type CursorMode string

const (
	// CursorCrawl pages through the initial full listing.
	CursorCrawl CursorMode = "crawl"
	// CursorDelta replays a delta token or a continuation page of a delta pass.
	CursorDelta CursorMode = "delta"
)

// Cursor is an opaque position in the feed. Token is never parsed outside the fetcher.
type Cursor struct {
	Mode  CursorMode
	Token string
}

// CrawlCursor returns a cursor for a full-crawl page. An empty token starts a new crawl.
func CrawlCursor(token string) Cursor {
	return Cursor{Mode: CursorCrawl, Token: token}
}

// DeltaCursor returns a cursor for a delta page.
func DeltaCursor(token string) Cursor {
	return Cursor{Mode: CursorDelta, Token: token}
}

// ItemPage is one page of the item feed.
type ItemPage struct {
	Items      []Item
	DeletedIDs []string
	// NextToken is set when the feed has another page for the current pass.
	NextToken string
	// DeltaToken is set on the terminal page and seeds the next delta pass.
	DeltaToken string
	// Skipped counts malformed records dropped from this page.
	Skipped int
}

// HasMore reports whether another page follows in the current pass.
func (p *ItemPage) HasMore() bool {
	return p.NextToken != ""
}
