package scans

// Page is one page of a listing.
type Page[T any] struct {
	Data       []T   `json:"data"`
	Page       int   `json:"page"`
	PageSize   int   `json:"pageSize"`
	Total      int64 `json:"totalItems"`
	TotalPages int   `json:"totalPages"`
}

// HistoryPage is one page of a contract's result ledger, newest first.
type HistoryPage = Page[HistoryEntry]

// VersionPage is one page of registered contract versions.
type VersionPage = Page[ContractVersion]

// NewPage fills in the page count.
func NewPage[T any](data []T, page, pageSize int, total int64) Page[T] {
	pages := 0
	if pageSize > 0 {
		pages = int((total + int64(pageSize) - 1) / int64(pageSize))
	}
	if data == nil {
		data = []T{}
	}
	return Page[T]{Data: data, Page: page, PageSize: pageSize, Total: total, TotalPages: pages}
}

// NewHistoryPage fills in the page count of a ledger page.
func NewHistoryPage(data []HistoryEntry, page, pageSize int, total int64) HistoryPage {
	return NewPage(data, page, pageSize, total)
}

// NormalizePage clamps paging parameters to sane bounds.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	return page, pageSize
}

// VersionFilter narrows a contract version listing. Empty fields match all.
type VersionFilter struct {
	ContractID  string
	PublisherID string
}
