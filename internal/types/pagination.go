package types

// PaginationResponse describes the page a list response covers
type PaginationResponse struct {
	Total  int `json:"total"`
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// ListResponse wraps one page of items
type ListResponse[T any] struct {
	Items      []T                `json:"items"`
	Pagination PaginationResponse `json:"pagination"`
}

// NewListResponse builds a list response. A zero limit means the page is unbounded
// and is reported as the number of items returned.
func NewListResponse[T any](items []T, total, limit, offset int) ListResponse[T] {
	if limit == 0 {
		limit = len(items)
	}
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{
		Items: items,
		Pagination: PaginationResponse{
			Total:  total,
			Limit:  limit,
			Offset: offset,
		},
	}
}
