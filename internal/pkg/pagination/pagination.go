package pagination

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// Params represents pagination parameters
type Params struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
}

// Meta represents pagination metadata
type Meta struct {
	Limit   int   `json:"limit"`
	Offset  int   `json:"offset"`
	Total   int64 `json:"total"`
	HasNext bool  `json:"has_next"`
	HasPrev bool  `json:"has_prev"`
}

// DefaultLimit is the default number of items per page
const DefaultLimit = 20

// MaxLimit is the maximum number of items per page
const MaxLimit = 100

// GetParams extracts limit/offset from the query string
func GetParams(c *fiber.Ctx) *Params {
	limit, _ := strconv.Atoi(c.Query("limit", strconv.Itoa(DefaultLimit)))
	offset, _ := strconv.Atoi(c.Query("offset", "0"))
	return Normalize(limit, offset)
}

// Normalize clamps limit into [1, MaxLimit] and offset to >= 0
func Normalize(limit, offset int) *Params {
	if limit < 1 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return &Params{Limit: limit, Offset: offset}
}

// GetMeta calculates pagination metadata
func GetMeta(params *Params, total int64) *Meta {
	return &Meta{
		Limit:   params.Limit,
		Offset:  params.Offset,
		Total:   total,
		HasNext: int64(params.Offset+params.Limit) < total,
		HasPrev: params.Offset > 0,
	}
}

// Response represents paginated response
type Response struct {
	Items      interface{} `json:"items"`
	Pagination *Meta       `json:"pagination"`
}

// NewResponse creates a new paginated response
func NewResponse(items interface{}, params *Params, total int64) *Response {
	return &Response{
		Items:      items,
		Pagination: GetMeta(params, total),
	}
}
