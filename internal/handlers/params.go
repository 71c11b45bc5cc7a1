package handlers

import (
	"errors"
	"net/http"
	"strconv"
)

// paginationParams reads limit/offset query parameters with defaults.
func paginationParams(r *http.Request, defaultLimit, maxLimit int) (int, int, error) {
	limit := defaultLimit
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if _, err := parseIntParam(l, &limit, 1, maxLimit); err != nil {
			return 0, 0, errors.New("invalid limit parameter")
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if _, err := parseIntParam(o, &offset, 0, 100000); err != nil {
			return 0, 0, errors.New("invalid offset parameter")
		}
	}

	return limit, offset, nil
}

// parseIntParam parses and validates an integer parameter
func parseIntParam(value string, dest *int, min, max int) (int, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, err
	}

	if n < min || n > max {
		return 0, errors.New("parameter out of range")
	}

	*dest = n
	return n, nil
}
