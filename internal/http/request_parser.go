package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const maxBodyBytes = 64 << 10

var errBadParam = errors.New("invalid parameter")

// MonthParams holds parsed year/month values from request parameters.
type MonthParams struct {
	Year  int
	Month int
}

// ParseMonthParams extracts year and month from the query, falling back
// to the given current period. Values that are present but not numbers
// are an error.
func ParseMonthParams(query url.Values, year, month int) (MonthParams, error) {
	params := MonthParams{Year: year, Month: month}
	var err error
	if params.Year, err = intParam(query, "year", year); err != nil {
		return MonthParams{}, err
	}
	if params.Month, err = intParam(query, "month", month); err != nil {
		return MonthParams{}, err
	}
	return params, nil
}

func intParam(query url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(query.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be a number", errBadParam, key)
	}
	return n, nil
}

// settingBody is accepted either as JSON ({"value": "..."}) or as a
// form-encoded value field.
type settingBody struct {
	Value *string `json:"value"`
}

// ParseSettingValue reads the new value of a setting from the body.
func ParseSettingValue(r *http.Request) (string, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}
	trimmed := strings.TrimSpace(string(body))
	if strings.HasPrefix(trimmed, "{") {
		var sb settingBody
		if err := json.Unmarshal(body, &sb); err != nil {
			return "", fmt.Errorf("%w: %w", errBadParam, err)
		}
		if sb.Value == nil {
			return "", fmt.Errorf("%w: value is required", errBadParam)
		}
		return sanitizeInput(*sb.Value), nil
	}
	form, err := url.ParseQuery(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errBadParam, err)
	}
	if !form.Has("value") {
		return "", fmt.Errorf("%w: value is required", errBadParam)
	}
	return sanitizeInput(form.Get("value")), nil
}

// sanitizeInput drops control characters and trims whitespace.
func sanitizeInput(s string) string {
	return strings.TrimSpace(strings.Map(func(r rune) rune {
		if r < 32 && r != '\t' {
			return -1
		}
		return r
	}, s))
}
