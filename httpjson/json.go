// Package httpjson is a small toolkit for JSON HTTP handlers.
package httpjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

type Response struct {
	Status int
	Body   any
}

// M is a helper type to create a map[string]any
type M map[string]any

// Handler returns the response to write instead of writing it itself.
type Handler func(w http.ResponseWriter, r *http.Request) *Response

func (h Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := (h)(w, r)
	if resp == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	Write(w, resp.Status, resp.Body)
}

func Write(w http.ResponseWriter, statusCode int, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = enc.Encode(v)
}

// maxBody bounds request bodies.
const maxBody = 1 << 20

// Read decodes the request body into v. An empty body leaves v untouched.
// Unknown fields are rejected so typos in overrides do not pass silently.
func Read(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}

// OK wraps body in a 200 response.
func OK(body any) *Response {
	return &Response{Status: http.StatusOK, Body: body}
}
