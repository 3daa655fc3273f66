package files

import "errors"

// ErrNotFound is returned when a record or its blob does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateID is returned when a record id is already in use or was used before
var ErrDuplicateID = errors.New("duplicate id")

// ErrInvalidParameter is returned for missing fields, bad pagination values,
// disallowed MIME types and oversized uploads
var ErrInvalidParameter = errors.New("invalid parameter")

// ErrMalformedPayload is returned when an optional JSON field cannot be parsed
var ErrMalformedPayload = errors.New("malformed payload")

// ErrStorage is returned when the blob store fails to read, write or delete
var ErrStorage = errors.New("storage error")
