package search

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
)

// cursorVersion discriminates the encoded cursor format. Tokens carrying a
// different version are rejected so the shape can evolve without silently
// misreading tokens already issued to clients.
const cursorVersion = 1

// CursorState is the decoded keyset-pagination position: the sort value and
// tie-break id of the last row of the previous page, plus the direction the
// page was walked in. Callers treat the encoded form as opaque.
type CursorState struct {
	Version   int         `json:"v"`
	SortValue FilterValue `json:"s"`
	TieBreak  string      `json:"t"`
	Desc      bool        `json:"d"`
}

// EncodeCursor serializes a cursor state into an opaque token.
func EncodeCursor(state CursorState) (string, error) {
	state.Version = cursorVersion
	raw, err := json.Marshal(state)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeCursor parses and structurally validates an opaque cursor token.
// Any malformation yields an InvalidCursor validation error rather than a
// silently defaulted position.
func DecodeCursor(token string) (*CursorState, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, newValidationError(ErrInvalidCursor, "cursor is not valid base64")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var state CursorState
	if err := dec.Decode(&state); err != nil {
		return nil, newValidationError(ErrInvalidCursor, "cursor payload is malformed")
	}
	if dec.More() {
		return nil, newValidationError(ErrInvalidCursor, "cursor payload has trailing data")
	}

	if state.Version != cursorVersion {
		return nil, newValidationError(ErrInvalidCursor,
			"unsupported cursor version %d", state.Version)
	}
	if state.TieBreak == "" {
		return nil, newValidationError(ErrInvalidCursor, "cursor is missing tie-break id")
	}
	switch state.SortValue.Kind {
	case KindString, KindInt, KindFloat:
	default:
		return nil, newValidationError(ErrInvalidCursor,
			"cursor sort value has unsupported kind %q", state.SortValue.Kind)
	}

	return &state, nil
}
