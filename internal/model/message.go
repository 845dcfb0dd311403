package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage marks a payload that can never be processed.
var ErrMalformedMessage = errors.New("malformed derivation message")

// DerivationMessage asks the consumer to derive a FullName.
// NameEntryID is informational only.
type DerivationMessage struct {
	LastName    string `json:"lastName"`
	FirstName   string `json:"firstName"`
	NameEntryID string `json:"nameEntryId"`
}

// NewDerivationMessage builds the message for a stored entry.
func NewDerivationMessage(e *NameEntry) DerivationMessage {
	return DerivationMessage{LastName: e.LastName, FirstName: e.FirstName, NameEntryID: e.ID}
}

// FullName concatenates last and first name without separator or normalization.
func (m DerivationMessage) FullName() string {
	return m.LastName + m.FirstName
}

func (m DerivationMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeDerivationMessage parses a wire payload. Empty names and anything
// that is not a single JSON object are ErrMalformedMessage; unknown fields
// and a missing nameEntryId are tolerated.
func DecodeDerivationMessage(data []byte) (DerivationMessage, error) {
	var m DerivationMessage
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&m); err != nil {
		return DerivationMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if dec.More() {
		return DerivationMessage{}, fmt.Errorf("%w: trailing data", ErrMalformedMessage)
	}
	switch {
	case m.LastName == "":
		return DerivationMessage{}, fmt.Errorf("%w: lastName is empty", ErrMalformedMessage)
	case m.FirstName == "":
		return DerivationMessage{}, fmt.Errorf("%w: firstName is empty", ErrMalformedMessage)
	}
	return m, nil
}
