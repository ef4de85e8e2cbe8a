// Package api provides the HTTP client, search layer and types for the FHIR
// collection endpoints the vitals CLI reads from.
package api

import (
	"context"
	"encoding/json"
	"fmt"
)

// Entry is one flattened record of a search envelope.
type Entry struct {
	Title   string          `json:"title"`
	Updated string          `json:"updated"`
	Content json.RawMessage `json:"content"`
}

// Envelope is the raw search response. Entries is a pointer so that an
// absent "entry" field can be told apart from an empty one.
type Envelope struct {
	TotalResults int      `json:"totalResults"`
	Entries      *[]Entry `json:"entry,omitempty"`
}

// Identifier is one element of a Patient's identifier list.
type Identifier struct {
	Label string          `json:"label"`
	Value json.RawMessage `json:"value"`
}

// PatientContent is the subset of a Patient resource the CLI reads.
type PatientContent struct {
	Identifier []Identifier `json:"identifier"`
}

// Coding names what an observation measured.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code"`
	Display string `json:"display"`
}

// Quantity is a measured value with its unit.
type Quantity struct {
	Value  float64 `json:"value"`
	Units  string  `json:"units,omitempty"`
	System string  `json:"system,omitempty"`
	Code   string  `json:"code,omitempty"`
}

// ObservationContent is the subset of an Observation resource the CLI reads.
type ObservationContent struct {
	AppliesDateTime string `json:"appliesDateTime"`
	Name            struct {
		Coding []Coding `json:"coding"`
	} `json:"name"`
	ValueQuantity *Quantity `json:"valueQuantity,omitempty"`
}

// Vital is one retained observation: when it applies, what it measured and
// the measured quantity.
//
// On the wire (and in the cache) a Vital is the array
// [appliesDateTime, coding, valueQuantity].
type Vital struct {
	Applies  string
	Coding   Coding
	Quantity Quantity
}

// MarshalJSON encodes the vital as a three element array.
func (v Vital) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{v.Applies, v.Coding, v.Quantity})
}

// UnmarshalJSON decodes the three element array written by MarshalJSON.
func (v *Vital) UnmarshalJSON(data []byte) error {
	var parts []json.RawMessage
	if err := json.Unmarshal(data, &parts); err != nil {
		return err
	}
	if len(parts) != 3 {
		return fmt.Errorf("vital: expected 3 elements, got %d", len(parts))
	}
	if err := json.Unmarshal(parts[0], &v.Applies); err != nil {
		return fmt.Errorf("vital: date: %w", err)
	}
	if err := json.Unmarshal(parts[1], &v.Coding); err != nil {
		return fmt.Errorf("vital: coding: %w", err)
	}
	if err := json.Unmarshal(parts[2], &v.Quantity); err != nil {
		return fmt.Errorf("vital: quantity: %w", err)
	}
	return nil
}

// Transport is the interface for making API requests. It returns the raw
// response body.
type Transport interface {
	Request(ctx context.Context, endpoint string, params map[string]string) ([]byte, error)
}
