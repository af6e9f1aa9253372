// Package model contains domain models passed between layers.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Op names the change a Mutation applies to a member.
type Op string

const (
	OpUpsert    Op = "upsert"
	OpIncrement Op = "increment"
	OpRemove    Op = "remove"
)

// ErrInvalidMutation is returned by Validate.
var ErrInvalidMutation = errors.New("invalid mutation")

// Mutation is one queued or journaled change to a board. ID is the
// idempotency key and may be empty. An empty Board means the default board.
// Value is the score for upserts and the delta for increments.
type Mutation struct {
	ID     string
	Board  string
	Member string
	Op     Op
	Value  float64
	TS     time.Time
}

// wireMutation is the JSON form of Mutation. Finite values are numbers;
// infinities are the strings "+Inf" and "-Inf".
type wireMutation struct {
	ID     string          `json:"id"`
	Board  string          `json:"board,omitempty"`
	Member string          `json:"member"`
	Op     Op              `json:"op"`
	Value  json.RawMessage `json:"value,omitempty"`
	TS     time.Time       `json:"ts"`
}

// MarshalJSON implements json.Marshaler.
func (m Mutation) MarshalJSON() ([]byte, error) { //nolint:gocritic // hugeParam
	w := wireMutation{ID: m.ID, Board: m.Board, Member: m.Member, Op: m.Op, TS: m.TS}
	switch {
	case math.IsNaN(m.Value):
		return nil, fmt.Errorf("%w: value is NaN", ErrInvalidMutation)
	case math.IsInf(m.Value, 1):
		w.Value = json.RawMessage(`"+Inf"`)
	case math.IsInf(m.Value, -1):
		w.Value = json.RawMessage(`"-Inf"`)
	case m.Value != 0:
		w.Value = strconv.AppendFloat(nil, m.Value, 'g', -1, 64)
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Mutation) UnmarshalJSON(data []byte) error {
	var w wireMutation
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Mutation{ID: w.ID, Board: w.Board, Member: w.Member, Op: w.Op, TS: w.TS}
	if len(w.Value) == 0 || string(w.Value) == "null" {
		return nil
	}
	if w.Value[0] != '"' {
		return json.Unmarshal(w.Value, &m.Value)
	}
	var raw string
	if err := json.Unmarshal(w.Value, &raw); err != nil {
		return err
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || !math.IsInf(v, 0) {
		return fmt.Errorf("%w: value %q", ErrInvalidMutation, raw)
	}
	m.Value = v
	return nil
}

// Validate checks the fields every Op needs. Board names are checked by the
// service, which knows the default board.
func (m Mutation) Validate() error {
	if m.Member == "" {
		return fmt.Errorf("%w: member is required", ErrInvalidMutation)
	}
	switch m.Op {
	case OpUpsert, OpIncrement:
		if math.IsNaN(m.Value) {
			return fmt.Errorf("%w: value is NaN", ErrInvalidMutation)
		}
	case OpRemove:
	default:
		return fmt.Errorf("%w: unknown op %q", ErrInvalidMutation, m.Op)
	}
	return nil
}
