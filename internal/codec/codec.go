// Package codec serializes reference metadata to and from its stored
// JSON representation. Encoding is deterministic (stable key order,
// two-space indent) so repeated exports of an unchanged store are
// byte-identical, and unknown fields survive a decode→encode cycle so
// records written by newer versions are not silently stripped.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/nken-eccs/gitrefer/internal/apperr"
	"github.com/nken-eccs/gitrefer/internal/models"
)

// knownKeys are the JSON keys owned by the current Metadata schema.
// Anything else in a stored record is carried through Extra.
var knownKeys = map[string]bool{
	"type": true, "title": true, "authors": true, "year": true,
	"month": true, "venue": true, "volume": true, "issue": true,
	"firstpage": true, "lastpage": true, "publisher": true,
	"doi": true, "url": true, "abstract": true, "keywords": true,
	"note": true, "provenance": true, "tags": true, "files": true,
	"created_at": true, "updated_at": true,
}

// Encode renders meta as the stored representation. The record is
// validated first; a malformed record never reaches the remote tree.
func Encode(meta *models.Metadata) ([]byte, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	structured, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("codec: encode metadata: %w", err)
	}
	merged := make(map[string]json.RawMessage)
	if err := json.Unmarshal(structured, &merged); err != nil {
		return nil, fmt.Errorf("codec: encode metadata: %w", err)
	}
	for key, value := range meta.Extra {
		if !knownKeys[key] {
			merged[key] = value
		}
	}
	// encoding/json sorts map keys, which makes the output stable.
	out, err := json.MarshalIndent(merged, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("codec: encode metadata: %w", err)
	}
	return append(out, '\n'), nil
}

// Decode parses a stored record. Keys outside the known schema are
// preserved in Extra rather than dropped.
func Decode(data []byte) (models.Metadata, error) {
	var meta models.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return models.Metadata{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return models.Metadata{}, fmt.Errorf("%w: %v", apperr.ErrValidation, err)
	}
	for key, value := range raw {
		if knownKeys[key] {
			continue
		}
		if meta.Extra == nil {
			meta.Extra = make(map[string]json.RawMessage)
		}
		meta.Extra[key] = value
	}
	return meta, nil
}
