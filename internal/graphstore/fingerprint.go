package graphstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/cyberphone/json-canonicalization/go/src/webpki.org/jsoncanonicalizer"
)

// Canonicalize marshals v and returns its RFC 8785 canonical form.
func Canonicalize(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: marshal: %w", err)
	}
	return CanonicalizeRaw(raw)
}

// CanonicalizeRaw returns the RFC 8785 canonical form of raw JSON.
func CanonicalizeRaw(raw json.RawMessage) ([]byte, error) {
	out, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: transform: %w", err)
	}
	return out, nil
}

// Fingerprint returns the hex SHA-256 of canonical JSON.
func Fingerprint(canonical []byte) string {
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// prepared is a document ready to write: canonical body, fingerprint and
// the extracted deleted flag.
type prepared struct {
	Document
	fingerprint string
	deleted     bool
}

// prepare validates and canonicalizes a document.
func prepare(collection string, doc Document) (prepared, error) {
	if collection == "" {
		return prepared{}, fmt.Errorf("%w: empty collection", ErrInvalidInput)
	}
	if doc.Key == "" {
		return prepared{}, fmt.Errorf("%w: empty _key in %s", ErrInvalidInput, collection)
	}
	trimmed := bytes.TrimSpace(doc.Data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return prepared{}, fmt.Errorf("%w: %s/%s body is not a JSON object", ErrInvalidInput, collection, doc.Key)
	}
	canonical, err := CanonicalizeRaw(trimmed)
	if err != nil {
		return prepared{}, fmt.Errorf("%w: %s/%s: %v", ErrInvalidInput, collection, doc.Key, err)
	}
	var flags struct {
		Deleted bool `json:"deleted"`
	}
	_ = json.Unmarshal(canonical, &flags)

	doc.Data = canonical
	return prepared{Document: doc, fingerprint: Fingerprint(canonical), deleted: flags.Deleted}, nil
}

// keepDeleted rewrites p so its body carries "deleted": true. Stores call
// it when the stored copy is already deleted and p would clear the flag.
func keepDeleted(p prepared) (prepared, error) {
	var body map[string]json.RawMessage
	if err := json.Unmarshal(p.Data, &body); err != nil {
		return p, fmt.Errorf("keep deleted flag: %w", err)
	}
	body["deleted"] = json.RawMessage("true")
	canonical, err := Canonicalize(body)
	if err != nil {
		return p, fmt.Errorf("keep deleted flag: %w", err)
	}
	p.Data = canonical
	p.fingerprint = Fingerprint(canonical)
	p.deleted = true
	return p, nil
}

// resolve decides how an incoming document relates to the stored copy.
// It returns the document to write and whether the write changes anything.
func resolve(p prepared, existing bool, storedFingerprint string, storedDeleted bool) (prepared, bool, error) {
	if existing && storedDeleted && !p.deleted {
		var err error
		if p, err = keepDeleted(p); err != nil {
			return p, false, err
		}
	}
	if existing && p.fingerprint == storedFingerprint {
		return p, false, nil
	}
	return p, true, nil
}

// docFromJSON extracts _key, _from and _to from a raw document body.
func docFromJSON(raw []byte) (Document, error) {
	var head struct {
		Key  string `json:"_key"`
		From string `json:"_from"`
		To   string `json:"_to"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return Document{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	data := make([]byte, len(raw))
	copy(data, raw)
	return Document{Key: head.Key, From: head.From, To: head.To, Data: data}, nil
}
