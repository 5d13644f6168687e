package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Delimiter separates key components.
const Delimiter = ":"

// UnknownCommit fills the commit position of a method version key when the
// provenance carries neither a sub-action commit nor a service version.
const UnknownCommit = "UNKNOWN"

// DomainEdge is the hash domain for edge keys. The version suffix leaves
// room for a future algorithm change.
const DomainEdge = "wsgraph/edge/v1"

// ErrMalformedRef is returned for references that are not wsid/objid/ver.
var ErrMalformedRef = errors.New("malformed object reference")

// Container returns the key of a workspace vertex.
func Container(wsid int64) string {
	return strconv.FormatInt(wsid, 10)
}

// Object returns the key of an unversioned object vertex.
func Object(wsid, objid int64) string {
	return Container(wsid) + Delimiter + strconv.FormatInt(objid, 10)
}

// ObjectVersion returns the key of one saved version of an object.
func ObjectVersion(wsid, objid, ver int64) string {
	return Object(wsid, objid) + Delimiter + strconv.FormatInt(ver, 10)
}

// MethodVersion returns the key of the code that produced a version.
// Empty parts are replaced with UnknownCommit.
func MethodVersion(module, commitOrVersion, method string) string {
	return orUnknown(module) + Delimiter + orUnknown(commitOrVersion) + Delimiter + orUnknown(method)
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownCommit
	}
	return Normalize(s)
}

// User returns the key of a user vertex.
func User(username string) string {
	return Normalize(username)
}

// Normalize puts a free-form string key part into NFC so visually identical
// names from different clients map to the same key.
func Normalize(s string) string {
	return norm.NFC.String(s)
}

// Ref is a parsed wsid/objid/ver triple.
type Ref struct {
	WorkspaceID int64
	ObjectID    int64
	Version     int64
}

// Key returns the object version key of the reference.
func (r Ref) Key() string {
	return ObjectVersion(r.WorkspaceID, r.ObjectID, r.Version)
}

// UPA renders the reference in workspace slash form.
func (r Ref) UPA() string {
	return fmt.Sprintf("%d/%d/%d", r.WorkspaceID, r.ObjectID, r.Version)
}

// ParseUPA parses a workspace reference of the form "wsid/objid/ver".
// All three parts must be positive integers.
func ParseUPA(upa string) (Ref, error) {
	return parseTriple(upa, "/")
}

// Parse splits an object version key back into its components.
func Parse(key string) (Ref, error) {
	return parseTriple(key, Delimiter)
}

// FromUPA converts "1/2/3" into "1:2:3".
func FromUPA(upa string) (string, error) {
	ref, err := ParseUPA(upa)
	if err != nil {
		return "", err
	}
	return ref.Key(), nil
}

func parseTriple(s, sep string) (Ref, error) {
	parts := strings.Split(strings.TrimSpace(s), sep)
	if len(parts) != 3 {
		return Ref{}, fmt.Errorf("%w: %q", ErrMalformedRef, s)
	}
	var ids [3]int64
	for i, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n <= 0 {
			return Ref{}, fmt.Errorf("%w: %q", ErrMalformedRef, s)
		}
		ids[i] = n
	}
	return Ref{WorkspaceID: ids[0], ObjectID: ids[1], Version: ids[2]}, nil
}

// Edge computes the key of an edge document. The same collection and
// endpoints always produce the same key.
func Edge(collection, from, to string) string {
	data := make([]byte, 0, len(collection)+len(from)+len(to)+2)
	data = append(data, collection...)
	data = append(data, 0x00)
	data = append(data, from...)
	data = append(data, 0x00)
	data = append(data, to...)
	return hashWithDomain(DomainEdge, data)
}

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}
