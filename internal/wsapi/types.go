package wsapi

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/roach88/wsgraph/internal/keys"
)

// TimestampLayout is the workspace's save-date format, e.g.
// "2019-04-04T20:16:39+0000".
const TimestampLayout = "2006-01-02T15:04:05-0700"

// EpochMillis converts a workspace timestamp to milliseconds since the Unix
// epoch. Empty or unparseable timestamps map to 0.
func EpochMillis(ts string) int64 {
	if ts == "" {
		return 0
	}
	t, err := time.Parse(TimestampLayout, ts)
	if err != nil {
		return 0
	}
	return t.UnixMilli()
}

// ContainerInfo is a decoded workspace_info tuple:
//
//	[id, name, owner, moddate, max_objid, user_perm, globalread, lockstat, metadata]
type ContainerInfo struct {
	ID            int64             `json:"id"`
	Name          string            `json:"name"`
	Owner         string            `json:"owner"`
	ModDate       string            `json:"mod_date"`
	MaxObjectID   int64             `json:"max_object_id"`
	UserPerm      string            `json:"user_perm"`
	IsPublic      bool              `json:"is_public"`
	LockStatus    string            `json:"lock_status"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	NarrativeName string            `json:"narrative_name,omitempty"`
}

// ModEpoch returns the modification date in epoch milliseconds.
func (c ContainerInfo) ModEpoch() int64 {
	return EpochMillis(c.ModDate)
}

// UnmarshalJSON decodes the positional tuple.
func (c *ContainerInfo) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("decode workspace info: %w", err)
	}
	if len(tuple) < 8 {
		return fmt.Errorf("decode workspace info: want at least 8 fields, got %d", len(tuple))
	}
	var (
		out        ContainerInfo
		globalRead string
	)
	fields := []struct {
		idx int
		dst any
	}{
		{0, &out.ID},
		{1, &out.Name},
		{2, &out.Owner},
		{3, &out.ModDate},
		{4, &out.MaxObjectID},
		{5, &out.UserPerm},
		{6, &globalRead},
		{7, &out.LockStatus},
	}
	for _, f := range fields {
		if err := decodeField(tuple[f.idx], f.dst); err != nil {
			return fmt.Errorf("decode workspace info field %d: %w", f.idx, err)
		}
	}
	if len(tuple) > 8 {
		if err := decodeField(tuple[8], &out.Metadata); err != nil {
			return fmt.Errorf("decode workspace info metadata: %w", err)
		}
	}
	out.IsPublic = globalRead == "r"
	out.NarrativeName = out.Metadata["narrative_nice_name"]
	*c = out
	return nil
}

// ObjectInfo is a decoded object_info tuple:
//
//	[objid, name, type, save_date, version, saved_by, wsid, wsname, chsum, size, meta]
type ObjectInfo struct {
	ObjectID      int64             `json:"object_id"`
	Name          string            `json:"name"`
	Type          string            `json:"type"`
	SaveDate      string            `json:"save_date"`
	Version       int64             `json:"version"`
	SavedBy       string            `json:"saved_by"`
	WorkspaceID   int64             `json:"workspace_id"`
	WorkspaceName string            `json:"workspace_name"`
	Checksum      string            `json:"checksum"`
	Size          int64             `json:"size"`
	Meta          map[string]string `json:"meta,omitempty"`
}

// Ref returns the version's identity triple.
func (o ObjectInfo) Ref() keys.Ref {
	return keys.Ref{WorkspaceID: o.WorkspaceID, ObjectID: o.ObjectID, Version: o.Version}
}

// UPA renders the version as "wsid/objid/ver".
func (o ObjectInfo) UPA() string {
	return o.Ref().UPA()
}

// Epoch returns the save date in epoch milliseconds.
func (o ObjectInfo) Epoch() int64 {
	return EpochMillis(o.SaveDate)
}

// UnmarshalJSON decodes the positional tuple.
func (o *ObjectInfo) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return fmt.Errorf("decode object info: %w", err)
	}
	if len(tuple) < 10 {
		return fmt.Errorf("decode object info: want at least 10 fields, got %d", len(tuple))
	}
	var out ObjectInfo
	fields := []struct {
		idx int
		dst any
	}{
		{0, &out.ObjectID},
		{1, &out.Name},
		{2, &out.Type},
		{3, &out.SaveDate},
		{4, &out.Version},
		{5, &out.SavedBy},
		{6, &out.WorkspaceID},
		{7, &out.WorkspaceName},
		{8, &out.Checksum},
		{9, &out.Size},
	}
	for _, f := range fields {
		if err := decodeField(tuple[f.idx], f.dst); err != nil {
			return fmt.Errorf("decode object info field %d: %w", f.idx, err)
		}
	}
	if len(tuple) > 10 {
		if err := decodeField(tuple[10], &out.Meta); err != nil {
			return fmt.Errorf("decode object info meta: %w", err)
		}
	}
	*o = out
	return nil
}

// MarshalJSON writes the positional tuple back out, so fixtures and fakes
// can speak the wire format.
func (o ObjectInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		o.ObjectID, o.Name, o.Type, o.SaveDate, o.Version, o.SavedBy,
		o.WorkspaceID, o.WorkspaceName, o.Checksum, o.Size, o.Meta,
	})
}

// MarshalJSON writes the positional tuple back out.
func (c ContainerInfo) MarshalJSON() ([]byte, error) {
	globalRead := "n"
	if c.IsPublic {
		globalRead = "r"
	}
	meta := c.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	return json.Marshal([]any{
		c.ID, c.Name, c.Owner, c.ModDate, c.MaxObjectID, c.UserPerm,
		globalRead, c.LockStatus, meta,
	})
}

// decodeField decodes one tuple slot. JSON null leaves dst untouched.
func decodeField(raw json.RawMessage, dst any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, dst)
}

// Subaction is a sub-step of a provenance action, usually a module call
// with a pinned commit.
type Subaction struct {
	Name    string `json:"name,omitempty"`
	Ver     string `json:"ver,omitempty"`
	CodeURL string `json:"code_url,omitempty"`
	Commit  string `json:"commit,omitempty"`
}

// ProvenanceAction records the method invocation that produced a version.
type ProvenanceAction struct {
	Service           string          `json:"service,omitempty"`
	ServiceVer        string          `json:"service_ver,omitempty"`
	Method            string          `json:"method,omitempty"`
	MethodParams      json.RawMessage `json:"method_params,omitempty"`
	InputWSObjects    []string        `json:"input_ws_objects,omitempty"`
	ResolvedWSObjects []string        `json:"resolved_ws_objects,omitempty"`
	Subactions        []Subaction     `json:"subactions,omitempty"`
}

// Commit returns the first sub-action's commit, or "".
func (p ProvenanceAction) Commit() string {
	if len(p.Subactions) == 0 {
		return ""
	}
	return p.Subactions[0].Commit
}

// CodeURL returns the first sub-action's code URL, or "".
func (p ProvenanceAction) CodeURL() string {
	if len(p.Subactions) == 0 {
		return ""
	}
	return p.Subactions[0].CodeURL
}

// Flag decodes the workspace's boolean-as-integer fields. It accepts true,
// false, 0, 1 and their string forms.
type Flag bool

// UnmarshalJSON implements json.Unmarshaler.
func (f *Flag) UnmarshalJSON(data []byte) error {
	s := string(data)
	if s == "null" {
		*f = false
		return nil
	}
	if uq, err := strconv.Unquote(s); err == nil {
		s = uq
	}
	switch s {
	case "true", "1":
		*f = true
	case "false", "0", "":
		*f = false
	default:
		return fmt.Errorf("invalid flag value %q", string(data))
	}
	return nil
}

// ObjectDetail is one element of a getObjects response fetched without data.
type ObjectDetail struct {
	Info                   ObjectInfo         `json:"info"`
	Provenance             []ProvenanceAction `json:"provenance"`
	Refs                   []string           `json:"refs"`
	Copied                 string             `json:"copied,omitempty"`
	CopySourceInaccessible Flag               `json:"copy_source_inaccessible,omitempty"`
	Creator                string             `json:"creator,omitempty"`
	Created                string             `json:"created,omitempty"`
}

// HasIdentity reports whether the mandatory identity fields are present.
func (d ObjectDetail) HasIdentity() bool {
	return d.Info.WorkspaceID > 0 && d.Info.ObjectID > 0 && d.Info.Version > 0
}

// ListObjectsParams selects one page of a container listing.
type ListObjectsParams struct {
	WorkspaceID     int64
	MinObjectID     int64
	MaxObjectID     int64
	ShowDeleted     bool
	ShowOnlyDeleted bool
	ShowHidden      bool
	ShowAllVersions bool
	Limit           int
}
