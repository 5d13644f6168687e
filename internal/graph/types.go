package graph

import (
	"encoding/json"

	"github.com/roach88/wsgraph/internal/keys"
)

// Vertex collections.
const (
	CollWorkspace     = "wsfull_workspace"
	CollObject        = "wsfull_object"
	CollObjectVersion = "wsfull_object_version"
	CollObjectHash    = "wsfull_object_hash"
	CollMethodVersion = "wsfull_method_version"
	CollUser          = "wsfull_user"
)

// Edge collections.
const (
	CollCopiedFrom           = "wsfull_copied_from"
	CollVersionOf            = "wsfull_version_of"
	CollWsContainsObj        = "wsfull_ws_contains_obj"
	CollObjCreatedWithMethod = "wsfull_obj_created_with_method"
	CollRefersTo             = "wsfull_refers_to"
	CollProvDescendantOf     = "wsfull_prov_descendant_of"
	CollWsPerm               = "wsfull_ws_perm"
	CollObjHashed            = "wsfull_obj_hashed"
)

// HashTypeMD5 is the checksum algorithm the workspace uses.
const HashTypeMD5 = "MD5"

// Collections lists every collection the builder writes to.
var Collections = []string{
	CollWorkspace, CollObject, CollObjectVersion, CollObjectHash, CollMethodVersion, CollUser,
	CollCopiedFrom, CollVersionOf, CollWsContainsObj, CollObjCreatedWithMethod,
	CollRefersTo, CollProvDescendantOf, CollWsPerm, CollObjHashed,
}

// Document is one vertex or edge destined for a collection.
type Document struct {
	Collection string
	Key        string
	// From and To are set for edges only.
	From string
	To   string
	Body any
}

// IsEdge reports whether the document is an edge.
func (d Document) IsEdge() bool {
	return d.From != ""
}

// Handle returns the "collection/key" document handle used by edges.
func Handle(collection, key string) string {
	return collection + "/" + key
}

// Workspace is a wsfull_workspace vertex.
type Workspace struct {
	Key           string `json:"_key"`
	WorkspaceID   int64  `json:"workspace_id"`
	Name          string `json:"name"`
	NarrativeName string `json:"narr_name"`
	Owner         string `json:"owner"`
	ModEpoch      int64  `json:"mod_epoch"`
	MaxObjectID   int64  `json:"max_obj_id"`
	IsPublic      bool   `json:"is_public"`
	LockStatus    string `json:"lock_status"`
}

// Object is a wsfull_object vertex.
type Object struct {
	Key         string `json:"_key"`
	WorkspaceID int64  `json:"workspace_id"`
	ObjectID    int64  `json:"object_id"`
	Deleted     bool   `json:"deleted"`
}

// ObjectVersion is a wsfull_object_version vertex.
type ObjectVersion struct {
	Key         string `json:"_key"`
	WorkspaceID int64  `json:"workspace_id"`
	ObjectID    int64  `json:"object_id"`
	Version     int64  `json:"version"`
	Name        string `json:"name"`
	Hash        string `json:"hash"`
	Size        int64  `json:"size"`
	Epoch       int64  `json:"epoch"`
	Deleted     bool   `json:"deleted"`
	IsPublic    bool   `json:"is_public"`
	ObjType     string `json:"ws_type"`
	SavedBy     string `json:"saved_by"`
	Owner       string `json:"owner"`
}

// ObjectHash is a wsfull_object_hash vertex.
type ObjectHash struct {
	Key  string `json:"_key"`
	Type string `json:"type"`
}

// MethodVersion is a wsfull_method_version vertex.
type MethodVersion struct {
	Key        string `json:"_key"`
	ModuleName string `json:"module_name"`
	MethodName string `json:"method_name"`
	Commit     string `json:"commit"`
	CodeURL    string `json:"code_url"`
	ModuleVer  string `json:"module_ver"`
}

// User is a wsfull_user vertex.
type User struct {
	Key      string `json:"_key"`
	Username string `json:"username"`
}

// Edge is the body of every edge document. Optional attributes are omitted
// on collections that do not carry them.
type Edge struct {
	Key          string          `json:"_key"`
	From         string          `json:"_from"`
	To           string          `json:"_to"`
	WorkspaceID  int64           `json:"workspace_id,omitempty"`
	MethodParams json.RawMessage `json:"method_params,omitempty"`
	MethodKey    string          `json:"method_version,omitempty"`
	Perm         string          `json:"perm,omitempty"`
}

func vertex(collection, key string, body any) Document {
	return Document{Collection: collection, Key: key, Body: body}
}

// edge builds an edge document between two handles. Extra attributes are
// applied by fn before the document is sealed.
func edge(collection, from, to string, fn func(*Edge)) Document {
	e := &Edge{Key: keys.Edge(collection, from, to), From: from, To: to}
	if fn != nil {
		fn(e)
	}
	return Document{Collection: collection, Key: e.Key, From: from, To: to, Body: e}
}
