package graph

import (
	"sort"

	"github.com/roach88/wsgraph/internal/keys"
	"github.com/roach88/wsgraph/internal/report"
	"github.com/roach88/wsgraph/internal/wsapi"
)

// Result is the output of a build. Issues lists records or references that
// were dropped; everything else in the input produced documents.
type Result struct {
	Documents []Document
	Issues    []*report.SyncError
}

// Len returns the number of documents built.
func (r Result) Len() int {
	return len(r.Documents)
}

func (r *Result) add(docs ...Document) {
	r.Documents = append(r.Documents, docs...)
}

func (r *Result) issue(err *report.SyncError) {
	r.Issues = append(r.Issues, err)
}

// Merge appends other's documents and issues.
func (r *Result) Merge(other Result) {
	r.Documents = append(r.Documents, other.Documents...)
	r.Issues = append(r.Issues, other.Issues...)
}

// BuildContainer returns the workspace vertex and its owner's user vertex.
func BuildContainer(info wsapi.ContainerInfo) []Document {
	wsKey := keys.Container(info.ID)
	docs := []Document{
		vertex(CollWorkspace, wsKey, &Workspace{
			Key:           wsKey,
			WorkspaceID:   info.ID,
			Name:          info.Name,
			NarrativeName: info.NarrativeName,
			Owner:         info.Owner,
			ModEpoch:      info.ModEpoch(),
			MaxObjectID:   info.MaxObjectID,
			IsPublic:      info.IsPublic,
			LockStatus:    info.LockStatus,
		}),
	}
	if info.Owner != "" {
		docs = append(docs, userVertex(info.Owner))
	}
	return docs
}

// BuildPermissions returns a user vertex and a wsfull_ws_perm edge
// (user -> workspace) for every entry in perms, ordered by username.
func BuildPermissions(wsid int64, perms map[string]string) []Document {
	users := make([]string, 0, len(perms))
	for u := range perms {
		if u == "" || u == "*" {
			continue
		}
		users = append(users, u)
	}
	sort.Strings(users)

	wsHandle := Handle(CollWorkspace, keys.Container(wsid))
	docs := make([]Document, 0, 2*len(users))
	for _, u := range users {
		perm := perms[u]
		docs = append(docs,
			userVertex(u),
			edge(CollWsPerm, Handle(CollUser, keys.User(u)), wsHandle, func(e *Edge) {
				e.WorkspaceID = wsid
				e.Perm = perm
			}),
		)
	}
	return docs
}

func userVertex(username string) Document {
	key := keys.User(username)
	return vertex(CollUser, key, &User{Key: key, Username: username})
}

// BuildObjects returns every vertex and edge describing the given object
// versions. A detail missing its workspace, object or version id is dropped
// and reported. Malformed copy, reference or input UPAs skip only that edge.
func BuildObjects(container wsapi.ContainerInfo, details []wsapi.ObjectDetail) Result {
	var res Result
	seenHash := make(map[string]bool)
	for _, d := range details {
		if !d.HasIdentity() {
			res.issue(report.Malformed(report.StageBuild, container.ID,
				"object detail missing identity (ws=%d obj=%d ver=%d name=%q)",
				d.Info.WorkspaceID, d.Info.ObjectID, d.Info.Version, d.Info.Name))
			continue
		}
		buildVersion(&res, container, d.Info, false, seenHash)
		buildEdges(&res, d)
	}
	return res
}

// BuildDeleted returns documents for deleted versions from their listing
// info alone. Provenance of deleted objects cannot be fetched, so only the
// structural vertices and edges are produced, all marked deleted.
func BuildDeleted(container wsapi.ContainerInfo, infos []wsapi.ObjectInfo) Result {
	var res Result
	seenHash := make(map[string]bool)
	for _, info := range infos {
		if info.WorkspaceID <= 0 || info.ObjectID <= 0 || info.Version <= 0 {
			res.issue(report.Malformed(report.StageBuild, container.ID,
				"deleted object info missing identity (ws=%d obj=%d ver=%d)",
				info.WorkspaceID, info.ObjectID, info.Version))
			continue
		}
		buildVersion(&res, container, info, true, seenHash)
	}
	return res
}

// buildVersion emits the object, version, saver and hash vertices plus the
// structural version_of, ws_contains_obj and obj_hashed edges.
func buildVersion(res *Result, container wsapi.ContainerInfo, info wsapi.ObjectInfo, deleted bool, seenHash map[string]bool) {
	wsKey := keys.Container(info.WorkspaceID)
	objKey := keys.Object(info.WorkspaceID, info.ObjectID)
	verKey := keys.ObjectVersion(info.WorkspaceID, info.ObjectID, info.Version)
	objHandle := Handle(CollObject, objKey)
	verHandle := Handle(CollObjectVersion, verKey)

	res.add(
		vertex(CollObject, objKey, &Object{
			Key:         objKey,
			WorkspaceID: info.WorkspaceID,
			ObjectID:    info.ObjectID,
			Deleted:     deleted,
		}),
		vertex(CollObjectVersion, verKey, &ObjectVersion{
			Key:         verKey,
			WorkspaceID: info.WorkspaceID,
			ObjectID:    info.ObjectID,
			Version:     info.Version,
			Name:        info.Name,
			Hash:        info.Checksum,
			Size:        info.Size,
			Epoch:       info.Epoch(),
			Deleted:     deleted,
			IsPublic:    container.IsPublic,
			ObjType:     info.Type,
			SavedBy:     info.SavedBy,
			Owner:       container.Owner,
		}),
		edge(CollVersionOf, verHandle, objHandle, nil),
		edge(CollWsContainsObj, Handle(CollWorkspace, wsKey), objHandle, nil),
	)
	if info.SavedBy != "" {
		res.add(userVertex(info.SavedBy))
	}

	if info.Checksum == "" {
		return
	}
	if !seenHash[info.Checksum] {
		seenHash[info.Checksum] = true
		res.add(vertex(CollObjectHash, info.Checksum, &ObjectHash{Key: info.Checksum, Type: HashTypeMD5}))
	}
	res.add(edge(CollObjHashed, verHandle, Handle(CollObjectHash, info.Checksum), nil))
}

// buildEdges emits copy, reference and provenance edges for one version.
func buildEdges(res *Result, d wsapi.ObjectDetail) {
	info := d.Info
	wsid := info.WorkspaceID
	verHandle := Handle(CollObjectVersion, keys.ObjectVersion(wsid, info.ObjectID, info.Version))

	if d.Copied != "" && !bool(d.CopySourceInaccessible) {
		if to, ok := versionHandle(res, wsid, "copy source", d.Copied); ok {
			res.add(edge(CollCopiedFrom, verHandle, to, func(e *Edge) { e.WorkspaceID = wsid }))
		}
	}

	for _, ref := range d.Refs {
		if to, ok := versionHandle(res, wsid, "reference", ref); ok {
			res.add(edge(CollRefersTo, verHandle, to, func(e *Edge) { e.WorkspaceID = wsid }))
		}
	}

	for _, prov := range d.Provenance {
		method := methodVertex(prov)
		methodKey := method.Key
		res.add(
			vertex(CollMethodVersion, methodKey, method),
			edge(CollObjCreatedWithMethod, verHandle, Handle(CollMethodVersion, methodKey), func(e *Edge) {
				e.MethodParams = prov.MethodParams
			}),
		)
		for _, input := range prov.ResolvedWSObjects {
			if to, ok := versionHandle(res, wsid, "provenance input", input); ok {
				res.add(edge(CollProvDescendantOf, verHandle, to, func(e *Edge) { e.MethodKey = methodKey }))
			}
		}
	}
}

// methodVertex derives the method vertex. The commit position prefers the
// first sub-action's commit, then the service version, then "UNKNOWN".
func methodVertex(prov wsapi.ProvenanceAction) *MethodVersion {
	commit := prov.Commit()
	commitOrVersion := commit
	if commitOrVersion == "" {
		commitOrVersion = prov.ServiceVer
	}
	return &MethodVersion{
		Key:        keys.MethodVersion(prov.Service, commitOrVersion, prov.Method),
		ModuleName: orUnknown(prov.Service),
		MethodName: orUnknown(prov.Method),
		Commit:     orUnknown(commit),
		CodeURL:    orUnknown(prov.CodeURL()),
		ModuleVer:  orUnknown(prov.ServiceVer),
	}
}

func orUnknown(s string) string {
	if s == "" {
		return keys.UnknownCommit
	}
	return s
}

// versionHandle converts a UPA into an object version handle, recording an
// issue when it cannot be parsed.
func versionHandle(res *Result, wsid int64, what, upa string) (string, bool) {
	key, err := keys.FromUPA(upa)
	if err != nil {
		res.issue(report.Malformed(report.StageBuild, wsid, "skip %s edge: %v", what, err))
		return "", false
	}
	return Handle(CollObjectVersion, key), true
}
