package testutil

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/roach88/wsgraph/internal/keys"
	"github.com/roach88/wsgraph/internal/wsapi"
)

// FakeSource is an in-memory wsapi.Source with call counters and
// injectable failures.
//
// Thread-safety: all methods are safe for concurrent use.
type FakeSource struct {
	mu sync.Mutex

	containers map[int64]wsapi.ContainerInfo
	objects    map[int64][]wsapi.ObjectInfo
	deleted    map[int64]map[int64]bool
	details    map[string]wsapi.ObjectDetail
	perms      map[int64]map[string]string

	// Failures, keyed by workspace id.
	failInfo  map[int64]error
	failList  map[int64]error
	failPerms map[int64]error
	failPing  error

	// failDetails fails any getObjects call that includes one of these refs.
	failDetails map[string]error

	infoCalls   int
	listCalls   map[int64]int
	detailCalls int
	permCalls   int
}

var _ wsapi.Source = (*FakeSource)(nil)

// NewFakeSource returns an empty fake workspace.
func NewFakeSource() *FakeSource {
	return &FakeSource{
		containers:  make(map[int64]wsapi.ContainerInfo),
		objects:     make(map[int64][]wsapi.ObjectInfo),
		deleted:     make(map[int64]map[int64]bool),
		details:     make(map[string]wsapi.ObjectDetail),
		perms:       make(map[int64]map[string]string),
		failInfo:    make(map[int64]error),
		failList:    make(map[int64]error),
		failPerms:   make(map[int64]error),
		failDetails: make(map[string]error),
		listCalls:   make(map[int64]int),
	}
}

// AddContainer registers a workspace. MaxObjectID is raised as objects are
// added.
func (f *FakeSource) AddContainer(info wsapi.ContainerInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[info.ID] = info
}

// AddDetail registers a full object detail and its listing info.
func (f *FakeSource) AddDetail(d wsapi.ObjectDetail) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addInfoLocked(d.Info)
	f.details[d.Info.UPA()] = d
}

// AddObject registers a listing entry without provenance.
func (f *FakeSource) AddObject(info wsapi.ObjectInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addInfoLocked(info)
}

// AddObjects registers n objects with one version each, object ids 1..n.
func (f *FakeSource) AddObjects(wsid int64, n int) {
	for i := 1; i <= n; i++ {
		f.AddObject(wsapi.ObjectInfo{
			ObjectID:    int64(i),
			Name:        fmt.Sprintf("obj_%d", i),
			Type:        "KBaseGenomes.Genome-17.0",
			SaveDate:    "2019-04-04T20:16:39+0000",
			Version:     1,
			SavedBy:     "someuser",
			WorkspaceID: wsid,
			Checksum:    fmt.Sprintf("%032x", wsid*1_000_000+int64(i)),
			Size:        int64(100 + i),
		})
	}
}

func (f *FakeSource) addInfoLocked(info wsapi.ObjectInfo) {
	f.objects[info.WorkspaceID] = append(f.objects[info.WorkspaceID], info)
	ws := f.containers[info.WorkspaceID]
	if ws.ID == 0 {
		ws = wsapi.ContainerInfo{ID: info.WorkspaceID, Owner: info.SavedBy, LockStatus: "unlocked"}
	}
	if info.ObjectID > ws.MaxObjectID {
		ws.MaxObjectID = info.ObjectID
	}
	f.containers[info.WorkspaceID] = ws
}

// MarkDeleted flags an object (all versions) as deleted.
func (f *FakeSource) MarkDeleted(wsid, objid int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleted[wsid] == nil {
		f.deleted[wsid] = make(map[int64]bool)
	}
	f.deleted[wsid][objid] = true
}

// SetPermissions sets the user permissions of a workspace.
func (f *FakeSource) SetPermissions(wsid int64, perms map[string]string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.perms[wsid] = perms
}

// FailContainerInfo makes GetContainerInfo fail for wsid.
func (f *FakeSource) FailContainerInfo(wsid int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failInfo[wsid] = err
}

// FailList makes every ListObjects call for wsid fail.
func (f *FakeSource) FailList(wsid int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failList[wsid] = err
}

// FailPermissions makes ListPermissions fail for wsid.
func (f *FakeSource) FailPermissions(wsid int64, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPerms[wsid] = err
}

// FailDetails makes any getObjects call including upa fail.
func (f *FakeSource) FailDetails(upa string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failDetails[upa] = err
}

// GetContainerInfo implements wsapi.Source.
func (f *FakeSource) GetContainerInfo(ctx context.Context, wsid int64) (wsapi.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infoCalls++
	if err := f.failInfo[wsid]; err != nil {
		return wsapi.ContainerInfo{}, err
	}
	info, ok := f.containers[wsid]
	if !ok {
		return wsapi.ContainerInfo{}, fmt.Errorf("%w: no workspace with id %d", wsapi.ErrNotFound, wsid)
	}
	return info, nil
}

// ListContainers implements wsapi.Source.
func (f *FakeSource) ListContainers(ctx context.Context, owners []string) ([]wsapi.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[string]bool, len(owners))
	for _, o := range owners {
		want[o] = true
	}
	var out []wsapi.ContainerInfo
	for _, c := range f.containers {
		if want[c.Owner] {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListObjects implements wsapi.Source.
func (f *FakeSource) ListObjects(ctx context.Context, p wsapi.ListObjectsParams) ([]wsapi.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls[p.WorkspaceID]++
	if err := f.failList[p.WorkspaceID]; err != nil {
		return nil, err
	}

	var out []wsapi.ObjectInfo
	for _, info := range f.objects[p.WorkspaceID] {
		isDeleted := f.deleted[p.WorkspaceID][info.ObjectID]
		switch {
		case p.ShowOnlyDeleted && !isDeleted:
			continue
		case !p.ShowOnlyDeleted && !p.ShowDeleted && isDeleted:
			continue
		}
		if info.ObjectID < p.MinObjectID {
			continue
		}
		if p.MaxObjectID > 0 && info.ObjectID > p.MaxObjectID {
			continue
		}
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ObjectID != out[j].ObjectID {
			return out[i].ObjectID < out[j].ObjectID
		}
		return out[i].Version < out[j].Version
	})
	if p.Limit > 0 && len(out) > p.Limit {
		out = out[:p.Limit]
	}
	return out, nil
}

// GetObjectDetails implements wsapi.Source. Refs may omit the version to
// select the latest one. Objects added without a detail get one built from
// their listing info.
func (f *FakeSource) GetObjectDetails(ctx context.Context, refs []string) ([]wsapi.ObjectDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	out := make([]wsapi.ObjectDetail, 0, len(refs))
	for _, ref := range refs {
		if err := f.failDetails[ref]; err != nil {
			return nil, err
		}
		info, ok := f.resolveLocked(ref)
		if !ok {
			return nil, fmt.Errorf("%w: no object with id %s", wsapi.ErrNotFound, ref)
		}
		if d, ok := f.details[info.UPA()]; ok {
			out = append(out, d)
			continue
		}
		out = append(out, wsapi.ObjectDetail{Info: info})
	}
	return out, nil
}

func (f *FakeSource) resolveLocked(ref string) (wsapi.ObjectInfo, bool) {
	parts := strings.Split(ref, "/")
	if len(parts) == 2 {
		ref += "/0"
	}
	var wsid, objid, ver int64
	if _, err := fmt.Sscanf(ref, "%d/%d/%d", &wsid, &objid, &ver); err != nil {
		return wsapi.ObjectInfo{}, false
	}
	var (
		best  wsapi.ObjectInfo
		found bool
	)
	for _, info := range f.objects[wsid] {
		if info.ObjectID != objid {
			continue
		}
		if ver > 0 && info.Version == ver {
			return info, true
		}
		if ver == 0 && (!found || info.Version > best.Version) {
			best, found = info, true
		}
	}
	return best, found
}

// ListPermissions implements wsapi.Source.
func (f *FakeSource) ListPermissions(ctx context.Context, wsid int64) (map[string]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permCalls++
	if err := f.failPerms[wsid]; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(f.perms[wsid]))
	for u, p := range f.perms[wsid] {
		out[u] = p
	}
	return out, nil
}

// FailPing makes Ping return err.
func (f *FakeSource) FailPing(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPing = err
}

// Ping reports the injected ping failure, if any.
func (f *FakeSource) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failPing
}

// ListCalls returns how many ListObjects calls wsid received.
func (f *FakeSource) ListCalls(wsid int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls[wsid]
}

// TotalCalls returns the number of calls of any kind.
func (f *FakeSource) TotalCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := f.infoCalls + f.detailCalls + f.permCalls
	for _, c := range f.listCalls {
		n += c
	}
	return n
}

// DetailCalls returns the number of getObjects calls.
func (f *FakeSource) DetailCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailCalls
}

// Ref is a convenience for building version refs in tests.
func Ref(wsid, objid, ver int64) string {
	return keys.Ref{WorkspaceID: wsid, ObjectID: objid, Version: ver}.UPA()
}
