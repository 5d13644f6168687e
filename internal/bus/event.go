package bus

// EventType is the evtype field of a workspace event.
type EventType string

// Workspace event types.
const (
	EventImport              EventType = "IMPORT"
	EventNewVersion          EventType = "NEW_VERSION"
	EventCopyObject          EventType = "COPY_OBJECT"
	EventRenameObject        EventType = "RENAME_OBJECT"
	EventImportNonexistent   EventType = "IMPORT_NONEXISTENT"
	EventObjectDeleteState   EventType = "OBJECT_DELETE_STATE_CHANGE"
	EventWorkspaceDelete     EventType = "WORKSPACE_DELETE_STATE_CHANGE"
	EventCloneWorkspace      EventType = "CLONE_WORKSPACE"
	EventImportWorkspace     EventType = "IMPORT_WORKSPACE"
	EventSetPermission       EventType = "SET_PERMISSION"
	EventSetGlobalPermission EventType = "SET_GLOBAL_PERMISSION"
	EventSetWorkspaceOwner   EventType = "SET_WORKSPACE_OWNER"
	EventReindexWorkspace    EventType = "REINDEX_WORKSPACE"
)

// Event is a decoded workspace change event. Zero ObjectID or Version
// means the field was absent.
type Event struct {
	WorkspaceID int64     `json:"wsid"`
	ObjectID    int64     `json:"objid,omitempty"`
	Version     int64     `json:"ver,omitempty"`
	Type        EventType `json:"evtype"`
	Time        int64     `json:"time,omitempty"`
	User        string    `json:"user,omitempty"`
	Perm        string    `json:"perm,omitempty"`
	PermUsers   []string  `json:"permusers,omitempty"`
}
