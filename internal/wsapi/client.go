// Package wsapi talks to the workspace service over its JSON-RPC 1.1
// administration interface.
//
// Workspace responses carry positional tuples (workspace_info, object_info).
// They are decoded into named structs here, and nothing past this package
// indexes by position.
package wsapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/roach88/wsgraph/internal/httpretry"
)

// ErrNotFound is returned when the workspace reports a missing entity.
var ErrNotFound = errors.New("workspace entity not found")

// Source is the set of workspace operations the sync pipeline consumes.
type Source interface {
	GetContainerInfo(ctx context.Context, wsid int64) (ContainerInfo, error)
	ListContainers(ctx context.Context, owners []string) ([]ContainerInfo, error)
	ListObjects(ctx context.Context, params ListObjectsParams) ([]ObjectInfo, error)
	GetObjectDetails(ctx context.Context, refs []string) ([]ObjectDetail, error)
	ListPermissions(ctx context.Context, wsid int64) (map[string]string, error)
}

// RPCError is a JSON-RPC error object returned by the workspace.
type RPCError struct {
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
	Data    string `json:"error,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("workspace rpc error %d (%s): %s", e.Code, e.Name, e.Message)
}

// ClientOptions configures a Client. Zero values take defaults.
type ClientOptions struct {
	URL        string
	Token      string
	HTTPClient *http.Client
	Timeout    time.Duration
	Retry      httpretry.Policy
	Logger     *slog.Logger
}

// Client is the HTTP implementation of Source.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	retry      httpretry.Policy
	logger     *slog.Logger
}

var _ Source = (*Client)(nil)

// NewClient creates a workspace client.
func NewClient(opts ClientOptions) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		url:        strings.TrimRight(strings.TrimSpace(opts.URL), "/"),
		token:      opts.Token,
		httpClient: httpClient,
		retry:      opts.Retry,
		logger:     logger,
	}
}

type rpcRequest struct {
	Version string `json:"version"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
	ID      string `json:"id"`
}

type rpcResponse struct {
	Result []json.RawMessage `json:"result"`
	Error  *RPCError         `json:"error"`
}

type adminParams struct {
	Command string `json:"command"`
	Params  any    `json:"params"`
}

// Administer runs an administration command and decodes result[0] into out.
func (c *Client) Administer(ctx context.Context, command string, params, out any) error {
	return c.call(ctx, "Workspace.administer", []any{adminParams{Command: command, Params: params}}, out)
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	id := uuid.NewString()
	body, err := json.Marshal(rpcRequest{Version: "1.1", Method: method, Params: params, ID: id})
	if err != nil {
		return fmt.Errorf("encode %s request: %w", method, err)
	}
	header := http.Header{}
	header.Set("Content-Type", "application/json")
	if c.token != "" {
		header.Set("Authorization", c.token)
	}

	start := time.Now()
	resp, err := httpretry.Do(ctx, c.httpClient, c.retry, httpretry.Request{
		Method: http.MethodPost,
		URL:    c.url,
		Header: header,
		Body:   body,
	})
	if err != nil {
		// The workspace reports RPC errors with a 500 status and a JSON body.
		var he *httpretry.HTTPError
		if errors.As(err, &he) {
			if rpcErr := parseRPCError([]byte(he.Body)); rpcErr != nil {
				return classifyRPCError(rpcErr)
			}
		}
		return fmt.Errorf("workspace %s: %w", method, err)
	}
	c.logger.Debug("workspace call",
		"method", method,
		"request_id", id,
		"duration", time.Since(start),
	)

	var decoded rpcResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return fmt.Errorf("decode workspace response: %w", err)
	}
	if decoded.Error != nil {
		return classifyRPCError(decoded.Error)
	}
	if len(decoded.Result) == 0 {
		return fmt.Errorf("invalid workspace response: empty result")
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(decoded.Result[0], out); err != nil {
		return fmt.Errorf("decode workspace result: %w", err)
	}
	return nil
}

func parseRPCError(body []byte) *RPCError {
	var decoded rpcResponse
	if json.Unmarshal(body, &decoded) != nil || decoded.Error == nil {
		return nil
	}
	return decoded.Error
}

func classifyRPCError(e *RPCError) error {
	msg := strings.ToLower(e.Message)
	if strings.Contains(msg, "no workspace with id") ||
		strings.Contains(msg, "no object with id") ||
		strings.Contains(msg, "does not exist") {
		return fmt.Errorf("%w: %w", ErrNotFound, e)
	}
	return e
}

// GetContainerInfo fetches one workspace_info tuple.
func (c *Client) GetContainerInfo(ctx context.Context, wsid int64) (ContainerInfo, error) {
	var info ContainerInfo
	err := c.Administer(ctx, "getWorkspaceInfo", map[string]any{"id": wsid}, &info)
	return info, err
}

// ListContainers lists workspaces owned by any of owners.
func (c *Client) ListContainers(ctx context.Context, owners []string) ([]ContainerInfo, error) {
	var infos []ContainerInfo
	err := c.Administer(ctx, "listWorkspaceInfo", map[string]any{"owners": owners}, &infos)
	return infos, err
}

// ListObjects fetches one page of object_info tuples.
func (c *Client) ListObjects(ctx context.Context, p ListObjectsParams) ([]ObjectInfo, error) {
	params := map[string]any{
		"ids":             []int64{p.WorkspaceID},
		"showDeleted":     boolInt(p.ShowDeleted),
		"showOnlyDeleted": boolInt(p.ShowOnlyDeleted),
		"showHidden":      boolInt(p.ShowHidden),
		"showAllVersions": boolInt(p.ShowAllVersions),
	}
	if p.MinObjectID > 0 {
		params["minObjectID"] = p.MinObjectID
	}
	if p.MaxObjectID > 0 {
		params["maxObjectID"] = p.MaxObjectID
	}
	if p.Limit > 0 {
		params["limit"] = p.Limit
	}
	var infos []ObjectInfo
	err := c.Administer(ctx, "listObjects", params, &infos)
	return infos, err
}

// GetObjectDetails fetches metadata and provenance for refs, without data.
func (c *Client) GetObjectDetails(ctx context.Context, refs []string) ([]ObjectDetail, error) {
	objects := make([]map[string]string, len(refs))
	for i, ref := range refs {
		objects[i] = map[string]string{"ref": ref}
	}
	var resp struct {
		Data []ObjectDetail `json:"data"`
	}
	err := c.Administer(ctx, "getObjects", map[string]any{"objects": objects, "no_data": 1}, &resp)
	return resp.Data, err
}

// ListPermissions returns username to permission level for one workspace.
// The "*" pseudo-user (global read) is omitted.
func (c *Client) ListPermissions(ctx context.Context, wsid int64) (map[string]string, error) {
	var resp struct {
		Perms []map[string]string `json:"perms"`
	}
	err := c.Administer(ctx, "getPermissionsMass", map[string]any{
		"workspaces": []map[string]int64{{"id": wsid}},
	}, &resp)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string)
	if len(resp.Perms) == 0 {
		return out, nil
	}
	for user, perm := range resp.Perms[0] {
		if user == "*" {
			continue
		}
		out[user] = perm
	}
	return out, nil
}

// Ping checks that the workspace answers a version call.
func (c *Client) Ping(ctx context.Context) error {
	var version string
	if err := c.call(ctx, "Workspace.ver", []any{}, &version); err != nil {
		return fmt.Errorf("ping workspace: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
