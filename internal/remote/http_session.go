package remote

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/imroc/req/v3"

	"github.com/opendms/docsync/internal/version"
)

const (
	headerUserAgent = "User-Agent"
	headerRange     = "Range"
)

// HTTPSession is the JSON-over-HTTP binding of the Session capability
// surface. One instance is safe for concurrent use.
type HTTPSession struct {
	client *req.Client
	repoID string
}

// NewHTTPSession creates a session against the repository at baseURL.
func NewHTTPSession(baseURL, repoID, username, password string) *HTTPSession {
	client := req.C().
		SetBaseURL(baseURL).
		SetCommonHeader(headerUserAgent, "DocSync/"+version.Version).
		SetCommonBasicAuth(username, password).
		SetTimeout(5 * time.Minute).
		SetCommonRetryCount(3).
		SetCommonRetryBackoffInterval(1*time.Second, 5*time.Second).
		SetCommonRetryCondition(func(resp *req.Response, err error) bool {
			code := resp.GetStatusCode()
			return err != nil || code >= 500 || code == 429
		}).
		SetJsonMarshal(jsonMarshal).
		SetJsonUnmarshal(jsonUnmarshal)

	return &HTTPSession{
		client: client,
		repoID: repoID,
	}
}

// Close releases idle connections.
func (s *HTTPSession) Close() {
	s.client.CloseIdleConnections()
}

func (s *HTTPSession) repoPath(suffix string) string {
	return "/api/v1/repos/" + s.repoID + suffix
}

func (s *HTTPSession) checkResp(resp *req.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsErrorState() {
		return errorFromStatus(resp.GetStatusCode(), resp.String())
	}
	return nil
}

func (s *HTTPSession) RepositoryInfo(ctx context.Context) (*RepositoryInfo, error) {
	var info RepositoryInfo
	resp, err := s.client.R().
		SetContext(ctx).
		SetSuccessResult(&info).
		Get(s.repoPath(""))
	if err := s.checkResp(resp, err); err != nil {
		return nil, fmt.Errorf("repository info: %w", err)
	}
	return &info, nil
}

func (s *HTTPSession) ObjectByID(ctx context.Context, id string) (*Object, error) {
	var obj Object
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", id).
		SetSuccessResult(&obj).
		Get(s.repoPath("/objects/{id}"))
	if err := s.checkResp(resp, err); err != nil {
		return nil, fmt.Errorf("get object %q: %w", id, err)
	}
	return &obj, nil
}

func (s *HTTPSession) Children(ctx context.Context, folderID string, skip, limit int) ([]*Object, bool, error) {
	var page struct {
		Objects []*Object `json:"objects"`
		HasMore bool      `json:"hasMore"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", folderID).
		SetQueryParam("skip", strconv.Itoa(skip)).
		SetQueryParam("limit", strconv.Itoa(limit)).
		SetSuccessResult(&page).
		Get(s.repoPath("/folders/{id}/children"))
	if err := s.checkResp(resp, err); err != nil {
		return nil, false, fmt.Errorf("list children of %q: %w", folderID, err)
	}
	return page.Objects, page.HasMore, nil
}

func (s *HTTPSession) Descendants(ctx context.Context, folderID string, depth int) (*ObjectTree, error) {
	var tree ObjectTree
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", folderID).
		SetQueryParam("depth", strconv.Itoa(depth)).
		SetSuccessResult(&tree).
		Get(s.repoPath("/folders/{id}/descendants"))
	if err := s.checkResp(resp, err); err != nil {
		return nil, fmt.Errorf("descendants of %q: %w", folderID, err)
	}
	return &tree, nil
}

func (s *HTTPSession) ContentChanges(ctx context.Context, sinceToken string, maxItems int) (*ChangeLogPage, error) {
	var page ChangeLogPage
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("since", sinceToken).
		SetQueryParam("max", strconv.Itoa(maxItems)).
		SetSuccessResult(&page).
		Get(s.repoPath("/changes"))
	if err := s.checkResp(resp, err); err != nil {
		return nil, fmt.Errorf("content changes since %q: %w", sinceToken, err)
	}
	return &page, nil
}

func (s *HTTPSession) ContentInfo(ctx context.Context, streamID string) (*ContentInfo, error) {
	var info ContentInfo
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", streamID).
		SetSuccessResult(&info).
		Get(s.repoPath("/streams/{id}/info"))
	if err := s.checkResp(resp, err); err != nil {
		return nil, fmt.Errorf("content info %q: %w", streamID, err)
	}
	return &info, nil
}

func (s *HTTPSession) ReadContent(ctx context.Context, streamID string, offset, length int64) (io.ReadCloser, error) {
	r := s.client.R().
		SetContext(ctx).
		SetPathParam("id", streamID).
		DisableAutoReadResponse()

	if offset > 0 || length >= 0 {
		if length >= 0 {
			r.SetHeader(headerRange, fmt.Sprintf("bytes=%d-%d", offset, offset+length-1))
		} else {
			r.SetHeader(headerRange, fmt.Sprintf("bytes=%d-", offset))
		}
	}

	resp, err := r.Get(s.repoPath("/streams/{id}"))
	if err != nil {
		return nil, fmt.Errorf("read content %q: %w", streamID, err)
	}
	if resp.IsErrorState() {
		body := resp.String() // drains and closes
		return nil, fmt.Errorf("read content %q: %w", streamID, errorFromStatus(resp.GetStatusCode(), body))
	}
	return resp.Body, nil
}

func (s *HTTPSession) WriteContent(ctx context.Context, objectID, changeToken string, r io.Reader, mode WriteMode) (string, error) {
	var result struct {
		ChangeToken string `json:"changeToken"`
	}
	writeMode := "overwrite"
	if mode == WriteAppend {
		writeMode = "append"
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", objectID).
		SetQueryParam("token", changeToken).
		SetQueryParam("mode", writeMode).
		SetContentType("application/octet-stream").
		SetBody(r).
		SetSuccessResult(&result).
		Put(s.repoPath("/objects/{id}/content"))
	if err := s.checkResp(resp, err); err != nil {
		return "", fmt.Errorf("write content %q: %w", objectID, err)
	}
	return result.ChangeToken, nil
}

func (s *HTTPSession) DeleteContent(ctx context.Context, objectID, changeToken string) (string, error) {
	var result struct {
		ChangeToken string `json:"changeToken"`
	}
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", objectID).
		SetQueryParam("token", changeToken).
		SetSuccessResult(&result).
		Delete(s.repoPath("/objects/{id}/content"))
	if err := s.checkResp(resp, err); err != nil {
		return "", fmt.Errorf("delete content %q: %w", objectID, err)
	}
	return result.ChangeToken, nil
}

func (s *HTTPSession) createChild(ctx context.Context, parentID, name string, kind ObjectKind) (*Object, error) {
	var obj Object
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", parentID).
		SetBodyJsonMarshal(map[string]string{
			"name": name,
			"kind": string(kind),
		}).
		SetSuccessResult(&obj).
		Post(s.repoPath("/folders/{id}/children"))
	if err := s.checkResp(resp, err); err != nil {
		return nil, fmt.Errorf("create %s %q in %q: %w", kind, name, parentID, err)
	}
	return &obj, nil
}

func (s *HTTPSession) CreateFolder(ctx context.Context, parentID, name string) (*Object, error) {
	return s.createChild(ctx, parentID, name, KindFolder)
}

func (s *HTTPSession) CreateDocument(ctx context.Context, parentID, name string) (*Object, error) {
	return s.createChild(ctx, parentID, name, KindDocument)
}

func (s *HTTPSession) Rename(ctx context.Context, objectID, changeToken, newName string) (*Object, error) {
	var obj Object
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", objectID).
		SetBodyJsonMarshal(map[string]string{
			"token": changeToken,
			"name":  newName,
		}).
		SetSuccessResult(&obj).
		Post(s.repoPath("/objects/{id}/rename"))
	if err := s.checkResp(resp, err); err != nil {
		return nil, fmt.Errorf("rename %q: %w", objectID, err)
	}
	return &obj, nil
}

func (s *HTTPSession) Move(ctx context.Context, objectID, changeToken, newParentID string) (*Object, error) {
	var obj Object
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", objectID).
		SetBodyJsonMarshal(map[string]string{
			"token":    changeToken,
			"parentId": newParentID,
		}).
		SetSuccessResult(&obj).
		Post(s.repoPath("/objects/{id}/move"))
	if err := s.checkResp(resp, err); err != nil {
		return nil, fmt.Errorf("move %q: %w", objectID, err)
	}
	return &obj, nil
}

func (s *HTTPSession) Delete(ctx context.Context, objectID, changeToken string) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetPathParam("id", objectID).
		SetQueryParam("token", changeToken).
		Delete(s.repoPath("/objects/{id}"))
	if err := s.checkResp(resp, err); err != nil {
		return fmt.Errorf("delete %q: %w", objectID, err)
	}
	return nil
}
