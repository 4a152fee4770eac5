package canvas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/chmdznr/canvas-course-sync/pkg/models"
	"github.com/chmdznr/canvas-course-sync/pkg/version"
)

const (
	pageSize = 100

	// responseHeaderTimeout bounds the wait for a response to start. Bodies
	// are not bounded: recordings can take longer than any fixed limit.
	responseHeaderTimeout = 60 * time.Second
)

var nextLinkPattern = regexp.MustCompile(`<([^>]+)>\s*;\s*rel="next"`)

// Client talks to the Canvas REST API with a personal access token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	userAgent  string
}

// New creates a client for the Canvas instance at baseURL. The base URL may
// be given with or without the trailing /api/v1.
func New(baseURL, token string) *Client {
	base := strings.TrimRight(baseURL, "/")
	base = strings.TrimSuffix(base, "/api/v1")
	return &Client{
		httpClient: &http.Client{
			Transport: newTransport(responseHeaderTimeout),
		},
		baseURL:   base + "/api/v1",
		token:     token,
		userAgent: "csync/" + version.Version,
	}
}

func newTransport(headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// Courses lists the courses the user is enrolled in. Date-restricted
// enrollments come back without a name and are dropped.
func (c *Client) Courses(ctx context.Context) ([]models.Course, error) {
	var all []models.Course
	if err := c.list(ctx, "/courses", &all); err != nil {
		return nil, err
	}

	courses := all[:0]
	for _, course := range all {
		if course.Name != "" {
			courses = append(courses, course)
		}
	}
	return courses, nil
}

// Modules lists the modules of a course.
func (c *Client) Modules(ctx context.Context, courseID int64) ([]models.Module, error) {
	var modules []models.Module
	err := c.list(ctx, fmt.Sprintf("/courses/%d/modules", courseID), &modules)
	return modules, err
}

// ModuleItems lists the items of a module.
func (c *Client) ModuleItems(ctx context.Context, courseID, moduleID int64) ([]models.ModuleItem, error) {
	var items []models.ModuleItem
	err := c.list(ctx, fmt.Sprintf("/courses/%d/modules/%d/items", courseID, moduleID), &items)
	return items, err
}

// Folders lists every folder of a course.
func (c *Client) Folders(ctx context.Context, courseID int64) ([]models.Folder, error) {
	var folders []models.Folder
	err := c.list(ctx, fmt.Sprintf("/courses/%d/folders", courseID), &folders)
	return folders, err
}

// FolderFiles lists the files directly inside a folder.
func (c *Client) FolderFiles(ctx context.Context, folderID int64) ([]models.File, error) {
	var files []models.File
	err := c.list(ctx, fmt.Sprintf("/folders/%d/files", folderID), &files)
	return files, err
}

// File fetches one file of a course.
func (c *Client) File(ctx context.Context, courseID, fileID int64) (models.File, error) {
	var file models.File
	resp, err := c.do(ctx, c.baseURL+fmt.Sprintf("/courses/%d/files/%d", courseID, fileID))
	if err != nil {
		return file, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
		return file, fmt.Errorf("decode file %d: %w", fileID, err)
	}
	return file, nil
}

// Download streams the contents of file to w.
func (c *Client) Download(ctx context.Context, file models.File, w io.Writer) error {
	if file.URL == "" {
		return fmt.Errorf("file %d has no download URL", file.ID)
	}
	resp, err := c.do(ctx, file.URL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download file %d: %w", file.ID, err)
	}
	return nil
}

// list fetches every page of a collection endpoint and decodes the
// concatenated items into out, which must point to a slice.
func (c *Client) list(ctx context.Context, path string, out interface{}) error {
	query := url.Values{}
	query.Set("per_page", fmt.Sprint(pageSize))
	next := c.baseURL + path + "?" + query.Encode()

	var items []json.RawMessage
	for next != "" {
		resp, err := c.do(ctx, next)
		if err != nil {
			return err
		}

		var page []json.RawMessage
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode %s: %w", path, err)
		}
		items = append(items, page...)
		next = nextLink(resp.Header.Get("Link"))
	}

	log.WithField("path", path).WithField("count", len(items)).Debug("Listed collection")

	data, err := json.Marshal(items)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// do performs an authenticated GET. Any non-2xx response is turned into an
// *APIError and the body is closed.
func (c *Client) do(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Method:     req.Method,
			URL:        redact(req.URL),
			Message:    errorMessage(resp.Body),
		}
	}
	return resp, nil
}

// nextLink extracts the rel="next" URL from a Link header.
func nextLink(header string) string {
	for _, part := range strings.Split(header, ",") {
		if m := nextLinkPattern.FindStringSubmatch(part); m != nil {
			return m[1]
		}
	}
	return ""
}

// errorMessage pulls the first message out of a Canvas error body, which
// looks like {"errors": [{"message": "..."}]} or {"message": "..."}.
func errorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return ""
	}

	var parsed struct {
		Message string `json:"message"`
		Errors  []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return strings.TrimSpace(string(data))
	}
	if len(parsed.Errors) > 0 && parsed.Errors[0].Message != "" {
		return parsed.Errors[0].Message
	}
	return parsed.Message
}

// redact drops the query string, which may carry a download verifier.
func redact(u *url.URL) string {
	stripped := *u
	stripped.RawQuery = ""
	return stripped.String()
}
