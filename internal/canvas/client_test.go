package canvas

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chmdznr/canvas-course-sync/pkg/models"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *Client) {
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, New(server.URL, "token")
}

func TestNewNormalizesBaseURL(t *testing.T) {
	for _, base := range []string{
		"https://canvas.example.edu",
		"https://canvas.example.edu/",
		"https://canvas.example.edu/api/v1",
		"https://canvas.example.edu/api/v1/",
	} {
		assert.Equal(t, "https://canvas.example.edu/api/v1", New(base, "").baseURL, base)
	}
}

func TestCoursesPaginates(t *testing.T) {
	var server *httptest.Server
	server, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer token", r.Header.Get("Authorization"))
		assert.Equal(t, "/api/v1/courses", r.URL.Path)

		switch r.URL.Query().Get("page") {
		case "":
			assert.Equal(t, "100", r.URL.Query().Get("per_page"))
			w.Header().Set("Link", fmt.Sprintf(
				`<%s/api/v1/courses?page=1&per_page=100>; rel="current", `+
					`<%s/api/v1/courses?page=2&per_page=100>; rel="next"`,
				server.URL, server.URL))
			fmt.Fprint(w, `[{"id": 1, "name": "COMP-1010 Intro", "end_at": "2030-01-01T00:00:00Z"},
				{"id": 2, "access_restricted_by_date": true}]`)
		case "2":
			fmt.Fprint(w, `[{"id": 3, "name": "MATH-2000 Calc", "end_at": null}]`)
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	})

	courses, err := client.Courses(context.Background())
	require.NoError(t, err)

	end := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	require.Len(t, courses, 2)
	assert.Equal(t, int64(1), courses[0].ID)
	assert.Equal(t, "COMP-1010 Intro", courses[0].Name)
	require.NotNil(t, courses[0].EndAt)
	assert.True(t, end.Equal(*courses[0].EndAt))
	assert.Equal(t, models.Course{ID: 3, Name: "MATH-2000 Calc"}, courses[1])
}

func TestModuleAndFolderListings(t *testing.T) {
	_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/courses/7/modules":
			fmt.Fprint(w, `[{"id": 11, "name": "Week 1"}]`)
		case "/api/v1/courses/7/modules/11/items":
			fmt.Fprint(w, `[{"id": 21, "title": "Slides.pdf", "type": "File", "content_id": 31},
				{"id": 22, "title": "Quiz", "type": "Quiz", "content_id": 32}]`)
		case "/api/v1/courses/7/folders":
			fmt.Fprint(w, `[{"id": 41, "full_name": "course files/Labs"}]`)
		case "/api/v1/folders/41/files":
			fmt.Fprint(w, `[{"id": 51, "display_name": "lab1.zip", "url": "http://x/files/51", "size": 10, "locked": true}]`)
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	modules, err := client.Modules(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []models.Module{{ID: 11, Name: "Week 1"}}, modules)

	items, err := client.ModuleItems(ctx, 7, 11)
	require.NoError(t, err)
	assert.Equal(t, []models.ModuleItem{
		{ID: 21, Title: "Slides.pdf", Type: models.ModuleItemFile, ContentID: 31},
		{ID: 22, Title: "Quiz", Type: "Quiz", ContentID: 32},
	}, items)

	folders, err := client.Folders(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, []models.Folder{{ID: 41, FullName: "course files/Labs"}}, folders)

	files, err := client.FolderFiles(ctx, 41)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "lab1.zip", files[0].DisplayName)
	assert.True(t, files[0].Locked)
}

func TestFileAndDownload(t *testing.T) {
	var server *httptest.Server
	server, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/courses/7/files/31":
			fmt.Fprintf(w, `{"id": 31, "display_name": "Slides.pdf", "url": "%s/files/31/download?verifier=abc", "size": 5}`, server.URL)
		case "/files/31/download":
			assert.Equal(t, "abc", r.URL.Query().Get("verifier"))
			fmt.Fprint(w, "hello")
		default:
			http.NotFound(w, r)
		}
	})
	ctx := context.Background()

	file, err := client.File(ctx, 7, 31)
	require.NoError(t, err)
	assert.Equal(t, int64(5), file.Size)

	var buf bytes.Buffer
	require.NoError(t, client.Download(ctx, file, &buf))
	assert.Equal(t, "hello", buf.String())
}

func TestDownloadWithoutURL(t *testing.T) {
	client := New("http://127.0.0.1:0", "token")
	err := client.Download(context.Background(), models.File{ID: 9}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestDownloadOutlastsHeaderTimeout(t *testing.T) {
	chunk := bytes.Repeat([]byte("x"), 1024)
	server, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 10; i++ {
			w.Write(chunk)
			flusher.Flush()
			time.Sleep(50 * time.Millisecond)
		}
	})
	assert.Zero(t, client.httpClient.Timeout)
	client.httpClient.Transport = newTransport(100 * time.Millisecond)

	var buf bytes.Buffer
	file := models.File{ID: 1, URL: server.URL + "/files/1"}
	require.NoError(t, client.Download(context.Background(), file, &buf))
	assert.Equal(t, 10*len(chunk), buf.Len())
}

func TestSlowResponseHeaderTimesOut(t *testing.T) {
	server, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		fmt.Fprint(w, "late")
	})
	client.httpClient.Transport = newTransport(50 * time.Millisecond)

	file := models.File{ID: 1, URL: server.URL + "/files/1"}
	err := client.Download(context.Background(), file, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		status   int
		body     string
		expError error
		expMsg   string
	}{
		{http.StatusUnauthorized, `{"errors": [{"message": "Invalid access token."}]}`, ErrUnauthorized, "Invalid access token."},
		{http.StatusForbidden, `{"message": "user not authorized to perform that action"}`, ErrForbidden, "user not authorized to perform that action"},
		{http.StatusNotFound, `{"errors": [{"message": "The specified resource does not exist."}]}`, ErrNotFound, "The specified resource does not exist."},
		{http.StatusInternalServerError, `oops`, nil, "oops"},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			_, client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := client.Folders(context.Background(), 1)
			require.Error(t, err)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.expMsg, apiErr.Message)
			if tt.expError != nil {
				assert.ErrorIs(t, err, tt.expError)
			}
			for _, sentinel := range []error{ErrUnauthorized, ErrForbidden, ErrNotFound} {
				if sentinel != tt.expError {
					assert.NotErrorIs(t, err, sentinel)
				}
			}
		})
	}
}

func TestNextLink(t *testing.T) {
	tests := []struct {
		header   string
		expected string
	}{
		{"", ""},
		{`<https://c/api/v1/courses?page=1>; rel="current"`, ""},
		{`<https://c/api/v1/courses?page=1>; rel="current",<https://c/api/v1/courses?page=2>; rel="next",<https://c/api/v1/courses?page=5>; rel="last"`,
			"https://c/api/v1/courses?page=2"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, nextLink(tt.header), tt.header)
	}
}
