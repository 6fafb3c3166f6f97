package cloudinary

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublicIDFromURL(t *testing.T) {
	tests := []struct {
		name string
		url  string
		want string
		ok   bool
	}{
		{name: "versioned", url: "https://res.cloudinary.com/demo/image/upload/v1712/classroll/abc.jpg", want: "classroll/abc", ok: true},
		{name: "unversioned", url: "https://res.cloudinary.com/demo/image/upload/abc.png", want: "abc", ok: true},
		{name: "not cloudinary", url: "/uploads/students/x.png", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PublicIDFromURL(tt.url)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSignIsOrderIndependent(t *testing.T) {
	c := New("demo", "key", "secret", "")
	a := c.sign(map[string]string{"timestamp": "1", "folder": "f", "api_key": "key"})
	b := c.sign(map[string]string{"folder": "f", "timestamp": "1"})
	assert.Equal(t, a, b)
	assert.Len(t, a, 40)
}

func TestUploadAndDestroy(t *testing.T) {
	var uploaded string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/demo/image/upload"):
			f, _, err := r.FormFile("file")
			if !assert.NoError(t, err) {
				return
			}
			b, _ := io.ReadAll(f)
			uploaded = string(b)
			assert.Equal(t, "students", r.FormValue("folder"))
			assert.NotEmpty(t, r.FormValue("signature"))
			_, _ = w.Write([]byte(`{"public_id":"students/p1","secure_url":"https://res.cloudinary.com/demo/image/upload/v1/students/p1.jpg"}`))
		case strings.HasSuffix(r.URL.Path, "/demo/image/destroy"):
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "students/p1", r.PostForm.Get("public_id"))
			_, _ = w.Write([]byte(`{"result":"ok"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "students")
	c.BaseURL = srv.URL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }

	res, err := c.Upload(context.Background(), strings.NewReader("jpegdata"), "me.jpg")
	require.NoError(t, err)
	assert.Equal(t, "jpegdata", uploaded)
	assert.Equal(t, "students/p1", res.PublicID)

	require.NoError(t, c.Destroy(context.Background(), "students/p1"))
}

func TestUploadErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("demo", "key", "secret", "")
	c.BaseURL = srv.URL
	_, err := c.Upload(context.Background(), strings.NewReader("x"), "x.jpg")
	assert.Error(t, err)
}
