package gcs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
)

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client is required")

	_, err = New(&storage.Client{}, Config{Bucket: " "})
	require.ErrorContains(t, err, "bucket name is required")
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	store, err := New(&storage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = store.PutObject(context.Background(), "/", "text/html", strings.NewReader("x"))
	require.ErrorContains(t, err, "path is required")
}

func TestIsPreconditionFailed(t *testing.T) {
	t.Parallel()

	require.True(t, isPreconditionFailed(fmt.Errorf("finalize: %w", &googleapi.Error{Code: http.StatusPreconditionFailed})))
	require.False(t, isPreconditionFailed(&googleapi.Error{Code: http.StatusInternalServerError}))
	require.False(t, isPreconditionFailed(errors.New("Precondition Failed")))
}
