package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/chatrelay/chatrelay/internal/ierr"
)

// The identity and directory services sit behind a private boundary
// authenticated by a shared endpoint secret. A missing or wrong secret is an
// authorization failure, not a transport failure.

func postJSON(ctx context.Context, client *http.Client, url string, body any, result any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return ierr.New(ierr.ErrorCodeInternal, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return ierr.New(ierr.ErrorCodeInternal, err)
	}

	request.Header.Set("Content-Type", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode == http.StatusUnauthorized {
		return ierr.New(ierr.ErrorCodeUnauthenticated, errors.New("endpoint secret rejected"))
	}

	if response.StatusCode != http.StatusOK {
		return ierr.New(ierr.ErrorCodeUnavailable, errors.New("unexpected status: "+response.Status))
	}

	if err := json.NewDecoder(response.Body).Decode(result); err != nil {
		return ierr.New(ierr.ErrorCodeUnavailable, err)
	}

	return nil
}
