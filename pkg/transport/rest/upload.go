package rest

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"go.uber.org/zap"

	"github.com/saturnines/vacsync/pkg/errors"
)

// Upload posts one file as multipart/form-data in a "file" field.
//
// On 201 it returns the value of codeHeader, falling back to Location. Any
// other status fails with "<status code>: <status text>".
func (c *Client) Upload(ctx context.Context, endpoint, codeHeader, filename string, content io.Reader) (string, error) {
	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		part, err := form.CreateFormFile("file", filename)
		if err == nil {
			_, err = io.Copy(part, content)
		}
		if err == nil {
			err = form.Close()
		}
		pw.CloseWithError(err)
	}()

	fullURL := c.Resolve(endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, pr)
	if err != nil {
		pr.CloseWithError(err)
		return "", errors.WrapError(err, errors.ErrHTTPRequest, "build upload request")
	}
	for key, value := range c.headers {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.doer.Do(req)
	if err != nil {
		pr.CloseWithError(err)
		return "", errors.WrapError(err, errors.ErrHTTPRequest, fmt.Sprintf("upload %s", filename))
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusCreated {
		c.log.Warn("upload rejected",
			zap.String("url", fullURL),
			zap.String("file", filename),
			zap.Int("status_code", resp.StatusCode),
		)
		return "", errors.WrapError(
			fmt.Errorf("%d: %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
			errors.ErrHTTPResponse,
			fmt.Sprintf("upload %s", filename),
		)
	}

	code := ""
	if codeHeader != "" {
		code = resp.Header.Get(codeHeader)
	}
	if code == "" {
		code = resp.Header.Get("Location")
	}
	c.log.Debug("file uploaded", zap.String("file", filename), zap.String("code", code), zap.Int("bytes", len(body)))
	return code, nil
}
