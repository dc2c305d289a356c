package seaweedfs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/wuxler/imgvault/pkg/errdefs"
	"github.com/wuxler/imgvault/pkg/util/xhttp"
	"github.com/wuxler/imgvault/pkg/util/xio"
)

// Assignment is a file id reserved by the master together with the volume
// server that will hold it.
type Assignment struct {
	FID       string `json:"fid"`
	URL       string `json:"url"`
	PublicURL string `json:"publicUrl"`
	Count     int    `json:"count"`
	Error     string `json:"error,omitempty"`
}

type lookupResult struct {
	VolumeID  string `json:"volumeId"`
	Locations []struct {
		URL       string `json:"url"`
		PublicURL string `json:"publicUrl"`
	} `json:"locations"`
	Error string `json:"error,omitempty"`
}

// Client talks to the master and volume servers over HTTP.
type Client struct {
	master     *url.URL
	httpClient xhttp.Client
	scheme     string
}

// NewClient returns a Client for the master at masterURL.
func NewClient(masterURL string, httpClient xhttp.Client) (*Client, error) {
	if !strings.Contains(masterURL, "://") {
		masterURL = "http://" + masterURL
	}
	u, err := url.Parse(masterURL)
	if err != nil {
		return nil, errdefs.NewE(errdefs.ErrInvalidParameter, err)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{master: u, httpClient: httpClient, scheme: u.Scheme}, nil
}

// Master returns the master address.
func (c *Client) Master() string { return c.master.Host }

// Assign reserves a new file id.
func (c *Client) Assign(ctx context.Context) (*Assignment, error) {
	u := c.master.JoinPath("dir", "assign")
	a := &Assignment{}
	if err := c.getJSON(ctx, u.String(), a); err != nil {
		return nil, err
	}
	if a.Error != "" {
		return nil, errdefs.Newf(errdefs.ErrUnavailable, "assign: %s", a.Error)
	}
	if a.FID == "" || a.URL == "" {
		return nil, errdefs.Newf(errdefs.ErrUnavailable, "assign: empty assignment")
	}
	return a, nil
}

// Lookup returns the volume server currently holding fid.
func (c *Client) Lookup(ctx context.Context, fid string) (string, error) {
	volumeID, _, ok := strings.Cut(fid, ",")
	if !ok {
		return "", errdefs.Newf(errdefs.ErrInvalidParameter, "invalid file id %q", fid)
	}
	u := c.master.JoinPath("dir", "lookup")
	u.RawQuery = url.Values{"volumeId": []string{volumeID}}.Encode()
	res := &lookupResult{}
	if err := c.getJSON(ctx, u.String(), res); err != nil {
		return "", err
	}
	if res.Error != "" || len(res.Locations) == 0 {
		return "", errdefs.Newf(errdefs.ErrNotFound, "volume %s: %s", volumeID, res.Error)
	}
	return res.Locations[0].URL, nil
}

// Upload writes data to fid on the volume server at host.
func (c *Client) Upload(ctx context.Context, host, fid, filename, contentType string, data []byte) error {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := part.Write(data); err != nil {
		return err
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.volumeURL(host, fid), body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if contentType != "" {
		req.Header.Set("X-Original-Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xhttp.MakeRequestError(req, err)
	}
	defer xio.CloseAndSkipError(resp.Body)
	return xhttp.Success(resp, http.StatusCreated, http.StatusAccepted)
}

// Download reads fid from the volume server at host.
func (c *Client) Download(ctx context.Context, host, fid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.volumeURL(host, fid), http.NoBody)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, xhttp.MakeRequestError(req, err)
	}
	defer xio.CloseAndSkipError(resp.Body)
	if err := xhttp.Success(resp); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, xhttp.MakeResponseError(resp, err)
	}
	return data, nil
}

// Remove deletes fid from the volume server at host. Missing files are not
// an error.
func (c *Client) Remove(ctx context.Context, host, fid string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.volumeURL(host, fid), http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xhttp.MakeRequestError(req, err)
	}
	defer xio.CloseAndSkipError(resp.Body)
	err = xhttp.Success(resp, http.StatusAccepted, http.StatusNoContent)
	if errdefs.IsNotFound(err) {
		return nil
	}
	return err
}

func (c *Client) volumeURL(host, fid string) string {
	return fmt.Sprintf("%s://%s/%s", c.scheme, host, fid)
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return xhttp.MakeRequestError(req, err)
	}
	defer xio.CloseAndSkipError(resp.Body)
	if err := xhttp.Success(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return xhttp.MakeResponseError(resp, err)
	}
	return nil
}
