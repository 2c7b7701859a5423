// Package erp speaks the Business Central wire protocol: jsonText envelopes,
// a company query parameter and service-principal Basic auth.
package erp

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"incidencia/internal/config"
)

// ErrUpstream indicates a non-2xx answer or transport failure from the ERP.
var ErrUpstream = errors.New("erp: upstream failure")

// Client posts records to Business Central. All calls authenticate as the
// configured service principal; the end user's identity travels inside the
// payload, never in the Authorization header.
type Client struct {
	cfg  *config.Config
	http *http.Client
	auth string
}

// New builds a client around cfg. The underlying http.Client carries no
// global timeout; each call sets its own deadline via context.
func New(cfg *config.Config) *Client {
	creds := cfg.ERP.Username + ":" + cfg.ERP.Password
	return &Client{
		cfg:  cfg,
		http: &http.Client{},
		auth: "Basic " + base64.StdEncoding.EncodeToString([]byte(creds)),
	}
}

// TasksByQR looks up the work orders linked to a QR identifier and
// classifies the candidate list.
func (c *Client) TasksByQR(ctx context.Context, qrID string) (Resolution, error) {
	body, err := wrapJSONText([]map[string]string{{"qrtarea": qrID}})
	if err != nil {
		return Resolution{}, err
	}
	timeout := time.Duration(c.cfg.ERP.Timeout) * time.Second
	res, err := c.post(ctx, c.cfg.TasksURL(), c.cfg.ERP.Company, body, timeout)
	if err != nil {
		return Resolution{}, err
	}
	if !accepted(res.StatusCode) {
		return Resolution{}, fmt.Errorf("%w: task lookup status %d: %s", ErrUpstream, res.StatusCode, res.Body)
	}
	return Resolve(decodeTaskEnvelope([]byte(res.Body))), nil
}

// SubmitFixation posts a minimal photo-to-task record. The request deadline
// scales with the attachment size because large inline payloads upload
// slowly over field connections.
func (c *Client) SubmitFixation(ctx context.Context, rec FixationRecord, attachmentMB float64) (SubmitResult, error) {
	body, err := wrapJSONText([]FixationRecord{rec})
	if err != nil {
		return SubmitResult{}, err
	}
	return c.submit(ctx, c.cfg.FixationURL(), rec.Empresa, body, c.uploadTimeout(attachmentMB))
}

// SubmitIncidence posts a full incidence record under the default tenant.
func (c *Client) SubmitIncidence(ctx context.Context, rec IncidenceRecord) (SubmitResult, error) {
	body, err := wrapJSONText(rec)
	if err != nil {
		return SubmitResult{}, err
	}
	timeout := time.Duration(c.cfg.ERP.Timeout) * time.Second
	return c.submit(ctx, c.cfg.IncidenceURL(), c.cfg.ERP.Company, body, timeout)
}

func (c *Client) submit(ctx context.Context, endpoint, company string, body []byte, timeout time.Duration) (SubmitResult, error) {
	res, err := c.post(ctx, endpoint, company, body, timeout)
	if err != nil {
		return SubmitResult{}, err
	}
	if !accepted(res.StatusCode) {
		return res, fmt.Errorf("%w: submit status %d: %s", ErrUpstream, res.StatusCode, res.Body)
	}
	return res, nil
}

func (c *Client) post(ctx context.Context, endpoint, company string, body []byte, timeout time.Duration) (SubmitResult, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	u, err := url.Parse(endpoint)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("erp: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("company", company)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("erp: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", c.auth)

	resp, err := c.http.Do(req)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: read response: %v", ErrUpstream, err)
	}
	return SubmitResult{StatusCode: resp.StatusCode, Body: string(data)}, nil
}

// uploadTimeout maps attachment size to a request deadline: payloads above
// the compression threshold get the long window.
func (c *Client) uploadTimeout(sizeMB float64) time.Duration {
	if sizeMB > float64(c.cfg.Compression.MaxSizeMB) {
		return time.Duration(c.cfg.ERP.LargeImageTimeout) * time.Second
	}
	return time.Duration(c.cfg.ERP.Timeout) * time.Second
}

func accepted(code int) bool {
	return code == http.StatusOK || code == http.StatusCreated || code == http.StatusNoContent
}
