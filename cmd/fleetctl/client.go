package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// client is a thin HTTP wrapper over a fleetd node's control API: GET
// and POST helpers with a short request timeout, JSON in, JSON out.
type client struct {
	addr string
	http *http.Client
}

func newClient(addr string) *client {
	return &client{addr: addr, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *client) get(path string, out interface{}) error {
	resp, err := c.http.Get(fmt.Sprintf("http://%s%s", c.addr, path))
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.addr, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func (c *client) post(path string, body interface{}, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.http.Post(fmt.Sprintf("http://%s%s", c.addr, path), "application/json", bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to reach %s: %w", c.addr, err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out interface{}) error {
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request failed (%s): %s", resp.Status, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
