package ipc

import (
	"errors"
	"fmt"
	"io"
	"net"
)

// Send makes one request to the panel at path and returns its response
func Send(path string, req Request) (*Response, error) {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return nil, fmt.Errorf("connecting to panel: %w", err)
	}
	defer conn.Close()
	if err := encMode.NewEncoder(conn).Encode(req); err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	var resp Response
	if err := decMode.NewDecoder(conn).Decode(&resp); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.Error != "" {
		return &resp, errors.New(resp.Error)
	}
	return &resp, nil
}

// Watch streams status responses to f until f returns false or the panel goes away
func Watch(path string, f func(*Response) bool) error {
	conn, err := net.Dial("unix", path)
	if err != nil {
		return fmt.Errorf("connecting to panel: %w", err)
	}
	defer conn.Close()
	if err := encMode.NewEncoder(conn).Encode(Request{Kind: RequestWatch}); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}
	dec := decMode.NewDecoder(conn)
	for {
		var resp Response
		if err := dec.Decode(&resp); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading update: %w", err)
		}
		if resp.Error != "" {
			return errors.New(resp.Error)
		}
		if !f(&resp) {
			return nil
		}
	}
}
