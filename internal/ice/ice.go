// Package ice discovers the ICE servers used for new peer connections.
package ice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/1ureka/duet/internal/util"
)

// FallbackServers are used whenever no TURN credentials can be obtained.
var FallbackServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
}

const fetchTimeout = 5 * time.Second

// Fetcher retrieves ICE servers from a TURN credential endpoint.
type Fetcher struct {
	URL    string
	Token  string // optional bearer token
	Client *http.Client
}

// Servers returns the ICE servers to use. It never fails: an unset URL or
// any fetch or decode error yields FallbackServers.
func (f *Fetcher) Servers(ctx context.Context) []webrtc.ICEServer {
	if f == nil || f.URL == "" {
		return fallback()
	}

	servers, err := f.fetch(ctx)
	if err != nil {
		util.LogWarning("TURN credentials unavailable, using public STUN: %v", err)
		return fallback()
	}
	if len(servers) == 0 {
		util.LogWarning("TURN endpoint returned no servers, using public STUN")
		return fallback()
	}
	util.LogDebug("Fetched %d ICE server entries", len(servers))
	return servers
}

func (f *Fetcher) fetch(ctx context.Context) ([]webrtc.ICEServer, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if f.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.Token)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	return Parse(body)
}

// entry is one ICE server as returned by most TURN providers. urls may be a
// string or an array of strings.
type entry struct {
	URLs       urlList `json:"urls"`
	Username   string  `json:"username"`
	Credential string  `json:"credential"`
}

// Credentials is the time-limited credential form: one username/password
// pair valid for every listed URI.
type Credentials struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	URIs     []string `json:"uris"`
	TTL      int      `json:"ttl"`
}

type urlList []string

func (u *urlList) UnmarshalJSON(data []byte) error {
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*u = urlList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return errors.New("urls must be a string or an array of strings")
	}
	*u = many
	return nil
}

// Parse decodes either a JSON array of {urls, username, credential} entries
// or a single Credentials object.
func Parse(body []byte) ([]webrtc.ICEServer, error) {
	var entries []entry
	if err := json.Unmarshal(body, &entries); err == nil {
		servers := make([]webrtc.ICEServer, 0, len(entries))
		for _, e := range entries {
			if len(e.URLs) == 0 {
				continue
			}
			servers = append(servers, webrtc.ICEServer{
				URLs:       e.URLs,
				Username:   e.Username,
				Credential: e.Credential,
			})
		}
		return servers, nil
	}

	var creds Credentials
	if err := json.Unmarshal(body, &creds); err != nil {
		return nil, fmt.Errorf("decode ICE servers: %w", err)
	}
	return ServersFromCredentials(&creds), nil
}

// ServersFromCredentials converts a Credentials object. A nil or empty value
// yields no servers.
func ServersFromCredentials(c *Credentials) []webrtc.ICEServer {
	if c == nil || len(c.URIs) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{
		URLs:       c.URIs,
		Username:   c.Username,
		Credential: c.Password,
	}}
}

func fallback() []webrtc.ICEServer {
	out := make([]webrtc.ICEServer, len(FallbackServers))
	copy(out, FallbackServers)
	return out
}
