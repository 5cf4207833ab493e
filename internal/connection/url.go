package connection

import (
	"net"
	"net/url"
	"strconv"
)

// FeedPath is where the upstream serves its websocket.
const FeedPath = "/ws"

// FeedURL builds the feed endpoint, wss when secure and ws otherwise.
func FeedURL(host string, port int, secure bool) string {
	scheme := "ws"
	if secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, strconv.Itoa(port)),
		Path:   FeedPath,
	}
	return u.String()
}
