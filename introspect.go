package tchannel

import (
	"encoding/json"
	"net"
	"sort"

	"github.com/valyala/fasthttp"
)

// ChannelState is a point-in-time snapshot of the channel for debugging.
type ChannelState struct {
	HostPort    string      `json:"hostPort"`
	ProcessName string      `json:"processName"`
	Destroyed   bool        `json:"destroyed"`
	Endpoints   []string    `json:"endpoints"`
	Peers       []PeerState `json:"peers"`
}

// PeerState is one peer table entry, connections in preference order.
type PeerState struct {
	HostPort    string            `json:"hostPort"`
	Connections []ConnectionState `json:"connections"`
}

// ConnectionState summarizes one live connection.
type ConnectionState struct {
	Direction  string `json:"direction"`
	RemoteAddr string `json:"remoteAddr"`
	RemoteName string `json:"remoteName,omitempty"`
	Identified bool   `json:"identified"`
	Closing    bool   `json:"closing"`
	InOps      int    `json:"inOps"`
	OutOps     int    `json:"outOps"`
}

// IntrospectState snapshots the peer table, endpoint registry and
// per-connection operation counts.
func (ch *Channel) IntrospectState() *ChannelState {
	ch.mu.Lock()

	state := &ChannelState{
		HostPort:    ch.opts.HostPort,
		ProcessName: ch.opts.ProcessName,
		Destroyed:   ch.destroyed,
	}

	for name := range ch.endpoints {
		state.Endpoints = append(state.Endpoints, name)
	}
	sort.Strings(state.Endpoints)

	hosts := make([]string, 0, len(ch.peers))
	for host := range ch.peers {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)

	peers := make(map[string][]*Connection, len(hosts))
	for _, host := range hosts {
		peers[host] = append([]*Connection(nil), ch.peers[host].conns...)
	}
	ch.mu.Unlock()

	for _, host := range hosts {
		ps := PeerState{HostPort: host}
		for _, c := range peers[host] {
			c.mu.Lock()
			ps.Connections = append(ps.Connections, ConnectionState{
				Direction:  c.direction.String(),
				RemoteAddr: c.remoteAddr,
				RemoteName: c.remoteName,
				Identified: c.identified,
				Closing:    c.closing,
				InOps:      len(c.inOps),
				OutOps:     len(c.outOps),
			})
			c.mu.Unlock()
		}

		state.Peers = append(state.Peers, ps)
	}

	return state
}

// IntrospectionHandler serves the snapshot as JSON.
func (ch *Channel) IntrospectionHandler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		body, err := json.Marshal(ch.IntrospectState())
		if err != nil {
			ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
			return
		}

		ctx.SetContentType("application/json")
		ctx.SetBody(body)
	}
}

// ServeIntrospection serves the debug endpoint on ln until it closes.
func (ch *Channel) ServeIntrospection(ln net.Listener) error {
	return fasthttp.Serve(ln, ch.IntrospectionHandler())
}
