package raft

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/rshen/toyraft/internal/transport"
)

// httpPeer calls another replica's /vote/ and /append_entries/ endpoints.
type httpPeer struct {
	id     int
	addr   string
	client *transport.Client
}

// NewHTTPPeer returns a Peer that reaches another replica over HTTP at
// addr (host:port of that replica's raft listener).
func NewHTTPPeer(id int, addr string, client *transport.Client) Peer {
	return &httpPeer{id: id, addr: addr, client: client}
}

func (p *httpPeer) ID() int { return p.id }

func (p *httpPeer) RequestVote(ctx context.Context, args *RequestVoteArgs) (*RequestVoteReply, error) {
	var reply RequestVoteReply
	if _, err := p.client.PostJSON(ctx, fmt.Sprintf("http://%s/vote/", p.addr), "", args, &reply); err != nil {
		return nil, errors.Wrap(err, "raft: RequestVote RPC")
	}
	return &reply, nil
}

func (p *httpPeer) AppendEntries(ctx context.Context, args *AppendEntriesArgs) (*AppendEntriesReply, error) {
	var reply AppendEntriesReply
	if _, err := p.client.PostJSON(ctx, fmt.Sprintf("http://%s/append_entries/", p.addr), "", args, &reply); err != nil {
		return nil, errors.Wrap(err, "raft: AppendEntries RPC")
	}
	return &reply, nil
}
