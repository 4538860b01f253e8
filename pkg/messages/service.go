package messages

import (
	"context"

	"github.com/Sternrassler/message-feed-client/pkg/client"
	"github.com/Sternrassler/message-feed-client/pkg/fetchstate"
)

// DefaultSamplePath is the endpoint listing the sample feed.
const DefaultSamplePath = "/messages/sample"

// PageSource fetches one page of messages starting at offset.
//
// Implementations return exactly one of a page or an error in the normal
// case. A (nil, nil) result means the server answered without a body; the
// loader retries it.
type PageSource interface {
	SampleItems(ctx context.Context, offset int) (*fetchstate.Page[Message], *client.Error, context.CancelFunc)
}

// Service is the message API accessor.
type Service struct {
	client   *client.Client
	path     string
	pageSize int
}

// NewService creates a Service reading from the default sample endpoint.
func NewService(c *client.Client) *Service {
	return &Service{
		client:   c,
		path:     DefaultSamplePath,
		pageSize: PageSize,
	}
}

// WithPath returns a copy of s reading from path.
func (s *Service) WithPath(path string) *Service {
	cp := *s
	cp.path = path
	return &cp
}

// WithPageSize returns a copy of s requesting n items per page.
func (s *Service) WithPageSize(n int) *Service {
	cp := *s
	if n > 0 {
		cp.pageSize = n
	}
	return &cp
}

// SampleItems fetches the page of the sample feed that starts at offset.
func (s *Service) SampleItems(ctx context.Context, offset int) (*fetchstate.Page[Message], *client.Error, context.CancelFunc) {
	return client.Get[*fetchstate.Page[Message]](ctx, s.client, s.path, client.Params{
		"offset": offset,
		"limit":  s.pageSize,
	})
}
