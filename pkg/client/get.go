package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/Sternrassler/message-feed-client/pkg/casing"
	"github.com/rs/zerolog/log"
)

// Params are the query parameters of a GET call. Nil values are skipped,
// slices and arrays become repeated keys.
type Params map[string]any

// Values serializes the parameters into a query.
func (p Params) Values() url.Values {
	if len(p) == 0 {
		return nil
	}

	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make(url.Values, len(p))
	for _, k := range keys {
		v := p[k]
		if v == nil {
			continue
		}

		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Slice, reflect.Array:
			if _, isBytes := v.([]byte); isBytes {
				values.Add(k, string(v.([]byte)))
				continue
			}
			for i := 0; i < rv.Len(); i++ {
				values.Add(k, formatParam(rv.Index(i).Interface()))
			}
		case reflect.Pointer:
			if rv.IsNil() {
				continue
			}
			values.Add(k, formatParam(rv.Elem().Interface()))
		default:
			values.Add(k, formatParam(v))
		}
	}
	return values
}

func formatParam(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case bool:
		return strconv.FormatBool(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprint(val)
	}
}

// Request is a GET call in flight. Its outcome is available once Done is
// closed; Cancel aborts it while pending and is a no-op afterwards.
type Request[T any] struct {
	done   chan struct{}
	cancel context.CancelFunc
	data   T
	err    *Error
}

// Start issues a GET for path and returns immediately. The response body
// keys are normalized to camelCase before decoding into T.
func Start[T any](ctx context.Context, c *Client, path string, params Params) *Request[T] {
	ctx, cancel := context.WithCancel(ctx)
	r := &Request[T]{
		done:   make(chan struct{}),
		cancel: cancel,
	}

	go func() {
		defer close(r.done)
		defer cancel()
		r.data, r.err = fetch[T](ctx, c, path, params)
	}()

	return r
}

// Cancel aborts the request if it is still pending.
func (r *Request[T]) Cancel() {
	r.cancel()
}

// Done is closed when the outcome is available.
func (r *Request[T]) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the request completes. If ctx ends first the request
// is canceled and its (canceled) outcome returned.
func (r *Request[T]) Wait(ctx context.Context) (T, *Error, context.CancelFunc) {
	select {
	case <-r.done:
	case <-ctx.Done():
		r.cancel()
		<-r.done
	}
	return r.data, r.err, r.cancel
}

// Get performs a GET for path and returns exactly one of a decoded value or
// an *Error, together with the request's cancel function. It never panics.
//
// A JSON null or empty body decodes to the zero T without an error; for a
// pointer T the caller therefore sees neither data nor error.
func Get[T any](ctx context.Context, c *Client, path string, params Params) (T, *Error, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	data, err := fetch[T](ctx, c, path, params)
	return data, err, cancel
}

func fetch[T any](ctx context.Context, c *Client, path string, params Params) (data T, ferr *Error) {
	var zero T

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("path", path).Msg("GET helper recovered from panic")
			data = zero
			ferr = &Error{Message: fmt.Sprint(r)}
		}
	}()

	if c == nil {
		return zero, &Error{
			Code:       CodeBadRequest,
			Message:    "nil client",
			ErrorClass: ErrorClassClient,
		}
	}

	req, err := c.NewRequest(ctx, path, params.Values())
	if err != nil {
		return zero, &Error{
			Code:       CodeBadRequest,
			Message:    err.Error(),
			ErrorClass: ErrorClassClient,
			Err:        err,
		}
	}

	resp, err := c.Do(req)
	if err != nil {
		return zero, AsError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return zero, AsError(ctx.Err())
		}
		return zero, AsError(err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return zero, statusError(resp, errorMessage(body))
	}

	normalized, err := casing.JSON(body)
	if err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("Response body is not JSON")
		return zero, &Error{
			Code:       CodeDecode,
			Message:    "malformed response body",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}

	if err := json.Unmarshal(normalized, &data); err != nil {
		c.logger.Debug().Err(err).Str("path", path).Msg("Response body does not match model")
		return zero, &Error{
			Code:       CodeDecode,
			Message:    "unexpected response shape",
			StatusCode: resp.StatusCode,
			Err:        err,
		}
	}

	return data, nil
}

// errorMessage extracts a human readable message from an error body.
func errorMessage(body []byte) string {
	normalized, err := casing.JSON(body)
	if err != nil {
		return ""
	}

	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(normalized, &payload); err != nil {
		return ""
	}
	if payload.Message != "" {
		return payload.Message
	}
	return payload.Error
}
