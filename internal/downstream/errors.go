package downstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/baechuer/activity-sync/internal/domain"
)

// problem is the error body shape the API returns (ASP.NET problem details
// plus the custom {"errors": ...} middleware).
type problem struct {
	Title   string              `json:"title"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

// expiredTokenMarker is what the API's JWT bearer handler writes into
// WWW-Authenticate when the token is past its exp.
const expiredTokenMarker = `The token expired`

func mapTransportError(op string, err error) *domain.Error {
	msg := "network error - ensure that the API is running"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "timeout"
	}
	return &domain.Error{Kind: domain.KindNetworkUnreachable, Op: op, Message: msg, Err: err}
}

func mapStatus(op, method string, resp *http.Response, raw []byte) *domain.Error {
	var p problem
	_ = json.Unmarshal(raw, &p)

	msg := p.Message
	if msg == "" {
		msg = p.Title
	}
	if msg == "" {
		msg = fmt.Sprintf("unexpected status: %d", resp.StatusCode)
	}

	e := &domain.Error{Op: op, Status: resp.StatusCode, Message: msg}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		e.Kind = domain.KindUnauthorized
		challenge := resp.Header.Get("WWW-Authenticate")
		e.TokenExpired = strings.Contains(challenge, `invalid_token`) && strings.Contains(challenge, expiredTokenMarker)
	case resp.StatusCode == http.StatusForbidden:
		e.Kind = domain.KindUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		e.Kind = domain.KindNotFound
	case resp.StatusCode == http.StatusBadRequest:
		if method == http.MethodGet && hasField(p.Errors, "id") {
			// A malformed id on a read is a missing resource from the user's view.
			e.Kind = domain.KindNotFound
			return e
		}
		e.Kind = domain.KindValidation
		e.Fields = p.Errors
	case resp.StatusCode >= 500:
		e.Kind = domain.KindServerFault
	default:
		e.Kind = domain.KindValidation
		e.Fields = p.Errors
	}
	return e
}

func hasField(fields map[string][]string, name string) bool {
	for k := range fields {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
