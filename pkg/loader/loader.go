// Package loader resolves the widget's embedding reference: the URL the loader script was
// fetched from. It carries the project identifier as a query parameter and its origin is the
// backend the widget talks to.
package loader

import (
	"net/url"
	"strings"

	"github.com/pkg/errors"
)

// ProjectIDParam is the loader query parameter naming the tenant project.
const ProjectIDParam = "project_id"

var (
	ErrMissingProjectID = errors.New("loader: project_id is missing")
	ErrInvalidLoaderURL = errors.New("loader: invalid loader url")
)

// Ref is a parsed loader reference.
type Ref struct {
	ProjectID string
	// Origin is scheme://host[:port] of the loader URL.
	Origin *url.URL
}

// Parse validates a loader URL such as https://support.example.com/static/chat-widget.js?project_id=7.
// A missing project id is a configuration error and the widget must not start.
func Parse(raw string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, errors.Wrap(ErrInvalidLoaderURL, "empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Ref{}, errors.Wrap(ErrInvalidLoaderURL, err.Error())
	}
	switch u.Scheme {
	case "http", "https", "ws", "wss":
	default:
		return Ref{}, errors.Wrapf(ErrInvalidLoaderURL, "unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return Ref{}, errors.Wrap(ErrInvalidLoaderURL, "missing host")
	}
	projectID := strings.TrimSpace(u.Query().Get(ProjectIDParam))
	if projectID == "" {
		return Ref{}, ErrMissingProjectID
	}
	return Ref{
		ProjectID: projectID,
		Origin:    &url.URL{Scheme: u.Scheme, Host: u.Host},
	}, nil
}

// Endpoint maps the loader origin onto the websocket endpoint served at path. Query
// parameters embedded in path are kept.
func (r Ref) Endpoint(path string) (string, error) {
	if r.Origin == nil {
		return "", errors.Wrap(ErrInvalidLoaderURL, "missing origin")
	}
	scheme := r.Origin.Scheme
	switch scheme {
	case "http":
		scheme = "ws"
	case "https":
		scheme = "wss"
	}
	rel, err := url.Parse(path)
	if err != nil {
		return "", errors.Wrap(err, "parse endpoint path")
	}
	u := url.URL{Scheme: scheme, Host: r.Origin.Host, Path: rel.Path, RawQuery: rel.RawQuery}
	return u.String(), nil
}
