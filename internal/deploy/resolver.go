package deploy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/go-github/v43/github"
	"github.com/itchyny/gojq"

	"github.com/simplesurance/deployd/internal/provider"
)

// Resolver determines the name of the repository that a webhook event
// refers to.
type Resolver struct {
	query *gojq.Query
}

// NewResolver returns a resolver that evaluates jqQuery on the JSON payload
// of events that are not sent by GitHub.
// The query must evaluate to a string or to no result.
func NewResolver(jqQuery string) (*Resolver, error) {
	query, err := gojq.Parse(jqQuery)
	if err != nil {
		return nil, fmt.Errorf("parsing repository query failed: %w", err)
	}

	return &Resolver{query: query}, nil
}

func goJQIterToSlice(iter gojq.Iter) ([]any, []error) {
	var result []any
	var errs []error

	for {
		res, ok := iter.Next()
		if !ok {
			return result, errs
		}

		if err, isErr := res.(error); isErr {
			errs = append(errs, err)
			continue
		}

		result = append(result, res)
	}
}

func errString(errs []error) string {
	var result strings.Builder

	for i, err := range errs {
		if i > 0 {
			result.WriteString("; ")
		}

		result.WriteString(fmt.Sprintf("error %d: %s", i, err))
	}

	return result.String()
}

// Resolve returns the repository name of the event.
// An empty string is returned if the event is about something else than a
// repository push.
// ErrNoRepositoryIdentifier is returned when the payload is empty or the
// query finds no value in it.
//
// GitHub events are parsed with go-github, only push events refer to a
// repository.
func (r *Resolver) Resolve(ctx context.Context, ev *provider.Event) (string, error) {
	if len(ev.Payload) == 0 {
		return "", ErrNoRepositoryIdentifier
	}

	if ev.Provider == provider.GitHub && ev.EventType != "" {
		return resolveGitHub(ev)
	}

	var evUn any
	if err := json.Unmarshal(ev.Payload, &evUn); err != nil {
		return "", fmt.Errorf("unmarshaling json failed: %w", err)
	}

	result, errs := goJQIterToSlice(r.query.RunWithContext(ctx, evUn))
	if len(errs) != 0 {
		return "", fmt.Errorf("json query returned errors, query: %q, errors: %s", r.query.String(), errString(errs))
	}

	switch len(result) {
	case 0:
		return "", ErrNoRepositoryIdentifier
	case 1:
	default:
		return "", fmt.Errorf("json query returned multiple results, expected 1, query: %q, result: '%+v'", r.query.String(), result)
	}

	switch val := result[0].(type) {
	case nil:
		return "", ErrNoRepositoryIdentifier
	case string:
		return val, nil
	default:
		return "", fmt.Errorf(
			"json query returned non-string result: %+v (%T), query: %q",
			val, val, r.query.String(),
		)
	}
}

func resolveGitHub(ev *provider.Event) (string, error) {
	event, err := github.ParseWebHook(ev.EventType, ev.Payload)
	if err != nil {
		return "", fmt.Errorf("parsing github %s event failed: %w", ev.EventType, err)
	}

	switch event := event.(type) {
	case *github.PushEvent:
		return event.GetRepo().GetName(), nil
	default:
		return "", nil
	}
}
