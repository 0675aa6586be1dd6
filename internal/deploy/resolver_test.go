package deploy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/simplesurance/deployd/internal/cfg"
	"github.com/simplesurance/deployd/internal/provider"
)

func TestResolve(t *testing.T) {
	type testcase struct {
		name      string
		query     string
		event     *provider.Event
		expected  string
		expectErr bool
		errIs     error
	}

	testcases := []testcase{
		{
			name:  "gitea push",
			query: cfg.DefRepositoryQuery,
			event: &provider.Event{
				Provider: provider.Gitea,
				Payload:  []byte(`{"ref":"refs/heads/main","repository":{"name":"webapp","full_name":"ops/webapp"}}`),
			},
			expected: "webapp",
		},
		{
			name:  "gitlab push",
			query: cfg.DefRepositoryQuery,
			event: &provider.Event{
				Provider: provider.GitLab,
				Payload:  []byte(`{"object_kind":"push","project":{"name":"api","path_with_namespace":"ops/api"}}`),
			},
			expected: "api",
		},
		{
			name:  "no repository field",
			query: cfg.DefRepositoryQuery,
			event: &provider.Event{
				Provider: provider.Generic,
				Payload:  []byte(`{"hello":"world"}`),
			},
			expectErr: true,
			errIs:     ErrNoRepositoryIdentifier,
		},
		{
			name:  "null repository name",
			query: `.repository.name`,
			event: &provider.Event{
				Provider: provider.Generic,
				Payload:  []byte(`{"repository":{}}`),
			},
			expectErr: true,
			errIs:     ErrNoRepositoryIdentifier,
		},
		{
			name:  "custom query",
			query: `.repo.id | tostring`,
			event: &provider.Event{
				Provider: provider.Generic,
				Payload:  []byte(`{"repo":{"id":42}}`),
			},
			expected: "42",
		},
		{
			name:  "non-string result",
			query: `.repo.id`,
			event: &provider.Event{
				Provider: provider.Generic,
				Payload:  []byte(`{"repo":{"id":42}}`),
			},
			expectErr: true,
		},
		{
			name:  "multiple results",
			query: `.repos[]`,
			event: &provider.Event{
				Provider: provider.Generic,
				Payload:  []byte(`{"repos":["a","b"]}`),
			},
			expectErr: true,
		},
		{
			name:  "invalid json",
			query: cfg.DefRepositoryQuery,
			event: &provider.Event{
				Provider: provider.Generic,
				Payload:  []byte(`{`),
			},
			expectErr: true,
		},
		{
			name:  "empty payload",
			query: cfg.DefRepositoryQuery,
			event: &provider.Event{
				Provider: provider.Generic,
			},
			expectErr: true,
			errIs:     ErrNoRepositoryIdentifier,
		},
		{
			name:  "github push",
			query: cfg.DefRepositoryQuery,
			event: &provider.Event{
				Provider:  provider.GitHub,
				EventType: "push",
				Payload:   []byte(`{"ref":"refs/heads/main","repository":{"name":"webapp","full_name":"acme/webapp"}}`),
			},
			expected: "webapp",
		},
		{
			name:  "github pull request is ignored",
			query: cfg.DefRepositoryQuery,
			event: &provider.Event{
				Provider:  provider.GitHub,
				EventType: "pull_request",
				Payload:   []byte(`{"action":"opened","number":1,"repository":{"name":"webapp"}}`),
			},
			expected: "",
		},
		{
			name:  "github unsupported event type",
			query: cfg.DefRepositoryQuery,
			event: &provider.Event{
				Provider:  provider.GitHub,
				EventType: "not_existing",
				Payload:   []byte(`{"repository":{"name":"webapp"}}`),
			},
			expectErr: true,
		},
	}

	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			resolver, err := NewResolver(tc.query)
			require.NoError(t, err)

			name, err := resolver.Resolve(context.Background(), tc.event)
			if tc.expectErr {
				assert.Error(t, err)
				if tc.errIs != nil {
					assert.ErrorIs(t, err, tc.errIs)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.expected, name)
		})
	}
}

func TestNewResolverInvalidQuery(t *testing.T) {
	_, err := NewResolver(".repository.name |||")
	assert.Error(t, err)
}
