package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/launchwatch/engine/internal/store"
)

const recentTokensQuery = `query RecentTokens($chainId: Int!, $first: Int!) {
  tokens(where: {chainId: $chainId}, first: $first, orderBy: createdAt, orderDirection: desc) {
    id
    name
    symbol
    createdAt
    creator { id twitter farcasterUsername }
    feeRecipient { id twitter farcasterUsername }
  }
}`

// GraphQLSource reads recent tokens from the indexer.
type GraphQLSource struct {
	endpoint string
	first    int
	doer     *HTTPDoer
}

func NewGraphQLSource(endpoint string, doer *HTTPDoer) *GraphQLSource {
	return &GraphQLSource{
		endpoint: strings.TrimSpace(endpoint),
		first:    DefaultPageSize,
		doer:     doer,
	}
}

func (s *GraphQLSource) Name() string { return SourceGraphQL }

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Data struct {
		Tokens []graphqlToken `json:"tokens"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (s *GraphQLSource) Fetch(ctx context.Context, networkScope int) ([]store.Item, error) {
	req := graphqlRequest{
		Query:     recentTokensQuery,
		Variables: map[string]any{"chainId": networkScope, "first": s.first},
	}
	var resp graphqlResponse
	if err := s.doer.postJSON(ctx, s.endpoint, nil, req, &resp); err != nil {
		return nil, fmt.Errorf("graphql fetch: %w", err)
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, fmt.Errorf("graphql fetch: %s", strings.Join(msgs, "; "))
	}

	items := make([]store.Item, 0, len(resp.Data.Tokens))
	for _, tok := range resp.Data.Tokens {
		item, err := mapGraphQLToken(tok, networkScope)
		if err != nil {
			slog.Debug("graphql_token_skipped", "error", err)
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, ErrNoItems
	}
	return items, nil
}
