package contracts_test

import (
	"github.com/deepdive-ai/deepdive/internal/provider"
	"github.com/deepdive-ai/deepdive/internal/search"
	"github.com/deepdive-ai/deepdive/internal/store"
	"github.com/deepdive-ai/deepdive/pkg/contracts"
)

// The concrete pipeline pieces must keep satisfying the exported seams an
// embedding application programs against. Broken satisfaction is a compile
// error here rather than a surprise downstream.
var (
	_ contracts.Generator = (*provider.Dispatcher)(nil)
	_ contracts.Generator = (*provider.GeminiExecutor)(nil)
	_ contracts.Generator = (*provider.OpenRouterExecutor)(nil)
	_ contracts.Searcher  = (*search.Aggregator)(nil)
	_ contracts.Store     = (*store.MemoryStore)(nil)
	_ contracts.Store     = (*store.PostgresStore)(nil)
)
