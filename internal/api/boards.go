package api

import (
	"context"
	"time"

	"github.com/tiercache/tiercache/internal/cache"
	"github.com/tiercache/tiercache/pkg/types"
)

const (
	boardNamespace = "board"
	boardTTL       = 10 * time.Minute
)

// Board is a workspace board on the platform.
type Board struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	WorkspaceID string `json:"workspaceId"`
}

// Boards wraps the platform's board operations behind the cache.
type Boards struct {
	client *Client
	cache  *cache.Service
	loader *cache.Loader
}

// NewBoards creates the board wrapper.
func NewBoards(client *Client, svc *cache.Service) *Boards {
	return &Boards{
		client: client,
		cache:  svc,
		loader: cache.NewLoader(svc),
	}
}

const boardQuery = `query Board($id: ID!) { board(id: $id) { id name workspaceId } }`

// Get returns a board, reading through the cache. Concurrent misses for the
// same board share one platform request. Board reads are also persisted so
// the last known state survives TTL expiry for offline rendering.
func (b *Boards) Get(ctx context.Context, id string) (*Board, error) {
	var payload struct {
		Board Board `json:"board"`
	}
	opts := &cache.SetOptions{TTL: boardTTL, Tier: types.TierSQLite, Persist: true}
	err := b.loader.GetOrLoad(ctx, boardNamespace, id, &payload, opts,
		func(ctx context.Context) (any, error) {
			var fetched struct {
				Board Board `json:"board"`
			}
			if err := b.client.Query(ctx, boardQuery, map[string]any{"id": id}, &fetched); err != nil {
				return nil, err
			}
			return fetched, nil
		})
	if err != nil {
		return nil, err
	}
	return &payload.Board, nil
}

const renameBoardMutation = `mutation RenameBoard($id: ID!, $name: String!) { renameBoard(id: $id, name: $name) { id } }`

// Rename renames a board. The cached board and everything derived from it
// are invalidated immediately; the platform write runs now when online and
// is queued for replay otherwise.
func (b *Boards) Rename(ctx context.Context, id, name string) error {
	if err := b.cache.InvalidatePattern(ctx, boardNamespace, id+"*"); err != nil {
		return err
	}

	b.cache.QueueOfflineOperation(func(ctx context.Context) error {
		return b.client.Query(ctx, renameBoardMutation,
			map[string]any{"id": id, "name": name}, nil)
	})
	return nil
}
