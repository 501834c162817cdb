package api

import (
	"context"
	"time"

	"github.com/tiercache/tiercache/internal/cache"
)

const (
	itemNamespace = "item"
	itemTTL       = 2 * time.Minute
)

// Item is a work item on a board.
type Item struct {
	ID      string `json:"id"`
	BoardID string `json:"boardId"`
	Name    string `json:"name"`
	Status  string `json:"status"`
}

// Items wraps the platform's item operations behind the cache. Items change
// more often than boards, so they get a shorter TTL and no persistence.
type Items struct {
	client *Client
	cache  *cache.Service
	loader *cache.Loader
}

// NewItems creates the item wrapper.
func NewItems(client *Client, svc *cache.Service) *Items {
	return &Items{
		client: client,
		cache:  svc,
		loader: cache.NewLoader(svc),
	}
}

const boardItemsQuery = `query BoardItems($boardId: ID!) { items(boardId: $boardId) { id boardId name status } }`

// ListForBoard returns the items on a board, reading through the cache.
func (i *Items) ListForBoard(ctx context.Context, boardID string) ([]Item, error) {
	var payload struct {
		Items []Item `json:"items"`
	}
	opts := &cache.SetOptions{TTL: itemTTL}
	err := i.loader.GetOrLoad(ctx, itemNamespace, "board-"+boardID, &payload, opts,
		func(ctx context.Context) (any, error) {
			var fetched struct {
				Items []Item `json:"items"`
			}
			if err := i.client.Query(ctx, boardItemsQuery, map[string]any{"boardId": boardID}, &fetched); err != nil {
				return nil, err
			}
			return fetched, nil
		})
	if err != nil {
		return nil, err
	}
	return payload.Items, nil
}

const moveItemMutation = `mutation MoveItem($id: ID!, $status: String!) { moveItem(id: $id, status: $status) { id } }`

// Move updates an item's status. Every cached listing for the item's board
// is invalidated; the platform write runs now when online and is queued
// otherwise.
func (i *Items) Move(ctx context.Context, boardID, itemID, status string) error {
	if err := i.cache.InvalidatePattern(ctx, itemNamespace, "board-"+boardID+"*"); err != nil {
		return err
	}

	i.cache.QueueOfflineOperation(func(ctx context.Context) error {
		return i.client.Query(ctx, moveItemMutation,
			map[string]any{"id": itemID, "status": status}, nil)
	})
	return nil
}
