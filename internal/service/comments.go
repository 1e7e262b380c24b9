package service

import (
	"context"
	"time"

	"github.com/localhub/internal/event"
	"github.com/localhub/internal/logger"
	"github.com/localhub/internal/model"
	"github.com/localhub/internal/room"
)

// Comments deletes comment subtrees of posts.
type Comments struct {
	store   CommentStore
	bus     EventBroadcaster
	janitor *blobJanitor
}

func NewComments(store CommentStore, blobs BlobStore, media MediaIndex, bus EventBroadcaster) *Comments {
	return &Comments{store: store, bus: bus, janitor: &blobJanitor{blobs: blobs, index: media}}
}

// Wait blocks until background blob deletions finish.
func (c *Comments) Wait() { c.janitor.wait() }

// Delete removes the comment and every reply below it. Only the author of the root may delete.
// It returns the ids removed, root first.
func (c *Comments) Delete(ctx context.Context, requester model.ParticipantRef, commentID int64) ([]int64, error) {
	defer logger.DeferLogDuration("comments.Delete", time.Now())()
	if commentID <= 0 {
		return nil, invalid("comment id %d", commentID)
	}
	root, postID, err := c.store.Get(ctx, commentID)
	if err != nil {
		return nil, storeErr("comments.Delete", err)
	}
	if requester != model.User(root.AuthorID) {
		return nil, ErrUnauthorized
	}
	nodes, err := c.store.Nodes(ctx, postID)
	if err != nil {
		return nil, storeErr("comments.Delete nodes", err)
	}
	levels := collectDescendants(nodes, root.ID)
	media, err := c.store.DeleteTree(ctx, levels)
	if err != nil {
		return nil, storeErr("comments.Delete tree", err)
	}
	c.janitor.remove(media)

	ids := flatten(levels)
	c.bus.EmitToRoom(room.PostRoom(postID), event.New(event.CommentDeleted, event.CommentDeletedPayload{
		PostID:     postID,
		CommentIDs: ids,
	}))
	return ids, nil
}

// collectDescendants walks the parent_id adjacency list breadth-first from rootID and returns
// the subtree grouped by depth: levels[0] is the root, levels[i+1] the children of levels[i].
// Each id appears once even if the edges contain a cycle.
func collectDescendants(nodes []model.CommentNode, rootID int64) [][]int64 {
	children := make(map[int64][]int64, len(nodes))
	for _, n := range nodes {
		if n.ParentID != nil {
			children[*n.ParentID] = append(children[*n.ParentID], n.ID)
		}
	}
	visited := map[int64]struct{}{rootID: {}}
	levels := [][]int64{{rootID}}
	for frontier := levels[0]; len(frontier) > 0; {
		var next []int64
		for _, id := range frontier {
			for _, child := range children[id] {
				if _, seen := visited[child]; seen {
					continue
				}
				visited[child] = struct{}{}
				next = append(next, child)
			}
		}
		if len(next) == 0 {
			break
		}
		levels = append(levels, next)
		frontier = next
	}
	return levels
}

func flatten(levels [][]int64) []int64 {
	var out []int64
	for _, lvl := range levels {
		out = append(out, lvl...)
	}
	return out
}
