package permission

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/ericfisherdev/streamlink/internal/domain/model"
	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PermissionBackend = (*AttachmentBackend)(nil)

// NodeSets lists the permission nodes granted per rank and while live.
type NodeSets struct {
	Partner   []string
	Affiliate []string
	Viewer    []string
	Live      []string
}

// DefaultNodeSets are used when no node sets are supplied.
var DefaultNodeSets = NodeSets{
	Partner:   []string{"streamlink.basic", "streamlink.viewer", "streamlink.affiliate", "streamlink.partner"},
	Affiliate: []string{"streamlink.basic", "streamlink.viewer", "streamlink.affiliate"},
	Viewer:    []string{"streamlink.basic", "streamlink.viewer"},
	Live:      []string{"streamlink.live", "streamlink.notifications", "streamlink.interact", "streamlink.alert"},
}

func (n NodeSets) forRank(rank model.Rank) []string {
	switch rank {
	case model.RankPartner:
		return n.Partner
	case model.RankAffiliate:
		return n.Affiliate
	default:
		return n.Viewer
	}
}

// attachment is the session-scoped permission state of one identity.
type attachment struct {
	rank []string
	live bool
}

// AttachmentBackend grants permission nodes held in memory for the lifetime
// of a session. Nodes granted by rank and by live status are tracked apart,
// so removing live nodes never strips a node the rank also grants.
type AttachmentBackend struct {
	nodes NodeSets

	mu          sync.RWMutex
	attachments map[uuid.UUID]*attachment
}

// NewAttachmentBackend creates an AttachmentBackend with nodes.
func NewAttachmentBackend(nodes NodeSets) *AttachmentBackend {
	return &AttachmentBackend{
		nodes:       nodes,
		attachments: make(map[uuid.UUID]*attachment),
	}
}

func (b *AttachmentBackend) attachmentFor(localID uuid.UUID) *attachment {
	a, ok := b.attachments[localID]
	if !ok {
		a = &attachment{}
		b.attachments[localID] = a
	}
	return a
}

// ApplyRank replaces the rank nodes.
func (b *AttachmentBackend) ApplyRank(_ context.Context, localID uuid.UUID, rank model.Rank) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attachmentFor(localID).rank = slices.Clone(b.nodes.forRank(rank))
	slog.Debug("rank nodes attached", "local_id", localID, "rank", rank)
	return nil
}

// ApplyLivePermissions attaches the live nodes.
func (b *AttachmentBackend) ApplyLivePermissions(_ context.Context, localID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.attachmentFor(localID).live = true
	return nil
}

// RemoveLivePermissions detaches the live nodes.
func (b *AttachmentBackend) RemoveLivePermissions(_ context.Context, localID uuid.UUID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if a, ok := b.attachments[localID]; ok {
		a.live = false
	}
	return nil
}

// Revoke drops everything attached to localID.
func (b *AttachmentBackend) Revoke(_ context.Context, localID uuid.UUID) error {
	b.Cleanup(localID)
	return nil
}

// Cleanup drops the session attachment for localID.
func (b *AttachmentBackend) Cleanup(localID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.attachments, localID)
}

// Nodes returns the effective nodes for localID, sorted and deduplicated.
func (b *AttachmentBackend) Nodes(localID uuid.UUID) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	a, ok := b.attachments[localID]
	if !ok {
		return nil
	}

	nodes := slices.Clone(a.rank)
	if a.live {
		nodes = append(nodes, b.nodes.Live...)
	}
	slices.Sort(nodes)
	return slices.Compact(nodes)
}

// Has reports whether localID currently holds node.
func (b *AttachmentBackend) Has(localID uuid.UUID, node string) bool {
	return slices.Contains(b.Nodes(localID), node)
}
