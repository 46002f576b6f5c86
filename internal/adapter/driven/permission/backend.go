package permission

import (
	"fmt"

	"github.com/ericfisherdev/streamlink/internal/domain/port/driven"
)

// Backend names accepted by New.
const (
	NameGroups      = "groups"
	NameAttachments = "attachments"
)

// New selects the backend by name. store is only used by the group backend.
func New(name string, store driven.GroupStore) (driven.PermissionBackend, error) {
	switch name {
	case NameGroups:
		if store == nil {
			return nil, fmt.Errorf("permission backend %q needs a group store", name)
		}
		return NewGroupBackend(store), nil
	case NameAttachments:
		return NewAttachmentBackend(DefaultNodeSets), nil
	default:
		return nil, fmt.Errorf("unknown permission backend %q", name)
	}
}
