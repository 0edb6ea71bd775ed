package engine

import (
	"github.com/gridlet-dev/gridlet/internal/application/apperrors"
	"github.com/gridlet-dev/gridlet/internal/domain/values"
)

// Contribution kinds, used in DuplicateContribution errors.
const (
	kindCommand        = "command"
	kindPanel          = "panel"
	kindCustomFunction = "customFunction"
	kindDataConnector  = "dataConnector"
	kindContextMenu    = "contextMenu"
)

// registries maps contribution ids to their owning extension. An id may be
// owned by at most one extension at a time; conflicts are business-rule
// violations surfaced as DuplicateContribution, checked atomically per id
// under the host lock.
type registries struct {
	commands        map[string]values.ExtensionID
	panels          map[string]values.ExtensionID
	customFunctions map[string]values.ExtensionID
	dataConnectors  map[string]values.ExtensionID
	contextMenus    map[string]values.ExtensionID
}

func newRegistries() *registries {
	return &registries{
		commands:        make(map[string]values.ExtensionID),
		panels:          make(map[string]values.ExtensionID),
		customFunctions: make(map[string]values.ExtensionID),
		dataConnectors:  make(map[string]values.ExtensionID),
		contextMenus:    make(map[string]values.ExtensionID),
	}
}

func (r *registries) table(kind string) map[string]values.ExtensionID {
	switch kind {
	case kindCommand:
		return r.commands
	case kindPanel:
		return r.panels
	case kindCustomFunction:
		return r.customFunctions
	case kindDataConnector:
		return r.dataConnectors
	case kindContextMenu:
		return r.contextMenus
	default:
		return nil
	}
}

// claim registers ownership of an id. Claiming an id the extension already
// owns is a no-op; an id owned by a different extension is rejected.
func (r *registries) claim(kind, id string, owner values.ExtensionID) error {
	t := r.table(kind)
	if existing, ok := t[id]; ok {
		if existing.Equals(owner) {
			return nil
		}
		return apperrors.NewDuplicateContributionError(kind, id, existing.String())
	}
	t[id] = owner
	return nil
}

// claimAll claims every id or none: on conflict, ids claimed so far by this
// call are rolled back so a failed load leaves no partial ownership.
func (r *registries) claimAll(kind string, ids []string, owner values.ExtensionID) error {
	var claimed []string
	for _, id := range ids {
		if err := r.claim(kind, id, owner); err != nil {
			for _, c := range claimed {
				delete(r.table(kind), c)
			}
			return err
		}
		claimed = append(claimed, id)
	}
	return nil
}

// claimSet pairs a contribution kind with the ids to claim under it.
type claimSet struct {
	kind string
	ids  []string
}

// claimSets claims every id across all sets or none: a conflict rolls back
// the failing set and releases every set claimed before it, so a failed load
// leaves no partial ownership in any registry.
func (r *registries) claimSets(sets []claimSet, owner values.ExtensionID) error {
	for i, s := range sets {
		if err := r.claimAll(s.kind, s.ids, owner); err != nil {
			for _, done := range sets[:i] {
				for _, id := range done.ids {
					r.release(done.kind, id, owner)
				}
			}
			return err
		}
	}
	return nil
}

// release drops ownership of id if owned by owner.
func (r *registries) release(kind, id string, owner values.ExtensionID) {
	t := r.table(kind)
	if existing, ok := t[id]; ok && existing.Equals(owner) {
		delete(t, id)
	}
}

// releaseOwned drops every id owned by the extension across all kinds.
func (r *registries) releaseOwned(owner values.ExtensionID) {
	for _, t := range []map[string]values.ExtensionID{r.commands, r.panels, r.customFunctions, r.dataConnectors, r.contextMenus} {
		for id, o := range t {
			if o.Equals(owner) {
				delete(t, id)
			}
		}
	}
}

// owner looks up the extension owning an id.
func (r *registries) owner(kind, id string) (values.ExtensionID, bool) {
	t := r.table(kind)
	o, ok := t[id]
	return o, ok
}

func (r *registries) clearAll() {
	clear(r.commands)
	clear(r.panels)
	clear(r.customFunctions)
	clear(r.dataConnectors)
	clear(r.contextMenus)
}
