package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"loomspace.org/internal/access"
	"loomspace.org/internal/authn"
	"loomspace.org/internal/session"
)

var allKinds = []session.Kind{session.KindInteractive, session.KindDevice, session.KindService}

type effectiveResponse struct {
	CanView  bool   `json:"can_view"`
	CanEdit  bool   `json:"can_edit"`
	CanShare bool   `json:"can_share"`
	Reason   string `json:"reason"`
}

func toEffectiveResponse(e access.Effective) effectiveResponse {
	return effectiveResponse{
		CanView:  e.CanView,
		CanEdit:  e.CanEdit,
		CanShare: e.CanShare,
		Reason:   string(e.Reason),
	}
}

// handleNodeAccess resolves the calling actor's effective permission on one
// node.
func (a *API) handleNodeAccess(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.authenticate(w, r, authn.Options{Allow: allKinds})
	if !ok {
		return
	}
	nodeID := r.PathValue("id")

	eff, err := a.resolver.Resolve(r.Context(), actor.ID, nodeID)
	if err != nil {
		switch {
		case errors.Is(err, access.ErrNodeNotFound):
			writeError(w, r, http.StatusNotFound, "node not found")
		default:
			writeError(w, r, http.StatusInternalServerError, "resolution failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, toEffectiveResponse(eff))
}

type treeNodeResponse struct {
	NodeID    string              `json:"node_id"`
	ParentID  *string             `json:"parent_id,omitempty"`
	Position  int                 `json:"position"`
	Grant     *effectiveResponse  `json:"grant,omitempty"`
	Effective effectiveResponse   `json:"effective"`
	Children  []*treeNodeResponse `json:"children,omitempty"`
}

func toTreeResponse(nodes []*access.TreeNode) []*treeNodeResponse {
	out := make([]*treeNodeResponse, 0, len(nodes))
	for _, n := range nodes {
		tn := &treeNodeResponse{
			NodeID:    n.Node.ID,
			ParentID:  n.Node.ParentID,
			Position:  n.Node.Position,
			Effective: toEffectiveResponse(n.Effective),
			Children:  toTreeResponse(n.Children),
		}
		if n.Grant != nil {
			tn.Grant = &effectiveResponse{
				CanView:  n.Grant.CanView,
				CanEdit:  n.Grant.CanEdit,
				CanShare: n.Grant.CanShare,
				Reason:   string(access.ReasonGrant),
			}
		}
		out = append(out, tn)
	}
	return out
}

// handleAccessTree serves the bulk share-settings view: the drive's full
// permission tree for one target user. Only the drive owner, a drive admin or
// a platform administrator may look at someone else's tree.
func (a *API) handleAccessTree(w http.ResponseWriter, r *http.Request) {
	actor, ok := a.authenticate(w, r, authn.Options{Allow: allKinds})
	if !ok {
		return
	}
	driveID := r.PathValue("id")

	target := strings.TrimSpace(r.URL.Query().Get("user"))
	if target == "" {
		target = actor.ID
	}
	if target != actor.ID && actor.Role != authn.RoleAdmin {
		driveEff, err := a.resolver.DriveAccess(r.Context(), driveID, actor.ID)
		if err != nil {
			if errors.Is(err, access.ErrDriveNotFound) {
				writeError(w, r, http.StatusNotFound, "drive not found")
				return
			}
			writeError(w, r, http.StatusInternalServerError, "resolution failed")
			return
		}
		if !driveEff.CanShare {
			writeError(w, r, http.StatusForbidden, "insufficient permission")
			return
		}
	}

	tree, err := a.resolver.BuildTree(r.Context(), driveID, target)
	if err != nil {
		switch {
		case errors.Is(err, access.ErrDriveNotFound):
			writeError(w, r, http.StatusNotFound, "drive not found")
		default:
			writeError(w, r, http.StatusInternalServerError, "resolution failed")
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"drive_id": driveID,
		"user_id":  target,
		"tree":     toTreeResponse(tree),
	})
}
