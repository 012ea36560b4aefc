package funds

import (
	"context"

	"bx-funddesk/internal/types"
)

// authorizeActor is the role/ownership gate for admin fund actions. It is
// called with the Tx of the mutation itself so that a management
// reassignment committed between a pre-check and the commit cannot slip
// through.
func authorizeActor(ctx context.Context, tx Tx, actor AdminActor, ownerUserID string) error {
	switch actor.Role {
	case types.AdminRoleSuperAdmin:
		return nil
	case types.AdminRoleModerator:
		return &AuthorizationError{ActorID: actor.ID, Reason: "moderators cannot move funds"}
	case types.AdminRoleAdmin:
		managerID, err := tx.ManagingAdminID(ctx, ownerUserID)
		if err != nil {
			return err
		}
		if managerID != nil && *managerID != actor.ID {
			return &AuthorizationError{ActorID: actor.ID, Reason: "user is managed by another admin"}
		}
		return nil
	default:
		return &AuthorizationError{ActorID: actor.ID, Reason: "unknown role"}
	}
}
